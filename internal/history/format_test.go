package history

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/stream-reconciler/internal/model"
)

func userMessage(text string) model.HistoryMessage {
	return model.HistoryMessage{
		Role:    "user",
		Content: []any{map[string]any{"type": "input_text", "text": text}},
	}
}

func assistantSteps(answer string) model.HistoryMessage {
	return model.HistoryMessage{
		Role:  "assistant",
		Steps: map[string]any{"assistant_answer": answer},
	}
}

func TestFormatEmptyInput(t *testing.T) {
	assert.Equal(t, "", Format(nil, 5))
	assert.Equal(t, "", Format([]model.HistoryMessage{}, 5))
}

func TestFormatUserAndAssistantLines(t *testing.T) {
	// Input is newest-first; output reads oldest-first.
	got := Format([]model.HistoryMessage{
		assistantSteps("Hello!"),
		userMessage("Hi"),
	}, 5)

	assert.Equal(t, "## Recent conversation history\n用户: Hi\n助手: Hello!\n\n", got)
}

func TestFormatReversesToOldestFirst(t *testing.T) {
	got := Format([]model.HistoryMessage{
		userMessage("second"),
		userMessage("first"),
	}, 5)

	first := strings.Index(got, "first")
	second := strings.Index(got, "second")
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, second, 0)
	assert.Less(t, first, second)
}

func TestFormatWindowLimitsMessages(t *testing.T) {
	messages := []model.HistoryMessage{
		userMessage("newest"),
		userMessage("kept"),
		userMessage("outside window"),
	}

	got := Format(messages, 2)

	assert.Contains(t, got, "newest")
	assert.Contains(t, got, "kept")
	assert.NotContains(t, got, "outside window")
}

func TestFormatDefaultWindow(t *testing.T) {
	messages := make([]model.HistoryMessage, 8)
	for i := range messages {
		messages[i] = userMessage(strings.Repeat("x", i+1))
	}

	got := Format(messages, 0)

	assert.True(t, strings.HasPrefix(got, header+"\n"))
	assert.Equal(t, 5, strings.Count(got, "用户: "))
}

func TestFormatJoinsUserInputTextItems(t *testing.T) {
	msg := model.HistoryMessage{
		Role: "user",
		Content: []any{
			map[string]any{"type": "input_text", "text": "part one"},
			map[string]any{"type": "image", "url": "ignored"},
			map[string]any{"type": "input_text", "text": "part two"},
		},
	}

	got := Format([]model.HistoryMessage{msg}, 5)

	assert.Contains(t, got, "用户: part one part two")
}

func TestFormatPlainStringUserContent(t *testing.T) {
	got := Format([]model.HistoryMessage{
		assistantSteps("Hello!"),
		{Role: "user", Content: "Hi"},
	}, 5)

	assert.Equal(t, "## Recent conversation history\n用户: Hi\n助手: Hello!\n\n", got)
}

func TestFormatTruncatesTo200Runes(t *testing.T) {
	long := strings.Repeat("宽", 300)
	got := Format([]model.HistoryMessage{assistantSteps(long)}, 5)

	line := lineWithPrefix(t, got, "助手: ")
	assert.Equal(t, 200, len([]rune(strings.TrimPrefix(line, "助手: "))))
}

func TestFormatDropsUnextractableMessages(t *testing.T) {
	got := Format([]model.HistoryMessage{
		assistantSteps("kept"),
		{Role: "assistant", Steps: map[string]any{"unknown_key": "lost"}},
		{Role: "system", Fields: map[string]any{"answer": "never rendered"}},
	}, 5)

	assert.Contains(t, got, "kept")
	assert.NotContains(t, got, "lost")
	assert.NotContains(t, got, "never rendered")
}

func TestFormatAllMessagesDropped(t *testing.T) {
	got := Format([]model.HistoryMessage{
		{Role: "assistant"},
		{Role: "user", Content: ""},
		{Role: "user", Content: float64(7)},
	}, 5)

	assert.Equal(t, "", got)
}

func TestExtractPrecedenceAssistantAnswerWins(t *testing.T) {
	msg := model.HistoryMessage{
		Role: "assistant",
		Steps: map[string]any{
			"assistant_answer": "current",
			"final_answer":     "legacy",
		},
		Fields: map[string]any{"answer": "oldest"},
	}

	answer, ok := extractAnswer(msg)
	require.True(t, ok)
	assert.Equal(t, "current", answer)
}

func TestExtractLegacyFinalAnswer(t *testing.T) {
	msg := model.HistoryMessage{
		Role:  "assistant",
		Steps: map[string]any{"final_answer": "legacy answer"},
	}

	answer, ok := extractAnswer(msg)
	require.True(t, ok)
	assert.Equal(t, "legacy answer", answer)
}

func TestExtractOutputTextFromContentList(t *testing.T) {
	msg := model.HistoryMessage{
		Role: "assistant",
		Content: []any{
			map[string]any{"type": "reasoning", "text": "hidden"},
			map[string]any{"type": "output_text", "text": "visible"},
		},
	}

	answer, ok := extractAnswer(msg)
	require.True(t, ok)
	assert.Equal(t, "visible", answer)
}

func TestExtractOutputTextFromEncodedContent(t *testing.T) {
	msg := model.HistoryMessage{
		Role:    "assistant",
		Content: `[{"type":"output_text","text":"decoded"}]`,
	}

	answer, ok := extractAnswer(msg)
	require.True(t, ok)
	assert.Equal(t, "decoded", answer)
}

func TestExtractUnparseableContentFallsThrough(t *testing.T) {
	msg := model.HistoryMessage{
		Role:    "assistant",
		Content: `{not valid json`,
		Fields:  map[string]any{"answer": "fallback"},
	}

	answer, ok := extractAnswer(msg)
	require.True(t, ok)
	assert.Equal(t, "fallback", answer)
}

func TestExtractStepsList(t *testing.T) {
	msg := model.HistoryMessage{
		Role: "assistant",
		Steps: []any{
			map[string]any{"type": "tool_call", "content": "ignored"},
			map[string]any{"type": "final_answer", "content": "from list"},
		},
	}

	answer, ok := extractAnswer(msg)
	require.True(t, ok)
	assert.Equal(t, "from list", answer)
}

func TestExtractTopLevelScalarOrder(t *testing.T) {
	msg := model.HistoryMessage{
		Role: "assistant",
		Fields: map[string]any{
			"text":   "text field",
			"answer": "answer field",
		},
	}

	answer, ok := extractAnswer(msg)
	require.True(t, ok)
	assert.Equal(t, "answer field", answer)

	numeric := model.HistoryMessage{
		Role:   "assistant",
		Fields: map[string]any{"response": float64(42)},
	}
	answer, ok = extractAnswer(numeric)
	require.True(t, ok)
	assert.Equal(t, "42", answer)
}

func TestExtractNothingMatches(t *testing.T) {
	_, ok := extractAnswer(model.HistoryMessage{Role: "assistant"})
	assert.False(t, ok)
}

func lineWithPrefix(t *testing.T, s, prefix string) string {
	t.Helper()
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
	t.Fatalf("no line with prefix %q in %q", prefix, s)
	return ""
}
