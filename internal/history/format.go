// Package history renders prior conversation turns into a prompt section.
//
// The message store is append-only and has carried several record shapes over
// its lifetime. Rather than migrating old rows, extraction absorbs the
// variance at read time: each known shape gets a probe, and probes run in a
// fixed precedence order until one yields an answer.
package history

import (
	"strings"

	"github.com/capitalize-ai/stream-reconciler/internal/model"
)

const (
	// DefaultMaxMessages is the history window used when the caller does
	// not supply one.
	DefaultMaxMessages = 5

	// maxLineRunes caps each rendered line's text.
	maxLineRunes = 200

	header = "## Recent conversation history"
)

// Format renders up to maxMessages prior turns as a self-contained Markdown
// section. The input is assumed newest-first and the output reads oldest-
// first. Messages that yield no displayable text are dropped silently, and a
// window with no usable turns renders as the empty string, which callers must
// treat as "omit this section".
func Format(messages []model.HistoryMessage, maxMessages int) string {
	if len(messages) == 0 {
		return ""
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if len(messages) > maxMessages {
		messages = messages[:maxMessages]
	}

	lines := make([]string, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		switch msg.Role {
		case "user":
			if text := userText(msg); text != "" {
				lines = append(lines, "用户: "+truncate(text))
			}
		case "assistant":
			if answer, ok := extractAnswer(msg); ok {
				lines = append(lines, "助手: "+truncate(answer))
			}
		}
	}

	if len(lines) == 0 {
		return ""
	}

	return header + "\n" + strings.Join(lines, "\n") + "\n\n"
}

// userText joins the text of every input_text content item with a space.
// User turns persisted by older writers carry content as a plain string;
// those render as-is.
func userText(msg model.HistoryMessage) string {
	if text, ok := msg.Content.(string); ok {
		return text
	}

	items, ok := msg.Content.([]any)
	if !ok {
		return ""
	}

	var parts []string
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t != "input_text" {
			continue
		}
		if text, _ := m["text"].(string); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxLineRunes {
		return s
	}
	return string(runes[:maxLineRunes])
}
