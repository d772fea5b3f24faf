package history

import (
	"encoding/json"
	"strconv"

	"github.com/capitalize-ai/stream-reconciler/internal/model"
)

// extractor probes one historical record shape for an assistant answer.
type extractor func(model.HistoryMessage) (string, bool)

// answerExtractors run in precedence order, newest persisted format first.
// Order matters: a record may satisfy several probes and the earliest wins.
var answerExtractors = []extractor{
	stepsAssistantAnswer, // current persisted format
	stepsFinalAnswer,     // legacy steps key
	contentOutputText,    // typed content list, possibly JSON-encoded
	stepsFinalAnswerItem, // steps persisted as a list of typed items
	topLevelScalar,       // oldest rows: bare answer/text/response/message
}

func extractAnswer(msg model.HistoryMessage) (string, bool) {
	for _, probe := range answerExtractors {
		if answer, ok := probe(msg); ok {
			return answer, true
		}
	}
	return "", false
}

func stepsAssistantAnswer(msg model.HistoryMessage) (string, bool) {
	return stepsKey(msg, "assistant_answer")
}

func stepsFinalAnswer(msg model.HistoryMessage) (string, bool) {
	return stepsKey(msg, "final_answer")
}

func stepsKey(msg model.HistoryMessage, key string) (string, bool) {
	steps, ok := msg.Steps.(map[string]any)
	if !ok {
		return "", false
	}
	return stringify(steps[key])
}

// contentOutputText scans the content list for an output_text item. Content
// stored as a string is parsed as JSON first; a parse failure just means this
// probe fails and the chain moves on.
func contentOutputText(msg model.HistoryMessage) (string, bool) {
	content := msg.Content
	if encoded, ok := content.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(encoded), &decoded); err != nil {
			return "", false
		}
		content = decoded
	}

	items, ok := content.([]any)
	if !ok {
		return "", false
	}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t != "output_text" {
			continue
		}
		if text, _ := m["text"].(string); text != "" {
			return text, true
		}
	}
	return "", false
}

func stepsFinalAnswerItem(msg model.HistoryMessage) (string, bool) {
	items, ok := msg.Steps.([]any)
	if !ok {
		return "", false
	}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t != "final_answer" {
			continue
		}
		if answer, ok := stringify(m["content"]); ok {
			return answer, true
		}
	}
	return "", false
}

// scalarFields is the fallback scan order for the oldest record shape.
var scalarFields = [...]string{"answer", "text", "response", "message"}

func topLevelScalar(msg model.HistoryMessage) (string, bool) {
	for _, key := range scalarFields {
		if v, present := msg.Fields[key]; present {
			if s, ok := stringify(v); ok {
				return s, true
			}
		}
	}
	return "", false
}

// stringify converts a scalar to its display string. Empty strings and
// non-scalar values count as absent.
func stringify(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, s != ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(s), true
	case json.Number:
		return s.String(), true
	}
	return "", false
}
