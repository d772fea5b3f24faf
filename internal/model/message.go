package model

import (
	"encoding/json"
)

// HistoryMessage is one prior conversation turn as persisted by the message
// store. The store is append-only and its record shape has changed over time,
// so a message may carry its answer in a structured content list, a
// JSON-encoded content string, a steps mapping, a steps list, or a top-level
// scalar field. No single shape is authoritative; readers probe them in a
// fixed precedence order.
type HistoryMessage struct {
	Role    string
	Content any
	Steps   any
	Fields  map[string]any
}

// UnmarshalJSON keeps the known keys typed and parks every remaining
// top-level field in Fields for the scalar fallback scan.
func (m *HistoryMessage) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["role"].(string); ok {
		m.Role = v
	}
	m.Content = raw["content"]
	m.Steps = raw["steps"]

	delete(raw, "role")
	delete(raw, "content")
	delete(raw, "steps")
	if len(raw) > 0 {
		m.Fields = raw
	}

	return nil
}

// MarshalJSON restores the persisted shape.
func (m HistoryMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+3)
	for k, v := range m.Fields {
		out[k] = v
	}
	out["role"] = m.Role
	if m.Content != nil {
		out["content"] = m.Content
	}
	if m.Steps != nil {
		out["steps"] = m.Steps
	}
	return json.Marshal(out)
}

// AppendHistoryRequest is the request body for appending history messages.
type AppendHistoryRequest struct {
	Messages []HistoryMessage `json:"messages"`
}

// PromptResponse carries the rendered history section for a conversation.
type PromptResponse struct {
	Prompt       string `json:"prompt"`
	MessageCount int    `json:"message_count"`
}

// CompleteRequest asks for an LLM completion grounded on conversation history.
type CompleteRequest struct {
	Input string `json:"input"`
	Model string `json:"model,omitempty"`
}

// CompleteResponse is the LLM completion result.
type CompleteResponse struct {
	Content    string `json:"content"`
	Model      string `json:"model"`
	TokensIn   int    `json:"tokens_in"`
	TokensOut  int    `json:"tokens_out"`
	StopReason string `json:"stop_reason,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
}
