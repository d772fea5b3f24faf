// Package model defines data structures for the stream reconciler.
package model

import (
	"encoding/json"
	"strconv"
)

// Role represents the author of a stream event.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// EventKind represents the payload type of a stream event.
type EventKind string

const (
	KindTaskID   EventKind = "task_id"
	KindMarkdown EventKind = "markdown"
	KindTool     EventKind = "tool"
	KindCard     EventKind = "card"
	KindOther    EventKind = "other"
)

// StreamEvent is one fragment emitted by an agent stream. Producers attach
// arbitrary extra fields; those survive JSON round-trips via Extra and are
// carried on the representative fragment of a merged run.
type StreamEvent struct {
	Role      Role
	Kind      EventKind
	MessageID string
	Timestamp float64
	Content   string
	Extra     map[string]any
}

// MergedRecord is a reconciled stream event. IsMerged is true when the record
// was built from two or more fragments of the same logical message.
type MergedRecord struct {
	StreamEvent
	IsMerged          bool
	OriginalFragments int
}

// reservedEventKeys are the StreamEvent fields handled explicitly during
// JSON round-trips; everything else lands in Extra.
var reservedEventKeys = map[string]bool{
	"role":       true,
	"kind":       true,
	"type":       true,
	"message_id": true,
	"timestamp":  true,
	"content":    true,
}

// UnmarshalJSON decodes a producer event leniently: unknown fields are kept
// in Extra, a missing message_id becomes the empty identity, and a missing
// or non-numeric timestamp defaults to 0 instead of failing the record.
func (e *StreamEvent) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["role"].(string); ok {
		e.Role = Role(v)
	}
	// Some producers label the payload type "type" rather than "kind".
	if v, ok := raw["kind"].(string); ok {
		e.Kind = EventKind(v)
	} else if v, ok := raw["type"].(string); ok {
		e.Kind = EventKind(v)
	}
	if v, ok := raw["message_id"].(string); ok {
		e.MessageID = v
	}
	e.Timestamp = coerceTimestamp(raw["timestamp"])
	if v, ok := raw["content"].(string); ok {
		e.Content = v
	}

	for k, v := range raw {
		if reservedEventKeys[k] {
			continue
		}
		if e.Extra == nil {
			e.Extra = make(map[string]any)
		}
		e.Extra[k] = v
	}

	return nil
}

// MarshalJSON flattens Extra back alongside the typed fields so persisted
// events keep the shape their producer sent.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+5)
	for k, v := range e.Extra {
		if reservedEventKeys[k] {
			continue
		}
		out[k] = v
	}
	out["role"] = e.Role
	out["kind"] = e.Kind
	out["timestamp"] = e.Timestamp
	if e.MessageID != "" {
		out["message_id"] = e.MessageID
	}
	if e.Content != "" {
		out["content"] = e.Content
	}
	return json.Marshal(out)
}

// MarshalJSON emits the flattened event shape plus the two reconciliation tags.
func (r MergedRecord) MarshalJSON() ([]byte, error) {
	data, err := r.StreamEvent.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	out["is_merged"] = r.IsMerged
	out["original_fragments"] = r.OriginalFragments
	return json.Marshal(out)
}

// UnmarshalJSON restores a persisted merged record, tolerating records that
// predate the reconciliation tags.
func (r *MergedRecord) UnmarshalJSON(data []byte) error {
	if err := r.StreamEvent.UnmarshalJSON(data); err != nil {
		return err
	}
	if r.Extra != nil {
		if v, ok := r.Extra["is_merged"].(bool); ok {
			r.IsMerged = v
			delete(r.Extra, "is_merged")
		}
		if v, ok := r.Extra["original_fragments"].(float64); ok {
			r.OriginalFragments = int(v)
			delete(r.Extra, "original_fragments")
		}
		if len(r.Extra) == 0 {
			r.Extra = nil
		}
	}
	if r.OriginalFragments < 1 {
		r.OriginalFragments = 1
	}
	return nil
}

func coerceTimestamp(v any) float64 {
	switch ts := v.(type) {
	case float64:
		return ts
	case string:
		if f, err := strconv.ParseFloat(ts, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := ts.Float64(); err == nil {
			return f
		}
	}
	return 0
}

// IngestEventsRequest is the request body for appending raw fragments.
type IngestEventsRequest struct {
	Events []StreamEvent `json:"events"`
}

// IngestEventsResponse reports how many fragments were accepted.
type IngestEventsResponse struct {
	Accepted     int    `json:"accepted"`
	LastSequence uint64 `json:"last_sequence"`
}

// ListRecordsResponse is the response for listing reconciled records.
type ListRecordsResponse struct {
	Records           []MergedRecord `json:"records"`
	OriginalFragments int            `json:"original_fragments"`
	LastSequence      uint64         `json:"last_sequence"`
	HasMore           bool           `json:"has_more"`
}
