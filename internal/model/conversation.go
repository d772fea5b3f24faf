package model

import (
	"time"
)

// Conversation tracks one event stream being reconciled.
type Conversation struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	UserID        string            `json:"user_id"`
	Title         string            `json:"title"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	FragmentCount int               `json:"fragment_count,omitempty"`
	RecordCount   int               `json:"record_count,omitempty"`
	LastEventAt   *time.Time        `json:"last_event_at,omitempty"`
	Deleted       bool              `json:"deleted,omitempty"`
}

// CreateConversationRequest is the request to register a new conversation.
type CreateConversationRequest struct {
	Title    string            `json:"title"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"has_more"`
}
