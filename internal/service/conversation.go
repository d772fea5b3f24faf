// Package service provides business logic for the stream reconciler.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/stream-reconciler/internal/model"
	"github.com/capitalize-ai/stream-reconciler/pkg/logger"
	"github.com/capitalize-ai/stream-reconciler/pkg/metrics"
)

// ConversationService tracks conversations whose event streams are being
// reconciled. The registry is in-memory; the events themselves live in
// JetStream and survive restarts.
type ConversationService struct {
	logger *logger.Logger

	conversations map[string]*model.Conversation
	mu            sync.RWMutex
}

// NewConversationService creates a new conversation service.
func NewConversationService(log *logger.Logger) *ConversationService {
	return &ConversationService{
		logger:        log,
		conversations: make(map[string]*model.Conversation),
	}
}

// Create registers a new conversation.
func (s *ConversationService) Create(ctx context.Context, tenantID, userID string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	now := time.Now()

	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		UserID:    userID,
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  req.Metadata,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	s.logger.Info("conversation registered",
		zap.String("conversation_id", conv.ID),
		zap.String("tenant_id", tenantID),
	)
	metrics.ConversationsTotal.WithLabelValues(tenantID).Inc()

	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	conv, exists := s.conversations[conversationID]
	s.mu.RUnlock()

	if !exists || conv.TenantID != tenantID || conv.Deleted {
		return nil, fmt.Errorf("conversation not found")
	}

	return conv, nil
}

// List retrieves conversations for a tenant.
func (s *ConversationService) List(ctx context.Context, tenantID string, limit, offset int) (*model.ListConversationsResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.TenantID == tenantID && !conv.Deleted {
			convs = append(convs, *conv)
		}
	}

	total := len(convs)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &model.ListConversationsResponse{
		Conversations: convs[start:end],
		Total:         total,
		HasMore:       end < total,
	}, nil
}

// Delete soft deletes a conversation.
func (s *ConversationService) Delete(ctx context.Context, tenantID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.TenantID != tenantID {
		return fmt.Errorf("conversation not found")
	}

	conv.Deleted = true
	conv.UpdatedAt = time.Now()

	return nil
}

// RecordIngest notes newly accepted fragments on the conversation.
func (s *ConversationService) RecordIngest(ctx context.Context, tenantID, conversationID string, fragments int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.TenantID != tenantID {
		return fmt.Errorf("conversation not found")
	}

	now := time.Now()
	conv.FragmentCount += fragments
	conv.LastEventAt = &now
	conv.UpdatedAt = now

	return nil
}

// RecordReconciled notes the size of the latest compacted view.
func (s *ConversationService) RecordReconciled(ctx context.Context, tenantID, conversationID string, records int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.TenantID != tenantID {
		return fmt.Errorf("conversation not found")
	}

	conv.RecordCount = records
	conv.UpdatedAt = time.Now()

	return nil
}
