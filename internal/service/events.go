package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/stream-reconciler/internal/model"
	"github.com/capitalize-ai/stream-reconciler/internal/reconcile"
	"github.com/capitalize-ai/stream-reconciler/pkg/logger"
	"github.com/capitalize-ai/stream-reconciler/pkg/metrics"
)

// EventStore persists raw stream fragments per conversation.
type EventStore interface {
	PublishEvent(ctx context.Context, tenantID, conversationID string, ev model.StreamEvent) (uint64, error)
	GetEvents(ctx context.Context, tenantID, conversationID string, afterSequence uint64, limit int) ([]model.StreamEvent, uint64, bool, error)
}

// EventService ingests raw stream fragments and serves reconciled records.
type EventService struct {
	store               EventStore
	conversationService *ConversationService
	logger              *logger.Logger
}

// NewEventService creates a new event service.
func NewEventService(store EventStore, conversationService *ConversationService, log *logger.Logger) *EventService {
	return &EventService{
		store:               store,
		conversationService: conversationService,
		logger:              log,
	}
}

// Ingest appends raw fragments to a conversation's event stream.
func (s *EventService) Ingest(ctx context.Context, tenantID, conversationID string, events []model.StreamEvent) (*model.IngestEventsResponse, error) {
	var lastSeq uint64
	accepted := 0

	for _, ev := range events {
		seq, err := s.store.PublishEvent(ctx, tenantID, conversationID, ev)
		if err != nil {
			return nil, fmt.Errorf("failed to publish event: %w", err)
		}
		lastSeq = seq
		accepted++

		kind := ev.Kind
		if kind == "" {
			kind = model.KindOther
		}
		metrics.EventsIngestedTotal.WithLabelValues(tenantID, string(kind)).Inc()
	}

	if err := s.conversationService.RecordIngest(ctx, tenantID, conversationID, accepted); err != nil {
		s.logger.Debug("conversation counters not updated", zap.Error(err))
	}

	return &model.IngestEventsResponse{
		Accepted:     accepted,
		LastSequence: lastSeq,
	}, nil
}

// GetRecords fetches a conversation's raw fragments and returns the
// compacted view.
func (s *EventService) GetRecords(ctx context.Context, tenantID, conversationID string, afterSequence uint64, limit int) (*model.ListRecordsResponse, error) {
	if limit <= 0 {
		limit = 500
	}
	if limit > 1000 {
		limit = 1000
	}

	events, lastSeq, hasMore, err := s.store.GetEvents(ctx, tenantID, conversationID, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	start := time.Now()
	records := reconcile.Reconcile(events)

	mergeRuns := 0
	for _, rec := range records {
		if rec.IsMerged {
			mergeRuns++
		}
	}
	metrics.RecordReconcile(time.Since(start).Seconds(), len(events), len(records), mergeRuns)

	if err := s.conversationService.RecordReconciled(ctx, tenantID, conversationID, len(records)); err != nil {
		s.logger.Debug("conversation counters not updated", zap.Error(err))
	}

	return &model.ListRecordsResponse{
		Records:           records,
		OriginalFragments: len(events),
		LastSequence:      lastSeq,
		HasMore:           hasMore,
	}, nil
}

// GetEvents fetches raw fragments without reconciling, for replay cursors.
func (s *EventService) GetEvents(ctx context.Context, tenantID, conversationID string, afterSequence uint64, limit int) ([]model.StreamEvent, uint64, bool, error) {
	return s.store.GetEvents(ctx, tenantID, conversationID, afterSequence, limit)
}
