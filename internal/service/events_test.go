package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/stream-reconciler/internal/model"
	"github.com/capitalize-ai/stream-reconciler/pkg/logger"
)

type fakeEventStore struct {
	events  []model.StreamEvent
	nextSeq uint64
}

func (s *fakeEventStore) PublishEvent(ctx context.Context, tenantID, conversationID string, ev model.StreamEvent) (uint64, error) {
	s.events = append(s.events, ev)
	s.nextSeq++
	return s.nextSeq, nil
}

func (s *fakeEventStore) GetEvents(ctx context.Context, tenantID, conversationID string, afterSequence uint64, limit int) ([]model.StreamEvent, uint64, bool, error) {
	return s.events, s.nextSeq, false, nil
}

func newTestEventService(store EventStore) *EventService {
	log, _ := logger.New("error")
	return NewEventService(store, NewConversationService(log), log)
}

func TestIngestAndGetRecords(t *testing.T) {
	svc := newTestEventService(&fakeEventStore{})
	ctx := context.Background()

	resp, err := svc.Ingest(ctx, "t1", "c1", []model.StreamEvent{
		{Role: model.RoleAssistant, Kind: model.KindMarkdown, MessageID: "m1", Timestamp: 1, Content: "He"},
		{Role: model.RoleAssistant, Kind: model.KindMarkdown, MessageID: "m1", Timestamp: 2, Content: "llo"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Accepted)

	records, err := svc.GetRecords(ctx, "t1", "c1", 0, 0)
	require.NoError(t, err)
	require.Len(t, records.Records, 1)
	assert.Equal(t, "Hello", records.Records[0].Content)
	assert.True(t, records.Records[0].IsMerged)
	assert.Equal(t, 2, records.Records[0].OriginalFragments)
	assert.Equal(t, 2, records.OriginalFragments)
}

// Conversation counters are best-effort: an event stream whose conversation
// was never registered (or was registered on another instance) still ingests
// and reconciles.
func TestEventServiceToleratesUnregisteredConversation(t *testing.T) {
	svc := newTestEventService(&fakeEventStore{})
	ctx := context.Background()

	_, err := svc.Ingest(ctx, "t1", "never-registered", []model.StreamEvent{
		{Role: model.RoleUser, Kind: model.KindMarkdown, Timestamp: 1, Content: "hi"},
	})
	require.NoError(t, err)

	records, err := svc.GetRecords(ctx, "t1", "never-registered", 0, 0)
	require.NoError(t, err)
	assert.Len(t, records.Records, 1)
}
