package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/stream-reconciler/internal/model"
)

const (
	// StreamName is the name of the agent events stream.
	StreamName = "AGENT_EVENTS"

	// EventSubjectPrefix is the prefix for raw stream event subjects.
	EventSubjectPrefix = "evt"

	// HistorySubjectPrefix is the prefix for persisted history messages.
	HistorySubjectPrefix = "hist"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the events stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	// Create stream
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name: StreamName,
		Subjects: []string{
			fmt.Sprintf("%s.>", EventSubjectPrefix),
			fmt.Sprintf("%s.>", HistorySubjectPrefix),
		},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		MaxBytes:    100 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Raw agent stream fragments and conversation history",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for a raw stream event.
func EventSubject(tenantID, conversationID string, kind model.EventKind) string {
	return fmt.Sprintf("%s.%s.%s.%s", EventSubjectPrefix, tenantID, conversationID, kind)
}

// HistorySubject returns the subject for a persisted history message.
func HistorySubject(tenantID, conversationID, role string) string {
	return fmt.Sprintf("%s.%s.%s.%s", HistorySubjectPrefix, tenantID, conversationID, role)
}

// PublishEvent publishes a raw stream event fragment.
func (m *StreamManager) PublishEvent(ctx context.Context, tenantID, conversationID string, ev model.StreamEvent) (uint64, error) {
	kind := ev.Kind
	if kind == "" {
		kind = model.KindOther
	}
	subject := EventSubject(tenantID, conversationID, kind)

	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// PublishHistory publishes a conversation history message.
func (m *StreamManager) PublishHistory(ctx context.Context, tenantID, conversationID string, msg model.HistoryMessage) (uint64, error) {
	role := msg.Role
	if role == "" {
		role = "unknown"
	}
	subject := HistorySubject(tenantID, conversationID, role)

	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal history message: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish history message: %w", err)
	}

	return ack.Sequence, nil
}

// GetEvents retrieves raw event fragments for a conversation, in stream order,
// starting after a sequence. Fragments that fail to decode are skipped.
func (m *StreamManager) GetEvents(ctx context.Context, tenantID, conversationID string, afterSequence uint64, limit int) ([]model.StreamEvent, uint64, bool, error) {
	filter := fmt.Sprintf("%s.%s.%s.>", EventSubjectPrefix, tenantID, conversationID)

	var events []model.StreamEvent
	lastSequence, fetched, err := m.fetch(ctx, filter, afterSequence, limit, func(data []byte) {
		var ev model.StreamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		events = append(events, ev)
	})
	if err != nil {
		return nil, 0, false, err
	}

	return events, lastSequence, fetched == limit, nil
}

// GetHistory retrieves persisted history messages in stream order (oldest
// first). Messages that fail to decode are skipped.
func (m *StreamManager) GetHistory(ctx context.Context, tenantID, conversationID string, limit int) ([]model.HistoryMessage, error) {
	filter := fmt.Sprintf("%s.%s.%s.>", HistorySubjectPrefix, tenantID, conversationID)

	var messages []model.HistoryMessage
	_, _, err := m.fetch(ctx, filter, 0, limit, func(data []byte) {
		var msg model.HistoryMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		messages = append(messages, msg)
	})
	if err != nil {
		return nil, err
	}

	return messages, nil
}

// fetch drains up to limit messages from an ephemeral consumer on the given
// filter subject and hands each payload to collect.
func (m *StreamManager) fetch(ctx context.Context, filterSubject string, afterSequence uint64, limit int, collect func([]byte)) (uint64, int, error) {
	js := m.client.JetStream()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}

	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create consumer: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch messages: %w", err)
	}

	var lastSequence uint64
	var fetched int

drain:
	for msg := range batch.Messages() {
		select {
		case <-fetchCtx.Done():
			break drain
		default:
		}

		if meta, err := msg.Metadata(); err == nil {
			lastSequence = meta.Sequence.Stream
		}
		fetched++
		collect(msg.Data())
	}

	if batch.Error() != nil && batch.Error() != context.DeadlineExceeded {
		return 0, 0, fmt.Errorf("batch error: %w", batch.Error())
	}

	return lastSequence, fetched, nil
}
