package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/stream-reconciler/internal/middleware"
	"github.com/capitalize-ai/stream-reconciler/internal/reconcile"
	"github.com/capitalize-ai/stream-reconciler/internal/service"
	"github.com/capitalize-ai/stream-reconciler/pkg/logger"
	"github.com/capitalize-ai/stream-reconciler/pkg/metrics"
	"go.uber.org/zap"
)

// StreamHandler handles SSE streaming of reconciled records.
type StreamHandler struct {
	eventService        *service.EventService
	conversationService *service.ConversationService
	logger              *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(
	evtSvc *service.EventService,
	convSvc *service.ConversationService,
	log *logger.Logger,
) *StreamHandler {
	return &StreamHandler{
		eventService:        evtSvc,
		conversationService: convSvc,
		logger:              log,
	}
}

// ReplayCompleteEvent marks the end of the reconciled replay.
type ReplayCompleteEvent struct {
	LastSequence      uint64 `json:"last_sequence"`
	RecordCount       int    `json:"record_count"`
	OriginalFragments int    `json:"original_fragments"`
}

// Stream handles GET /api/v1/conversations/:id/stream
// Raw fragments are replayed through an incremental reconciler, so the
// client receives whole records, not fragments. Supports ?after_sequence=N
// for resuming from a specific point.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.conversationService.Get(ctx, tenantID, conversationID); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var afterSequence uint64
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		if seq, err := strconv.ParseUint(seqStr, 10, 64); err == nil {
			afterSequence = seq
		}
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	done := ctx.Done()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	// Drain the raw fragment backlog into an incremental reconciler; the
	// compacted view goes out once the backlog is consumed.
	reconciler := reconcile.NewReconciler()
	var lastSequence uint64

	for {
		select {
		case <-done:
			return
		default:
		}

		events, lastSeq, hasMore, err := h.eventService.GetEvents(ctx, tenantID, conversationID, afterSequence, 500)
		if err != nil {
			h.logger.Error("failed to replay events",
				zap.Error(err),
				zap.String("conversation_id", conversationID),
			)
			sendSSEEvent(w, flusher, "error", map[string]string{
				"code":    "replay_error",
				"message": "failed to replay events",
			})
			break
		}

		for _, ev := range events {
			reconciler.Append(ev)
		}
		if lastSeq > 0 {
			lastSequence = lastSeq
		}

		if !hasMore {
			break
		}
		afterSequence = lastSeq
	}

	records := reconciler.Records()
	for _, rec := range records {
		select {
		case <-done:
			return
		default:
		}
		sendSSEEvent(w, flusher, "record", rec)
	}

	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastSequence:      lastSequence,
		RecordCount:       len(records),
		OriginalFragments: reconciler.Len(),
	})

	h.logger.Info("record replay complete",
		zap.String("conversation_id", conversationID),
		zap.Int("fragments", reconciler.Len()),
		zap.Int("records", len(records)),
		zap.Uint64("last_sequence", lastSequence),
	)

	// Keep the connection alive for clients that poll the cursor.
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			h.logger.Info("SSE client disconnected", zap.String("conversation_id", conversationID))
			return

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]any{
				"timestamp": time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
