package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/stream-reconciler/internal/middleware"
	"github.com/capitalize-ai/stream-reconciler/internal/model"
	"github.com/capitalize-ai/stream-reconciler/internal/service"
	"github.com/capitalize-ai/stream-reconciler/pkg/logger"
)

// EventHandler handles raw event ingestion and reconciled record listing.
type EventHandler struct {
	eventService        *service.EventService
	conversationService *service.ConversationService
	logger              *logger.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(
	evtSvc *service.EventService,
	convSvc *service.ConversationService,
	log *logger.Logger,
) *EventHandler {
	return &EventHandler{
		eventService:        evtSvc,
		conversationService: convSvc,
		logger:              log,
	}
}

// Ingest handles POST /api/v1/conversations/:id/events
func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
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

	var req model.IngestEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateEventBatch(req.Events); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.eventService.Ingest(ctx, tenantID, conversationID, req.Events)
	if err != nil {
		h.logger.Error("failed to ingest events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to ingest events")
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// ListRecords handles GET /api/v1/conversations/:id/records
func (h *EventHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
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

	afterSequence := uint64(0)
	limit := 500

	if seq := r.URL.Query().Get("after_sequence"); seq != "" {
		if parsed, err := strconv.ParseUint(seq, 10, 64); err == nil {
			afterSequence = parsed
		}
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	resp, err := h.eventService.GetRecords(ctx, tenantID, conversationID, afterSequence, limit)
	if err != nil {
		h.logger.Error("failed to get records", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get records")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
