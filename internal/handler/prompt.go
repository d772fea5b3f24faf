package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/stream-reconciler/internal/middleware"
	"github.com/capitalize-ai/stream-reconciler/internal/model"
	"github.com/capitalize-ai/stream-reconciler/internal/service"
	"github.com/capitalize-ai/stream-reconciler/pkg/logger"
	"github.com/capitalize-ai/stream-reconciler/pkg/metrics"
)

// PromptHandler handles history and prompt endpoints.
type PromptHandler struct {
	promptService       *service.PromptService
	conversationService *service.ConversationService
	logger              *logger.Logger
}

// NewPromptHandler creates a new prompt handler.
func NewPromptHandler(
	promptSvc *service.PromptService,
	convSvc *service.ConversationService,
	log *logger.Logger,
) *PromptHandler {
	return &PromptHandler{
		promptService:       promptSvc,
		conversationService: convSvc,
		logger:              log,
	}
}

// AppendHistory handles POST /api/v1/conversations/:id/history
func (h *PromptHandler) AppendHistory(w http.ResponseWriter, r *http.Request) {
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

	var req model.AppendHistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages cannot be empty")
		return
	}

	appended, err := h.promptService.AppendHistory(ctx, tenantID, conversationID, req.Messages)
	if err != nil {
		h.logger.Error("failed to append history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to append history")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int{"appended": appended})
}

// GetPrompt handles GET /api/v1/conversations/:id/prompt
func (h *PromptHandler) GetPrompt(w http.ResponseWriter, r *http.Request) {
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

	resp, err := h.promptService.BuildPrompt(ctx, tenantID, conversationID)
	if err != nil {
		h.logger.Error("failed to build prompt", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build prompt")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Complete handles POST /api/v1/conversations/:id/complete
// With ?stream=true the response is SSE: token events followed by a final
// completion event.
func (h *PromptHandler) Complete(w http.ResponseWriter, r *http.Request) {
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

	var req model.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidatePromptInput(req.Input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.URL.Query().Get("stream") != "true" {
		resp, err := h.promptService.Complete(ctx, tenantID, conversationID, &req, nil)
		if err != nil {
			h.logger.Error("completion failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, "completion failed")
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	// Streaming response
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

	resp, err := h.promptService.Complete(ctx, tenantID, conversationID, &req, func(token string, index int) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return sendSSEEvent(w, flusher, "token", map[string]any{
			"token": token,
			"index": index,
		})
	})
	if err != nil {
		sendSSEEvent(w, flusher, "error", map[string]string{
			"code":    "completion_error",
			"message": err.Error(),
		})
		return
	}

	sendSSEEvent(w, flusher, "completion", resp)
	sendSSEEvent(w, flusher, "done", map[string]bool{"success": true})
}
