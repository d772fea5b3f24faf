package service

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/stream-reconciler/internal/history"
	"github.com/capitalize-ai/stream-reconciler/internal/llm"
	"github.com/capitalize-ai/stream-reconciler/internal/model"
	"github.com/capitalize-ai/stream-reconciler/pkg/logger"
	"github.com/capitalize-ai/stream-reconciler/pkg/metrics"
)

// historyFetchLimit caps how many persisted turns one prompt build reads.
const historyFetchLimit = 256

// HistoryStore persists prior conversation turns in whatever shape their
// producer used.
type HistoryStore interface {
	PublishHistory(ctx context.Context, tenantID, conversationID string, msg model.HistoryMessage) (uint64, error)
	GetHistory(ctx context.Context, tenantID, conversationID string, limit int) ([]model.HistoryMessage, error)
}

// PromptService builds history prompt sections and runs completions
// grounded on them.
type PromptService struct {
	store       HistoryStore
	llmClient   llm.Client
	maxMessages int
	logger      *logger.Logger
}

// NewPromptService creates a new prompt service. maxMessages bounds the
// history window; zero means the extractor default.
func NewPromptService(store HistoryStore, llmClient llm.Client, maxMessages int, log *logger.Logger) *PromptService {
	return &PromptService{
		store:       store,
		llmClient:   llmClient,
		maxMessages: maxMessages,
		logger:      log,
	}
}

// AppendHistory persists conversation turns for later prompt builds.
func (s *PromptService) AppendHistory(ctx context.Context, tenantID, conversationID string, messages []model.HistoryMessage) (int, error) {
	appended := 0
	for _, msg := range messages {
		if _, err := s.store.PublishHistory(ctx, tenantID, conversationID, msg); err != nil {
			return appended, fmt.Errorf("failed to persist history message: %w", err)
		}
		appended++
	}
	return appended, nil
}

// BuildPrompt renders the recent-history section for a conversation. An
// empty string means the conversation has no usable history and the section
// should be omitted.
func (s *PromptService) BuildPrompt(ctx context.Context, tenantID, conversationID string) (*model.PromptResponse, error) {
	stored, err := s.store.GetHistory(ctx, tenantID, conversationID, historyFetchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	// The store returns oldest-first; the formatter wants newest-first.
	newestFirst := make([]model.HistoryMessage, len(stored))
	for i, msg := range stored {
		newestFirst[len(stored)-1-i] = msg
	}

	prompt := history.Format(newestFirst, s.maxMessages)

	outcome := "rendered"
	if prompt == "" {
		outcome = "empty"
	}
	metrics.PromptBuildsTotal.WithLabelValues(tenantID, outcome).Inc()

	return &model.PromptResponse{
		Prompt:       prompt,
		MessageCount: len(stored),
	}, nil
}

// Complete runs an LLM completion over the history section plus the user's
// input. onToken, when non-nil, receives streamed tokens.
func (s *PromptService) Complete(ctx context.Context, tenantID, conversationID string, req *model.CompleteRequest, onToken llm.StreamCallback) (*model.CompleteResponse, error) {
	if s.llmClient == nil {
		return nil, fmt.Errorf("no LLM provider configured")
	}

	promptResp, err := s.BuildPrompt(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}

	var messages []llm.ChatMessage
	if promptResp.Prompt != "" {
		messages = append(messages, llm.ChatMessage{Role: "system", Content: promptResp.Prompt})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: req.Input})

	completionReq := &llm.CompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}

	var resp *llm.CompletionResponse
	if onToken != nil {
		resp, err = s.llmClient.CompleteStream(ctx, completionReq, onToken)
	} else {
		resp, err = s.llmClient.Complete(ctx, completionReq)
	}
	if err != nil {
		metrics.RecordLLMStream(req.Model, "error", 0, 0, 0)
		return nil, fmt.Errorf("LLM completion failed: %w", err)
	}

	metrics.RecordLLMStream(resp.Model, "success", float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)

	return &model.CompleteResponse{
		Content:    resp.Content,
		Model:      resp.Model,
		TokensIn:   resp.TokensIn,
		TokensOut:  resp.TokensOut,
		StopReason: resp.StopReason,
		LatencyMs:  resp.LatencyMs,
	}, nil
}
