package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/stream-reconciler/internal/llm"
	"github.com/capitalize-ai/stream-reconciler/internal/model"
	"github.com/capitalize-ai/stream-reconciler/pkg/logger"
)

type fakeHistoryStore struct {
	messages []model.HistoryMessage
	nextSeq  uint64
}

func (s *fakeHistoryStore) PublishHistory(ctx context.Context, tenantID, conversationID string, msg model.HistoryMessage) (uint64, error) {
	s.messages = append(s.messages, msg)
	s.nextSeq++
	return s.nextSeq, nil
}

func (s *fakeHistoryStore) GetHistory(ctx context.Context, tenantID, conversationID string, limit int) ([]model.HistoryMessage, error) {
	if len(s.messages) > limit {
		return s.messages[:limit], nil
	}
	return s.messages, nil
}

type fakeLLMClient struct {
	lastReq *llm.CompletionRequest
}

func (c *fakeLLMClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.lastReq = req
	return &llm.CompletionResponse{Content: "ok", Model: "fake", StopReason: "stop"}, nil
}

func (c *fakeLLMClient) CompleteStream(ctx context.Context, req *llm.CompletionRequest, callback llm.StreamCallback) (*llm.CompletionResponse, error) {
	c.lastReq = req
	for i, tok := range []string{"o", "k"} {
		if err := callback(tok, i); err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{Content: "ok", Model: "fake", StopReason: "stop"}, nil
}

func (c *fakeLLMClient) Name() string     { return "fake" }
func (c *fakeLLMClient) Models() []string { return []string{"fake"} }

func historyMsg(t *testing.T, raw string) model.HistoryMessage {
	t.Helper()
	var msg model.HistoryMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	return msg
}

func newTestPromptService(store HistoryStore, client llm.Client) *PromptService {
	log, _ := logger.New("error")
	return NewPromptService(store, client, 5, log)
}

func TestBuildPromptRendersStoredHistory(t *testing.T) {
	store := &fakeHistoryStore{}
	svc := newTestPromptService(store, nil)
	ctx := context.Background()

	appended, err := svc.AppendHistory(ctx, "t1", "c1", []model.HistoryMessage{
		historyMsg(t, `{"role": "user", "content": "Hi"}`),
		historyMsg(t, `{"role": "assistant", "steps": {"assistant_answer": "Hello!"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, appended)

	resp, err := svc.BuildPrompt(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "## Recent conversation history\n用户: Hi\n助手: Hello!\n\n", resp.Prompt)
	assert.Equal(t, 2, resp.MessageCount)
}

func TestBuildPromptEmptyConversation(t *testing.T) {
	svc := newTestPromptService(&fakeHistoryStore{}, nil)

	resp, err := svc.BuildPrompt(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Empty(t, resp.Prompt)
	assert.Zero(t, resp.MessageCount)
}

func TestBuildPromptKeepsNewestTurns(t *testing.T) {
	store := &fakeHistoryStore{}
	svc := newTestPromptService(store, nil)
	ctx := context.Background()

	var msgs []model.HistoryMessage
	for _, text := range []string{"one", "two", "three", "four", "five", "six", "seven"} {
		msgs = append(msgs, historyMsg(t, `{"role": "user", "content": "`+text+`"}`))
	}
	_, err := svc.AppendHistory(ctx, "t1", "c1", msgs)
	require.NoError(t, err)

	resp, err := svc.BuildPrompt(ctx, "t1", "c1")
	require.NoError(t, err)

	// Only the newest five survive, oldest of those first.
	assert.NotContains(t, resp.Prompt, "用户: one\n")
	assert.NotContains(t, resp.Prompt, "用户: two\n")
	assert.Contains(t, resp.Prompt, "用户: three\n用户: four\n用户: five\n用户: six\n用户: seven\n")
}

func TestCompleteInjectsHistoryAsSystemMessage(t *testing.T) {
	store := &fakeHistoryStore{}
	client := &fakeLLMClient{}
	svc := newTestPromptService(store, client)
	ctx := context.Background()

	_, err := svc.AppendHistory(ctx, "t1", "c1", []model.HistoryMessage{
		historyMsg(t, `{"role": "user", "content": "Hi"}`),
	})
	require.NoError(t, err)

	resp, err := svc.Complete(ctx, "t1", "c1", &model.CompleteRequest{Input: "what next?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	require.Len(t, client.lastReq.Messages, 2)
	assert.Equal(t, "system", client.lastReq.Messages[0].Role)
	assert.Contains(t, client.lastReq.Messages[0].Content, "## Recent conversation history")
	assert.Equal(t, "user", client.lastReq.Messages[1].Role)
	assert.Equal(t, "what next?", client.lastReq.Messages[1].Content)
}

func TestCompleteOmitsSystemMessageWithoutHistory(t *testing.T) {
	client := &fakeLLMClient{}
	svc := newTestPromptService(&fakeHistoryStore{}, client)

	_, err := svc.Complete(context.Background(), "t1", "c1", &model.CompleteRequest{Input: "hello"}, nil)
	require.NoError(t, err)

	require.Len(t, client.lastReq.Messages, 1)
	assert.Equal(t, "user", client.lastReq.Messages[0].Role)
}

func TestCompleteStreamsTokens(t *testing.T) {
	client := &fakeLLMClient{}
	svc := newTestPromptService(&fakeHistoryStore{}, client)

	var tokens []string
	_, err := svc.Complete(context.Background(), "t1", "c1", &model.CompleteRequest{Input: "hello"}, func(token string, index int) error {
		tokens = append(tokens, token)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"o", "k"}, tokens)
}

func TestCompleteWithoutProvider(t *testing.T) {
	svc := newTestPromptService(&fakeHistoryStore{}, nil)

	_, err := svc.Complete(context.Background(), "t1", "c1", &model.CompleteRequest{Input: "hello"}, nil)
	assert.Error(t, err)
}
