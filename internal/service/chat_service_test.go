package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramanshu-1216/news-agent/internal/backend"
	"github.com/Ramanshu-1216/news-agent/internal/model"
)

// fakeBackend 可编程的问答后端
type fakeBackend struct {
	response  *backend.ChatResponse
	err       error
	lastReq   *backend.ChatRequest
	streamEvs []backend.StreamEvent
}

func (b *fakeBackend) SendMessage(ctx context.Context, req *backend.ChatRequest) (*backend.ChatResponse, error) {
	b.lastReq = req
	if b.err != nil {
		return nil, b.err
	}
	return b.response, nil
}

func (b *fakeBackend) StreamMessage(ctx context.Context, req *backend.ChatRequest) <-chan backend.StreamEvent {
	b.lastReq = req
	events := make(chan backend.StreamEvent, len(b.streamEvs)+1)
	for _, ev := range b.streamEvs {
		events <- ev
	}
	close(events)
	return events
}

func newChatFixture(t *testing.T, sessionIDs ...string) (*ChatService, *fakeSessionRepo, *fakeBackend) {
	t.Helper()
	repo := newFakeSessionRepo(sessionIDs...)
	sessions := NewSessionService(repo, newFakeMessageRepo(), newFakeCache())
	be := &fakeBackend{}
	return NewChatService(sessions, be), repo, be
}

func TestChatSendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("persists user turn then assistant turn", func(t *testing.T) {
		svc, repo, be := newChatFixture(t, "s1")
		be.response = &backend.ChatResponse{
			Response:  "42",
			Citations: []model.Citation{{URL: "https://example.com", Source: "example"}},
		}

		resp, err := svc.SendMessage(ctx, &SendMessageRequest{SessionID: "s1", Message: "what is the answer"})
		require.NoError(t, err)
		assert.Equal(t, "42", resp.Response)
		assert.NotEmpty(t, resp.MessageID)
		require.Len(t, resp.Citations, 1)

		require.Len(t, repo.appended, 2)
		assert.Equal(t, model.MessageRoleUser, repo.appended[0].Role)
		assert.Equal(t, model.MessageRoleAssistant, repo.appended[1].Role)
		assert.Equal(t, "42", repo.appended[1].Content)
		// 未指定分类时落默认值
		assert.Equal(t, model.CategoryDefault, repo.appended[0].Category)
	})

	t.Run("user turn survives a backend failure", func(t *testing.T) {
		svc, repo, be := newChatFixture(t, "s1")
		be.err = backend.ErrUnavailable

		_, err := svc.SendMessage(ctx, &SendMessageRequest{SessionID: "s1", Message: "hello"})
		require.ErrorIs(t, err, backend.ErrUnavailable)

		// 用户消息已落库，助手消息没有
		require.Len(t, repo.appended, 1)
		assert.Equal(t, model.MessageRoleUser, repo.appended[0].Role)
	})

	t.Run("unknown session persists nothing", func(t *testing.T) {
		svc, repo, _ := newChatFixture(t)

		_, err := svc.SendMessage(ctx, &SendMessageRequest{SessionID: "missing", Message: "hello"})
		require.ErrorIs(t, err, ErrSessionNotFound)
		assert.Empty(t, repo.appended)
	})

	t.Run("backend receives query and category", func(t *testing.T) {
		svc, _, be := newChatFixture(t, "s1")
		be.response = &backend.ChatResponse{Response: "ok"}

		_, err := svc.SendMessage(ctx, &SendMessageRequest{SessionID: "s1", Message: "first question", Category: "sports"})
		require.NoError(t, err)

		require.NotNil(t, be.lastReq)
		assert.Equal(t, "first question", be.lastReq.Query)
		assert.Equal(t, "sports", be.lastReq.Category)
	})
}

func TestChatOpenStream(t *testing.T) {
	ctx := context.Background()

	t.Run("appends user message before streaming", func(t *testing.T) {
		svc, repo, be := newChatFixture(t, "s1")
		be.streamEvs = []backend.StreamEvent{
			{Kind: backend.KindChunk, Chunk: "he"},
			{Kind: backend.KindComplete, Response: "hello"},
		}

		events, err := svc.OpenStream(ctx, &SendMessageRequest{SessionID: "s1", Message: "hi"})
		require.NoError(t, err)

		require.Len(t, repo.appended, 1)
		assert.Equal(t, model.MessageRoleUser, repo.appended[0].Role)

		var kinds []backend.EventKind
		for ev := range events {
			kinds = append(kinds, ev.Kind)
		}
		assert.Equal(t, []backend.EventKind{backend.KindChunk, backend.KindComplete}, kinds)
	})

	t.Run("unknown session fails before any stream", func(t *testing.T) {
		svc, repo, _ := newChatFixture(t)

		_, err := svc.OpenStream(ctx, &SendMessageRequest{SessionID: "missing", Message: "hi"})
		require.ErrorIs(t, err, ErrSessionNotFound)
		assert.Empty(t, repo.appended)
	})
}

func TestSaveAssistantMessage(t *testing.T) {
	ctx := context.Background()

	svc, repo, _ := newChatFixture(t, "s1")

	msg, err := svc.SaveAssistantMessage(ctx, "s1", "final answer", nil, "")
	require.NoError(t, err)
	assert.Equal(t, model.MessageRoleAssistant, msg.Role)
	assert.Equal(t, model.CategoryDefault, msg.Category)
	require.Len(t, repo.appended, 1)
}

func TestFormatHistoryFiltersRoles(t *testing.T) {
	ctx := context.Background()

	repo := newFakeSessionRepo("s1")
	messages := newFakeMessageRepo()
	messages.messages["s1"] = []model.ChatMessage{
		*testMessage("s1", model.MessageRoleUser, "q1"),
		*testMessage("s1", model.MessageRoleSystem, "internal note"),
		*testMessage("s1", model.MessageRoleAssistant, "a1"),
	}
	sessions := NewSessionService(repo, messages, newFakeCache())
	be := &fakeBackend{response: &backend.ChatResponse{Response: "ok"}}
	svc := NewChatService(sessions, be)

	_, err := svc.SendMessage(ctx, &SendMessageRequest{SessionID: "s1", Message: "q2"})
	require.NoError(t, err)

	require.NotNil(t, be.lastReq)
	for _, entry := range be.lastReq.ChatHistory {
		assert.NotEqual(t, model.MessageRoleSystem, entry.Role)
	}
	// system 角色被滤掉，只剩 q1 / a1
	assert.Len(t, be.lastReq.ChatHistory, 2)
}
