package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramanshu-1216/news-agent/internal/backend"
	"github.com/Ramanshu-1216/news-agent/internal/model"
	"github.com/Ramanshu-1216/news-agent/internal/service"
)

// fakeChatRelay 可编程的对话服务
type fakeChatRelay struct {
	response  *service.SendMessageResponse
	err       error
	streamEvs []backend.StreamEvent
	saved     []string
	saveErr   error
}

func (f *fakeChatRelay) SendMessage(ctx context.Context, req *service.SendMessageRequest) (*service.SendMessageResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeChatRelay) OpenStream(ctx context.Context, req *service.SendMessageRequest) (<-chan backend.StreamEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	events := make(chan backend.StreamEvent, len(f.streamEvs))
	for _, ev := range f.streamEvs {
		events <- ev
	}
	return events, nil
}

func (f *fakeChatRelay) SaveAssistantMessage(ctx context.Context, sessionID, content string, citations []model.Citation, category string) (*model.ChatMessage, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.saved = append(f.saved, content)
	return &model.ChatMessage{ID: "saved", SessionID: sessionID, Content: content}, nil
}

func newChatRouter(relay ChatRelay) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewChatHandler(relay, time.Minute)
	router := gin.New()
	router.POST("/chat", h.SendMessage)
	router.POST("/chat/stream", h.StreamMessage)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path, payload string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestSendMessageEndpoint(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		relay := &fakeChatRelay{response: &service.SendMessageResponse{
			SessionID: "s1",
			Response:  "hello",
			Citations: []model.Citation{},
			MessageID: "m1",
		}}
		router := newChatRouter(relay)

		w := postJSON(t, router, "/chat", `{"sessionId":"s1","message":"hi"}`)
		assert.Equal(t, http.StatusOK, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "hello", body["response"])
		assert.Equal(t, "s1", body["sessionId"])
	})

	t.Run("missing fields", func(t *testing.T) {
		router := newChatRouter(&fakeChatRelay{})

		w := postJSON(t, router, "/chat", `{"sessionId":"s1"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		router := newChatRouter(&fakeChatRelay{err: service.ErrSessionNotFound})

		w := postJSON(t, router, "/chat", `{"sessionId":"missing","message":"hi"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("backend down", func(t *testing.T) {
		router := newChatRouter(&fakeChatRelay{err: backend.ErrUnavailable})

		w := postJSON(t, router, "/chat", `{"sessionId":"s1","message":"hi"}`)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("backend business error", func(t *testing.T) {
		router := newChatRouter(&fakeChatRelay{err: &backend.Error{Status: 500, Detail: "boom"}})

		w := postJSON(t, router, "/chat", `{"sessionId":"s1","message":"hi"}`)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), "boom")
	})
}

func TestStreamMessageEndpoint(t *testing.T) {
	t.Run("relays chunks and persists the answer", func(t *testing.T) {
		relay := &fakeChatRelay{streamEvs: []backend.StreamEvent{
			{Kind: backend.KindChunk, Chunk: "he"},
			{Kind: backend.KindChunk, Chunk: "llo"},
			{Kind: backend.KindComplete, Response: "hello", Citations: []model.Citation{{URL: "https://example.com"}}},
		}}
		router := newChatRouter(relay)

		w := postJSON(t, router, "/chat/stream", `{"sessionId":"s1","message":"hi"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

		body := w.Body.String()
		assert.Contains(t, body, `"event":"connected"`)
		assert.Contains(t, body, `"event":"chunk"`)
		assert.Contains(t, body, `"event":"complete"`)
		assert.Contains(t, body, "hello")

		// 完成后助手消息已持久化
		assert.Equal(t, []string{"hello"}, relay.saved)
	})

	t.Run("upstream error ends the stream with an error event", func(t *testing.T) {
		relay := &fakeChatRelay{streamEvs: []backend.StreamEvent{
			{Kind: backend.KindError, Err: "agent failed"},
		}}
		router := newChatRouter(relay)

		w := postJSON(t, router, "/chat/stream", `{"sessionId":"s1","message":"hi"}`)
		assert.Equal(t, http.StatusOK, w.Code)

		body := w.Body.String()
		assert.Contains(t, body, `"event":"connected"`)
		assert.Contains(t, body, `"event":"error"`)
		assert.Contains(t, body, "agent failed")
		assert.Empty(t, relay.saved)
	})

	t.Run("persist failure surfaces as error event", func(t *testing.T) {
		relay := &fakeChatRelay{
			streamEvs: []backend.StreamEvent{{Kind: backend.KindComplete, Response: "hello"}},
			saveErr:   service.ErrStoreUnavailable,
		}
		router := newChatRouter(relay)

		w := postJSON(t, router, "/chat/stream", `{"sessionId":"s1","message":"hi"}`)
		body := w.Body.String()
		assert.Contains(t, body, `"event":"error"`)
		assert.NotContains(t, body, `"event":"complete"`)
	})

	t.Run("unknown session fails before the stream starts", func(t *testing.T) {
		router := newChatRouter(&fakeChatRelay{err: service.ErrSessionNotFound})

		w := postJSON(t, router, "/chat/stream", `{"sessionId":"missing","message":"hi"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "Session not found")
	})

	t.Run("missing fields", func(t *testing.T) {
		router := newChatRouter(&fakeChatRelay{})

		w := postJSON(t, router, "/chat/stream", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
