package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramanshu-1216/news-agent/internal/config"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.AgentConfig{
		BaseURL:         baseURL,
		QueryTimeout:    5 * time.Second,
		StreamTimeout:   5 * time.Second,
		WatchdogTimeout: 5 * time.Second,
	})
}

func drainEvents(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var got []StreamEvent
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("stream did not finish in time")
		}
	}
}

func TestSendMessage(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/query", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"response":"hello","citations":[{"url":"https://example.com","source":"example"}]}`)
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		resp, err := client.SendMessage(context.Background(), &ChatRequest{Query: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "hello", resp.Response)
		require.Len(t, resp.Citations, 1)
		assert.Equal(t, "https://example.com", resp.Citations[0].URL)
	})

	t.Run("connection refused maps to ErrUnavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close() // 端口已释放

		client := newTestClient(server.URL)
		_, err := client.SendMessage(context.Background(), &ChatRequest{Query: "hi"})
		require.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("non-200 maps to backend error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"detail":"model overloaded"}`)
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		_, err := client.SendMessage(context.Background(), &ChatRequest{Query: "hi"})

		var backendErr *Error
		require.ErrorAs(t, err, &backendErr)
		assert.Equal(t, http.StatusInternalServerError, backendErr.Status)
		assert.Contains(t, backendErr.Detail, "model overloaded")
	})

	t.Run("malformed payload maps to backend error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `not json`)
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		_, err := client.SendMessage(context.Background(), &ChatRequest{Query: "hi"})

		var backendErr *Error
		require.ErrorAs(t, err, &backendErr)
		assert.Zero(t, backendErr.Status)
	})
}

func TestStreamMessage(t *testing.T) {
	t.Run("chunks then complete", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/stream", r.URL.Path)
			flusher := w.(http.Flusher)
			fmt.Fprint(w, "data: {\"event\":\"response_chunk\",\"data\":{\"chunk\":\"he\"}}\n\n")
			flusher.Flush()
			fmt.Fprint(w, "data: {\"event\":\"response_chunk\",\"data\":{\"chunk\":\"llo\"}}\n\n")
			flusher.Flush()
			fmt.Fprint(w, "data: {\"event\":\"complete\",\"data\":{\"response\":\"hello\",\"citations\":[{\"url\":\"https://example.com\"}]}}\n\n")
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		got := drainEvents(t, client.StreamMessage(context.Background(), &ChatRequest{Query: "hi"}))

		require.Len(t, got, 3)
		assert.Equal(t, KindChunk, got[0].Kind)
		assert.Equal(t, "he", got[0].Chunk)
		assert.Equal(t, "llo", got[1].Chunk)
		assert.Equal(t, KindComplete, got[2].Kind)
		assert.Equal(t, "hello", got[2].Response)
		require.Len(t, got[2].Citations, 1)
	})

	t.Run("error envelope terminates the stream", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "data: {\"event\":\"error\",\"data\":{\"error\":\"agent failed\"}}\n\n")
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		got := drainEvents(t, client.StreamMessage(context.Background(), &ChatRequest{Query: "hi"}))

		require.Len(t, got, 1)
		assert.Equal(t, KindError, got[0].Kind)
		assert.Equal(t, "agent failed", got[0].Err)
	})

	t.Run("non-data lines and garbage are skipped", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, ": comment line\n")
			fmt.Fprint(w, "data: {broken json\n")
			fmt.Fprint(w, "data: {\"event\":\"complete\",\"data\":{\"response\":\"ok\"}}\n\n")
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		got := drainEvents(t, client.StreamMessage(context.Background(), &ChatRequest{Query: "hi"}))

		require.Len(t, got, 1)
		assert.Equal(t, KindComplete, got[0].Kind)
	})

	t.Run("EOF before complete yields an error event", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "data: {\"event\":\"response_chunk\",\"data\":{\"chunk\":\"partial\"}}\n\n")
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		got := drainEvents(t, client.StreamMessage(context.Background(), &ChatRequest{Query: "hi"}))

		require.Len(t, got, 2)
		assert.Equal(t, KindChunk, got[0].Kind)
		assert.Equal(t, KindError, got[1].Kind)
	})

	t.Run("silent backend trips the first byte watchdog", func(t *testing.T) {
		blocked := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			<-blocked
		}))
		defer server.Close()
		defer close(blocked)

		client := NewClient(config.AgentConfig{
			BaseURL:         server.URL,
			StreamTimeout:   10 * time.Second,
			WatchdogTimeout: 100 * time.Millisecond,
		})
		got := drainEvents(t, client.StreamMessage(context.Background(), &ChatRequest{Query: "hi"}))

		require.Len(t, got, 1)
		assert.Equal(t, KindError, got[0].Kind)
		assert.Contains(t, got[0].Err, "timeout")
	})

	t.Run("abandoned stream goroutine exits on cancel", func(t *testing.T) {
		// 后端持续吐片段，数量远超通道缓冲
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			for {
				if _, err := fmt.Fprint(w, "data: {\"event\":\"response_chunk\",\"data\":{\"chunk\":\"x\"}}\n\n"); err != nil {
					return
				}
				flusher.Flush()
				select {
				case <-r.Context().Done():
					return
				default:
				}
			}
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		before := runtime.NumGoroutine()

		ctx, cancel := context.WithCancel(context.Background())
		events := client.StreamMessage(ctx, &ChatRequest{Query: "hi"})

		// 谁也不读通道，等生产协程填满缓冲并阻塞在发送上
		require.Eventually(t, func() bool {
			return len(events) == cap(events)
		}, 2*time.Second, 10*time.Millisecond)

		// 下游弃读后取消必须能解除阻塞，生产协程不允许滞留
		cancel()
		require.Eventually(t, func() bool {
			return runtime.NumGoroutine() <= before
		}, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("non-200 status yields an error event", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "upstream gone")
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		got := drainEvents(t, client.StreamMessage(context.Background(), &ChatRequest{Query: "hi"}))

		require.Len(t, got, 1)
		assert.Equal(t, KindError, got[0].Kind)
		assert.Contains(t, got[0].Err, "502")
	})
}

func TestHealth(t *testing.T) {
	t.Run("healthy backend", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
		}))
		defer server.Close()

		client := newTestClient(server.URL)
		require.NoError(t, client.Health(context.Background()))
	})

	t.Run("unreachable backend", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		client := newTestClient(server.URL)
		require.ErrorIs(t, client.Health(context.Background()), ErrUnavailable)
	})
}
