package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/elysia-ai/elysia/internal/infrastructure/config"
	apperrors "github.com/elysia-ai/elysia/pkg/errors"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.UpstreamConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "default",
	}, 2*time.Second, zap.NewNop())
}

// fake upstream that streams the given deltas as SSE chunks.
func fakeUpstream(t *testing.T, deltas []string, sendDone bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", got)
		}

		var req chatRequest
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if !req.Stream {
			t.Error("expected stream:true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, d := range deltas {
			payload, _ := json.Marshal(map[string]interface{}{
				"choices": []map[string]interface{}{
					{"delta": map[string]string{"content": d}},
				},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		if sendDone {
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
		}
	}))
}

func collect(t *testing.T, stream *Stream) []string {
	t.Helper()
	var out []string
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		out = append(out, delta.Content)
	}
}

func TestStream_DeliversDeltasInOrder(t *testing.T) {
	server := fakeUpstream(t, []string{"Hello", " ", "world", "!"}, true)
	defer server.Close()

	client := newTestClient(server.URL)
	stream, err := client.Stream(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	got := collect(t, stream)
	if strings.Join(got, "") != "Hello world!" {
		t.Fatalf("expected 'Hello world!', got %q", strings.Join(got, ""))
	}
}

func TestStream_RecvAfterEOFStaysEOF(t *testing.T) {
	server := fakeUpstream(t, []string{"x"}, true)
	defer server.Close()

	client := newTestClient(server.URL)
	stream, err := client.Stream(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	collect(t, stream)

	if _, err := stream.Recv(); err != io.EOF {
		t.Fatalf("expected io.EOF after end, got %v", err)
	}
}

func TestStream_EndsOnFinishReasonWithoutDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"done\"},\"finish_reason\":null}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	stream, err := client.Stream(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	got := collect(t, stream)
	if len(got) != 1 || got[0] != "done" {
		t.Fatalf("expected single delta 'done', got %v", got)
	}
}

func TestStream_NonOKStatusBeforeStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Stream(context.Background(), CompletionRequest{})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}

	appErr := apperrors.From(err)
	if appErr.Code != apperrors.CodeUpstreamStatus {
		t.Fatalf("expected UpstreamStatus, got %s", appErr.Code)
	}
	if appErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", appErr.StatusCode)
	}
}

func TestStream_ConnectFailureIsUnavailable(t *testing.T) {
	// Port from a closed listener: connection refused.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(url)
	_, err := client.Stream(context.Background(), CompletionRequest{})
	if err == nil {
		t.Fatal("expected connect error")
	}
	if apperrors.From(err).Code != apperrors.CodeUpstreamUnavailable {
		t.Fatalf("expected UpstreamUnavailable, got %s", apperrors.From(err).Code)
	}
}

func TestStream_MalformedChunkIsProtocolError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {not json}\n\n")
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	stream, err := client.Stream(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	_, err = stream.Recv()
	if apperrors.From(err).Code != apperrors.CodeUpstreamProtocol {
		t.Fatalf("expected UpstreamProtocol, got %v", err)
	}
}

func TestStream_CancellationStopsDelivery(t *testing.T) {
	blockForever := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-blockForever
	}))
	defer server.Close()
	defer close(blockForever)

	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(server.URL)
	stream, err := client.Stream(ctx, CompletionRequest{})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	if delta, err := stream.Recv(); err != nil || delta.Content != "first" {
		t.Fatalf("expected first delta, got %q err=%v", delta.Content, err)
	}

	cancel()

	done := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil || err == io.EOF {
			t.Fatalf("expected cancellation error, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Recv did not unblock after cancellation")
	}
}

func TestStream_ConcurrentCloseDuringRecvIsSafe(t *testing.T) {
	blockForever := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-blockForever
	}))
	defer server.Close()
	defer close(blockForever)

	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(server.URL)
	stream, err := client.Stream(ctx, CompletionRequest{})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}

	// A reader blocked in Recv while cancellation and Close race it from
	// other goroutines, the way the orchestrator tears a stream down.
	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		for {
			if _, err := stream.Recv(); err != nil {
				return
			}
		}
	}()

	closersDone := make(chan struct{})
	go func() {
		defer close(closersDone)
		cancel()
		for i := 0; i < 10; i++ {
			stream.Close()
		}
	}()

	for _, ch := range []chan struct{}{recvDone, closersDone} {
		select {
		case <-ch:
		case <-time.After(3 * time.Second):
			t.Fatal("stream teardown did not finish")
		}
	}

	// Further use stays inert.
	stream.Close()
	if _, err := stream.Recv(); err != io.EOF {
		t.Fatalf("expected io.EOF after close, got %v", err)
	}
}

func TestStream_IdleTimeoutIsUpstreamTimeout(t *testing.T) {
	blockForever := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-blockForever
	}))
	defer server.Close()
	defer close(blockForever)

	client := NewClient(config.UpstreamConfig{
		BaseURL: server.URL,
		Model:   "default",
	}, 100*time.Millisecond, zap.NewNop())

	stream, err := client.Stream(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	_, err = stream.Recv()
	if apperrors.From(err).Code != apperrors.CodeUpstreamTimeout {
		t.Fatalf("expected UpstreamTimeout, got %v", err)
	}
}

func TestComplete_ReturnsFullContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &req)
		if req.Stream {
			t.Error("expected stream:false")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "full answer"}},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	content, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if content != "full answer" {
		t.Fatalf("expected 'full answer', got %q", content)
	}
}

func TestStream_RequestCarriesStopAndCaps(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	stream, err := client.Stream(context.Background(), CompletionRequest{
		Messages:    []Message{{Role: "user", Content: "q"}},
		Temperature: 0.7,
		MaxTokens:   1000,
		Stop:        []string{"USER:", "Human:"},
	})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	collect(t, stream)

	if got.Model != "default" {
		t.Errorf("expected configured model fallback, got %q", got.Model)
	}
	if got.MaxTokens != 1000 {
		t.Errorf("expected max_tokens 1000, got %d", got.MaxTokens)
	}
	if len(got.Stop) != 2 {
		t.Errorf("expected 2 stop sequences, got %v", got.Stop)
	}
}
