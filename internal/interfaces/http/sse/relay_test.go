package sse

import (
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestRelay_HeadersSetOnce(t *testing.T) {
	rec := httptest.NewRecorder()

	_, err := New(rec, zap.NewNop())
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	headers := rec.Header()
	expect := map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache",
		"Connection":        "keep-alive",
		"X-Accel-Buffering": "no",
	}
	for k, v := range expect {
		if got := headers.Get(k); got != v {
			t.Errorf("header %s: expected %q, got %q", k, v, got)
		}
	}
}

func TestRelay_FrameFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	relay, err := New(rec, zap.NewNop())
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	if err := relay.Send("Hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := relay.Send(" world"); err != nil {
		t.Fatalf("send: %v", err)
	}
	relay.Done()

	body := rec.Body.String()
	want := "event: message\ndata: {\"content\":\"Hello\"}\n\n" +
		"event: message\ndata: {\"content\":\" world\"}\n\n" +
		"data: [DONE]\n\n"
	if body != want {
		t.Fatalf("unexpected wire bytes:\n%q\nwant:\n%q", body, want)
	}
}

func TestRelay_ErrorFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	relay, err := New(rec, zap.NewNop())
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	if err := relay.SendError("upstream unavailable"); err != nil {
		t.Fatalf("send error: %v", err)
	}
	relay.Done()

	body := rec.Body.String()
	if !strings.Contains(body, "data: {\"error\":true,\"message\":\"upstream unavailable\"}\n\n") {
		t.Fatalf("missing error frame: %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("missing terminator: %q", body)
	}
}

func TestRelay_DoneIsIdempotent(t *testing.T) {
	rec := httptest.NewRecorder()
	relay, err := New(rec, zap.NewNop())
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	relay.Done()
	relay.Done()

	if got := strings.Count(rec.Body.String(), "[DONE]"); got != 1 {
		t.Fatalf("expected one terminator, got %d", got)
	}
}

func TestRelay_FlushesEachFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	relay, err := New(rec, zap.NewNop())
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	relay.Send("x")
	if !rec.Flushed {
		t.Fatal("expected flush after frame")
	}
}
