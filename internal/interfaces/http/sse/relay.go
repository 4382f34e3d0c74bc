package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Relay frames completion deltas as Server-Sent Events. The wire format is
// exclusively `event: message` frames carrying one JSON payload, closed by
// the literal `data: [DONE]` line.
type Relay struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *zap.Logger
	done    bool
}

// deltaPayload is the {content} frame.
type deltaPayload struct {
	Content string `json:"content"`
}

// errorPayload is the in-band {error:true, message} frame.
type errorPayload struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// New writes the SSE headers once and returns the relay. Returns an error
// when the underlying writer cannot flush, since unflushed SSE is useless.
func New(w http.ResponseWriter, logger *zap.Logger) (*Relay, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Relay{w: w, flusher: flusher, logger: logger}, nil
}

// Send forwards one content delta and flushes immediately.
func (r *Relay) Send(content string) error {
	return r.frame(deltaPayload{Content: content})
}

// SendError emits the in-band error frame. The caller still terminates the
// stream with Done afterwards.
func (r *Relay) SendError(message string) error {
	return r.frame(errorPayload{Error: true, Message: message})
}

// Done writes the terminal [DONE] line. Safe to call more than once.
func (r *Relay) Done() {
	if r.done {
		return
	}
	r.done = true
	if _, err := fmt.Fprint(r.w, "data: [DONE]\n\n"); err != nil {
		r.logger.Debug("Client gone before stream terminator", zap.Error(err))
		return
	}
	r.flusher.Flush()
}

func (r *Relay) frame(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(r.w, "event: message\ndata: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE frame: %w", err)
	}
	r.flusher.Flush()
	return nil
}
