package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/elysia-ai/elysia/pkg/errors"
)

var errIdleTimeout = errors.New("stream read idle timeout")

// timedReader applies a per-Read deadline so a stalled upstream cannot hold
// the scanner forever.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

// Stream is a lazy, finite, non-restartable sequence of deltas over one
// upstream connection. Recv blocks for the next delta; io.EOF marks the
// end of the sequence ([DONE] or finish_reason). Close releases the
// connection and may be called from any goroutine, concurrently with a
// blocked Recv, any number of times.
type Stream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *zap.Logger

	done      chan struct{}
	ended     atomic.Bool
	closeOnce sync.Once
}

func newStream(ctx context.Context, body io.ReadCloser, idleTimeout time.Duration, logger *zap.Logger) *Stream {
	scanner := bufio.NewScanner(&timedReader{r: body, timeout: idleTimeout})
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	s := &Stream{
		ctx:     ctx,
		body:    body,
		scanner: scanner,
		logger:  logger,
		done:    make(chan struct{}),
	}

	// Cancellation watchdog: closing the body unblocks a Read in progress
	// within one network-buffer quantum.
	go func() {
		select {
		case <-ctx.Done():
			body.Close()
		case <-s.done:
		}
	}()

	return s
}

// Recv returns the next delta. io.EOF is the clean end of the sequence;
// every other error carries an upstream error code.
func (s *Stream) Recv() (Delta, error) {
	if s.ended.Load() {
		return Delta{}, io.EOF
	}

	for s.scanner.Scan() {
		select {
		case <-s.ctx.Done():
			s.end()
			return Delta{}, s.ctx.Err()
		default:
		}

		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.end()
			return Delta{}, io.EOF
		}

		var chunk chunkData
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.end()
			return Delta{}, apperrors.NewUpstreamProtocolError("malformed stream chunk", err)
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			return Delta{Content: choice.Delta.Content}, nil
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			s.end()
			return Delta{}, io.EOF
		}
	}

	s.ended.Store(true)
	if err := s.scanner.Err(); err != nil {
		if s.ctx.Err() != nil {
			s.end()
			return Delta{}, s.ctx.Err()
		}
		if errors.Is(err, errIdleTimeout) {
			s.end()
			return Delta{}, apperrors.NewUpstreamTimeoutError("no bytes from upstream within idle window")
		}
		s.end()
		return Delta{}, apperrors.NewUpstreamProtocolError("stream read failed", err)
	}

	// Upstream closed without [DONE]; treat the sequence as complete.
	s.logger.Debug("Upstream closed stream without terminator")
	s.end()
	return Delta{}, io.EOF
}

// Close cancels delivery and releases the connection.
func (s *Stream) Close() {
	s.end()
}

func (s *Stream) end() {
	s.ended.Store(true)
	s.closeOnce.Do(func() {
		close(s.done)
		s.body.Close()
	})
}
