package usecase

import (
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/elysia-ai/elysia/internal/domain/entity"
	"github.com/elysia-ai/elysia/internal/domain/intelligence"
	"github.com/elysia-ai/elysia/internal/domain/repository"
	"github.com/elysia-ai/elysia/internal/domain/service"
	"github.com/elysia-ai/elysia/internal/infrastructure/config"
	"github.com/elysia-ai/elysia/internal/infrastructure/llm"
	"github.com/elysia-ai/elysia/internal/infrastructure/prompt"
	apperrors "github.com/elysia-ai/elysia/pkg/errors"
	"github.com/elysia-ai/elysia/pkg/safego"
)

// DeltaStream is the lazy upstream sequence consumed by the orchestrator.
type DeltaStream interface {
	Recv() (llm.Delta, error)
	Close()
}

// Upstream opens completions against the model endpoint.
type Upstream interface {
	Stream(ctx context.Context, req llm.CompletionRequest) (DeltaStream, error)
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// ClientStream is the client-facing side of one streaming completion.
type ClientStream interface {
	Send(content string) error
	SendError(message string) error
	Done()
}

// MetricsSink receives completion observability events.
type MetricsSink interface {
	CompletionStarted()
	CompletionFinished(success bool, duration time.Duration)
	FirstByte(latency time.Duration)
	TokensStreamed(n int)
	CommitFailed()
}

// CompletionUseCase drives one completion through
// Accepted → Prepared → Streaming → Draining → Committing → Done.
type CompletionUseCase struct {
	users      repository.UserRepository
	memory     repository.MemoryRepository
	cache      *service.UserCache
	assembler  *prompt.Assembler
	compressor *intelligence.Compressor
	upstream   Upstream
	committer  *Committer
	metrics    MetricsSink
	logger     *zap.Logger

	model        string
	historyDepth int
	cfg          config.CompletionConfig
}

func NewCompletionUseCase(
	users repository.UserRepository,
	memory repository.MemoryRepository,
	cache *service.UserCache,
	assembler *prompt.Assembler,
	compressor *intelligence.Compressor,
	upstream Upstream,
	committer *Committer,
	metrics MetricsSink,
	model string,
	historyDepth int,
	cfg config.CompletionConfig,
	logger *zap.Logger,
) *CompletionUseCase {
	if historyDepth <= 0 {
		historyDepth = 6
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 45 * time.Second
	}
	if cfg.FirstByteTimeout <= 0 {
		cfg.FirstByteTimeout = 30 * time.Second
	}
	if cfg.TokenCap <= 0 {
		cfg.TokenCap = 800
	}
	if cfg.MaxPredict <= 0 {
		cfg.MaxPredict = 1000
	}
	if cfg.MaxTemperature <= 0 {
		cfg.MaxTemperature = 0.85
	}
	return &CompletionUseCase{
		users:        users,
		memory:       memory,
		cache:        cache,
		assembler:    assembler,
		compressor:   compressor,
		upstream:     upstream,
		committer:    committer,
		metrics:      metrics,
		logger:       logger.With(zap.String("component", "completion")),
		model:        model,
		historyDepth: historyDepth,
		cfg:          cfg,
	}
}

// Prepared is a completion that passed validation and has an open upstream
// stream. Errors up to this point surface as plain HTTP errors; after it,
// failures go in-band over SSE.
type Prepared struct {
	userID string
	prompt string
	stream DeltaStream
}

// Close abandons the upstream stream without running the pipeline. Used when
// the client transport cannot carry the stream after Prepare succeeded.
func (p *Prepared) Close() {
	p.stream.Close()
}

// Prepare validates the prompt, loads the user snapshot through the cache,
// assembles the context window, and opens the upstream stream.
func (uc *CompletionUseCase) Prepare(ctx context.Context, userID, userPrompt string) (*Prepared, error) {
	messages, err := uc.assembleMessages(ctx, userID, userPrompt)
	if err != nil {
		return nil, err
	}

	stream, err := uc.upstream.Stream(ctx, uc.upstreamRequest(messages))
	if err != nil {
		return nil, err
	}

	return &Prepared{userID: userID, prompt: userPrompt, stream: stream}, nil
}

type recvResult struct {
	delta llm.Delta
	err   error
}

// Stream runs the streaming phase to completion: forwards filtered deltas,
// enforces the stop set, token cap and both timers, then drains, commits
// side-effects and invalidates the cache. The client always gets a
// terminator; commit failures are logged, not surfaced.
func (uc *CompletionUseCase) Stream(ctx context.Context, prep *Prepared, client ClientStream) {
	start := time.Now()
	uc.metrics.CompletionStarted()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	recvCh := make(chan recvResult)
	safego.Go(uc.logger, "upstream-recv", func() {
		defer close(recvCh)
		for {
			delta, err := prep.stream.Recv()
			select {
			case recvCh <- recvResult{delta: delta, err: err}:
			case <-streamCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	})

	hardTimer := time.NewTimer(uc.cfg.StreamTimeout)
	defer hardTimer.Stop()
	noByteTimer := time.NewTimer(uc.cfg.FirstByteTimeout)
	defer noByteTimer.Stop()

	filter := newMarkerFilter()
	var accumulated strings.Builder
	released := 0
	firstByte := false
	stopped := false
	clientGone := false
	var streamErr error

streaming:
	for {
		select {
		case res, ok := <-recvCh:
			if !ok {
				break streaming
			}
			if res.err == io.EOF {
				break streaming
			}
			if res.err != nil {
				streamErr = res.err
				break streaming
			}
			if res.delta.Content == "" {
				continue
			}

			if !firstByte {
				firstByte = true
				uc.metrics.FirstByte(time.Since(start))
			}
			noByteTimer.Reset(uc.cfg.FirstByteTimeout)

			accumulated.WriteString(res.delta.Content)
			full := accumulated.String()

			limit := len(full)
			if idx := earliestStop(full); idx >= 0 {
				stopped = true
				if idx < limit {
					limit = idx
				}
			}

			if limit > released {
				if out := filter.Feed(full[released:limit]); out != "" {
					if err := client.Send(out); err != nil {
						clientGone = true
						break streaming
					}
				}
				released = limit
			}

			if stopped {
				break streaming
			}
			if intelligence.EstimateTokens(full) > uc.cfg.TokenCap {
				break streaming
			}

		case <-hardTimer.C:
			uc.logger.Warn("Hard stream timer fired",
				zap.String("user_id", prep.userID),
				zap.Duration("limit", uc.cfg.StreamTimeout))
			break streaming

		case <-noByteTimer.C:
			uc.logger.Warn("No-byte timer fired",
				zap.String("user_id", prep.userID),
				zap.Duration("window", uc.cfg.FirstByteTimeout))
			break streaming

		case <-ctx.Done():
			clientGone = true
			break streaming
		}
	}

	// Draining: cancel upstream, stop timers, terminate the client stream.
	cancel()
	prep.stream.Close()
	hardTimer.Stop()
	noByteTimer.Stop()

	if !clientGone {
		// On any non-error end the filter may still be holding back a tail
		// that looked like a marker prefix but never completed into one.
		// It is part of the reply; deliver it.
		if streamErr == nil {
			if tail := filter.Flush(); tail != "" {
				if err := client.Send(tail); err != nil {
					clientGone = true
				}
			}
		}
		if streamErr != nil {
			uc.logger.Error("Upstream failed mid-stream",
				zap.String("user_id", prep.userID),
				zap.Error(streamErr))
			_ = client.SendError(apperrors.From(streamErr).Message)
		}
		client.Done()
	}

	tokens := intelligence.EstimateTokens(accumulated.String())
	uc.metrics.TokensStreamed(tokens)

	// Committing runs detached from the request's cancellation: the client
	// may be gone, but the partial assistant turn must still be remembered.
	uc.commit(context.WithoutCancel(ctx), prep.userID, prep.prompt, accumulated.String())

	uc.metrics.CompletionFinished(streamErr == nil, time.Since(start))
}

// Execute is the non-streaming variant: same pipeline, whole reply at once.
func (uc *CompletionUseCase) Execute(ctx context.Context, userID, userPrompt string) (string, error) {
	start := time.Now()
	uc.metrics.CompletionStarted()

	messages, err := uc.assembleMessages(ctx, userID, userPrompt)
	if err != nil {
		uc.metrics.CompletionFinished(false, time.Since(start))
		return "", err
	}

	content, err := uc.upstream.Complete(ctx, uc.upstreamRequest(messages))
	if err != nil {
		uc.metrics.CompletionFinished(false, time.Since(start))
		return "", err
	}

	if idx := earliestStop(content); idx >= 0 {
		content = content[:idx]
	}

	cleaned := uc.commit(context.WithoutCancel(ctx), userID, userPrompt, content)
	uc.metrics.CompletionFinished(true, time.Since(start))
	return cleaned, nil
}

func (uc *CompletionUseCase) assembleMessages(ctx context.Context, userID, userPrompt string) ([]llm.Message, error) {
	if strings.TrimSpace(userPrompt) == "" {
		return nil, apperrors.NewInvalidInputError("prompt must be a non-empty string")
	}

	snapshot, err := uc.cache.Get(ctx, userID, uc.loader(userID))
	if err != nil {
		return nil, err
	}

	messageType, complexity := intelligence.ClassifyMessage(userPrompt)
	intelCtx := intelligence.BuildContext(snapshot.User, snapshot.Memory, messageType, complexity)
	compressed := uc.compressor.Compress(intelligence.Request{
		UserID:      userID,
		MessageType: messageType,
		Complexity:  complexity,
		Model:       uc.model,
		HistoryLen:  len(snapshot.Memory),
		Context:     intelCtx,
	})

	return uc.assembler.Assemble(prompt.Input{
		User:         snapshot.User,
		Memory:       snapshot.Memory,
		Prompt:       userPrompt,
		Intelligence: compressed.Text,
	}), nil
}

func (uc *CompletionUseCase) loader(userID string) service.UserLoader {
	return func(ctx context.Context) (*entity.User, []*entity.MemoryMessage, error) {
		user, err := uc.users.FindByID(ctx, userID)
		if err != nil {
			return nil, nil, err
		}
		memory, err := uc.memory.Recent(ctx, userID, uc.historyDepth)
		if err != nil {
			// A user without history can still complete.
			uc.logger.Warn("Failed to load recent memory",
				zap.String("user_id", userID),
				zap.Error(err))
			memory = nil
		}
		return user, memory, nil
	}
}

func (uc *CompletionUseCase) upstreamRequest(messages []llm.Message) llm.CompletionRequest {
	temperature := uc.cfg.Temperature
	if temperature <= 0 || temperature > uc.cfg.MaxTemperature {
		temperature = uc.cfg.MaxTemperature
	}
	return llm.CompletionRequest{
		Model:       uc.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   uc.cfg.MaxPredict,
		Stop:        upstreamStops,
	}
}

// commit extracts side-effects from the full buffer, sanitizes the visible
// reply, persists everything best-effort and returns the committed content.
func (uc *CompletionUseCase) commit(ctx context.Context, userID, userPrompt, buffer string) string {
	commitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	extraction := service.ExtractMetadata(buffer)
	cleaned := service.SanitizeContent(extraction.Cleaned)

	if err := uc.committer.Commit(commitCtx, Commit{
		UserID:           userID,
		UserPrompt:       userPrompt,
		AssistantContent: cleaned,
		Emotion:          extraction.Emotion,
		Task:             extraction.Task,
	}); err != nil {
		uc.metrics.CommitFailed()
		uc.logger.Error("Side-effect commit failed",
			zap.String("user_id", userID),
			zap.Error(err))
	}
	return cleaned
}
