package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/elysia-ai/elysia/internal/domain/entity"
	"github.com/elysia-ai/elysia/internal/domain/intelligence"
	"github.com/elysia-ai/elysia/internal/domain/service"
	"github.com/elysia-ai/elysia/internal/infrastructure/config"
	"github.com/elysia-ai/elysia/internal/infrastructure/llm"
	"github.com/elysia-ai/elysia/internal/infrastructure/prompt"
	apperrors "github.com/elysia-ai/elysia/pkg/errors"
)

// --- fakes ---

type fakeStream struct {
	mu      sync.Mutex
	deltas  []string
	idx     int
	hang    bool
	closeCh chan struct{}
	once    sync.Once
}

func newFakeStream(hang bool, deltas ...string) *fakeStream {
	return &fakeStream{deltas: deltas, hang: hang, closeCh: make(chan struct{})}
}

func (s *fakeStream) Recv() (llm.Delta, error) {
	s.mu.Lock()
	if s.idx < len(s.deltas) {
		d := s.deltas[s.idx]
		s.idx++
		s.mu.Unlock()
		return llm.Delta{Content: d}, nil
	}
	s.mu.Unlock()

	if s.hang {
		<-s.closeCh
		return llm.Delta{}, context.Canceled
	}
	return llm.Delta{}, io.EOF
}

func (s *fakeStream) Close() {
	s.once.Do(func() { close(s.closeCh) })
}

func (s *fakeStream) Closed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

type fakeUpstream struct {
	stream    *fakeStream
	completed string
	streamErr error
	lastReq   llm.CompletionRequest
}

func (u *fakeUpstream) Stream(ctx context.Context, req llm.CompletionRequest) (DeltaStream, error) {
	u.lastReq = req
	if u.streamErr != nil {
		return nil, u.streamErr
	}
	return u.stream, nil
}

func (u *fakeUpstream) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	u.lastReq = req
	return u.completed, nil
}

type fakeClient struct {
	mu        sync.Mutex
	frames    []string
	errFrames []string
	done      bool
	failAfter int // fail Send once this many frames were accepted; -1 never
}

func newFakeClient() *fakeClient { return &fakeClient{failAfter: -1} }

func (c *fakeClient) Send(content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter >= 0 && len(c.frames) >= c.failAfter {
		return errors.New("client gone")
	}
	c.frames = append(c.frames, content)
	return nil
}

func (c *fakeClient) SendError(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errFrames = append(c.errFrames, message)
	return nil
}

func (c *fakeClient) Done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = true
}

func (c *fakeClient) text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.frames, "")
}

type fakeUserRepo struct {
	mu       sync.Mutex
	users    map[string]*entity.User
	emotions map[string][]entity.EmotionEntry
}

func newFakeUserRepo(users ...*entity.User) *fakeUserRepo {
	r := &fakeUserRepo{users: map[string]*entity.User{}, emotions: map[string][]entity.EmotionEntry{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) Create(ctx context.Context, user *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) FindByID(ctx context.Context, id string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.NewUserNotFoundError("no such user")
	}
	return u, nil
}

func (r *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, apperrors.NewUserNotFoundError("no such user")
}

func (r *fakeUserRepo) UpdateProfile(ctx context.Context, id string, profile map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.Profile = profile
	}
	return nil
}

func (r *fakeUserRepo) AppendEmotion(ctx context.Context, id string, entry entity.EmotionEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emotions[id] = append(r.emotions[id], entry)
	return nil
}

func (r *fakeUserRepo) Emotions(ctx context.Context, id string, limit int) ([]entity.EmotionEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emotions[id], nil
}

type fakeMemoryRepo struct {
	mu       sync.Mutex
	messages []*entity.MemoryMessage
	batchErr error
}

func (r *fakeMemoryRepo) AppendBatch(ctx context.Context, messages []*entity.MemoryMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batchErr != nil {
		return r.batchErr
	}
	r.messages = append(r.messages, messages...)
	return nil
}

func (r *fakeMemoryRepo) Recent(ctx context.Context, userID string, limit int) ([]*entity.MemoryMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.MemoryMessage
	for i := len(r.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if r.messages[i].UserID == userID {
			out = append(out, r.messages[i])
		}
	}
	return out, nil
}

func (r *fakeMemoryRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeMemoryRepo) all() []*entity.MemoryMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entity.MemoryMessage(nil), r.messages...)
}

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks []*entity.Task
}

func (r *fakeTaskRepo) Create(ctx context.Context, task *entity.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *fakeTaskRepo) DequeueBatch(ctx context.Context, now time.Time, limit int) ([]*entity.Task, error) {
	return nil, nil
}

func (r *fakeTaskRepo) ClaimProcessing(ctx context.Context, id string) (bool, error) { return true, nil }

func (r *fakeTaskRepo) Finish(ctx context.Context, id string, status entity.TaskStatus, result string) error {
	return nil
}

type countingMetrics struct {
	mu            sync.Mutex
	started       int
	finished      int
	succeeded     int
	firstBytes    int
	commitsFailed int
}

func (m *countingMetrics) CompletionStarted() {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *countingMetrics) CompletionFinished(success bool, _ time.Duration) {
	m.mu.Lock()
	m.finished++
	if success {
		m.succeeded++
	}
	m.mu.Unlock()
}

func (m *countingMetrics) FirstByte(time.Duration) {
	m.mu.Lock()
	m.firstBytes++
	m.mu.Unlock()
}

func (m *countingMetrics) TokensStreamed(int) {}

func (m *countingMetrics) CommitFailed() {
	m.mu.Lock()
	m.commitsFailed++
	m.mu.Unlock()
}

// --- harness ---

type fixture struct {
	uc       *CompletionUseCase
	users    *fakeUserRepo
	memory   *fakeMemoryRepo
	tasks    *fakeTaskRepo
	cache    *service.UserCache
	upstream *fakeUpstream
	metrics  *countingMetrics
}

func newFixture(t *testing.T, upstream *fakeUpstream, cfg config.CompletionConfig) *fixture {
	t.Helper()
	logger := zap.NewNop()
	users := newFakeUserRepo(&entity.User{ID: "u1", Email: "u1@example.com"})
	memory := &fakeMemoryRepo{}
	tasks := &fakeTaskRepo{}
	cache := service.NewUserCache(30 * time.Second)
	committer := NewCommitter(users, memory, tasks, cache, logger)

	metrics := &countingMetrics{}
	uc := NewCompletionUseCase(
		users, memory, cache,
		prompt.NewAssembler(6),
		intelligence.NewCompressor(intelligence.NewCache(16), logger),
		upstream, committer, metrics,
		"default", 6, cfg, logger,
	)

	return &fixture{uc: uc, users: users, memory: memory, tasks: tasks, cache: cache, upstream: upstream, metrics: metrics}
}

func (f *fixture) run(t *testing.T, prompt string, client *fakeClient) {
	t.Helper()
	prep, err := f.uc.Prepare(context.Background(), "u1", prompt)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	f.uc.Stream(context.Background(), prep, client)
}

func (f *fixture) memoryPair(t *testing.T) (userMsg, assistantMsg *entity.MemoryMessage) {
	t.Helper()
	all := f.memory.all()
	if len(all) != 2 {
		t.Fatalf("expected exactly one memory pair, got %d messages", len(all))
	}
	if all[0].Role != entity.RoleUser || all[1].Role != entity.RoleAssistant {
		t.Fatalf("expected user then assistant, got %s then %s", all[0].Role, all[1].Role)
	}
	return all[0], all[1]
}

// --- seed scenarios ---

func TestStream_HappyPath(t *testing.T) {
	f := newFixture(t, &fakeUpstream{stream: newFakeStream(false, "Hi", " there")}, config.CompletionConfig{})
	client := newFakeClient()

	f.run(t, "hello", client)

	if len(client.frames) != 2 || client.frames[0] != "Hi" || client.frames[1] != " there" {
		t.Fatalf("expected two content frames, got %v", client.frames)
	}
	if !client.done {
		t.Fatal("expected stream terminator")
	}

	userMsg, assistantMsg := f.memoryPair(t)
	if userMsg.Content != "hello" {
		t.Errorf("user memory = %q", userMsg.Content)
	}
	if assistantMsg.Content != "Hi there" {
		t.Errorf("assistant memory = %q", assistantMsg.Content)
	}
	if len(f.users.emotions["u1"]) != 0 {
		t.Error("unexpected emotion committed")
	}
	if len(f.tasks.tasks) != 0 {
		t.Error("unexpected task committed")
	}
}

func TestStream_EmotionExtraction(t *testing.T) {
	f := newFixture(t, &fakeUpstream{stream: newFakeStream(false,
		"I hear you. ",
		`EMOTION_LOG: {"emotion":"sad","intensity":6}`,
	)}, config.CompletionConfig{})
	client := newFakeClient()

	f.run(t, "rough day", client)

	if client.text() != "I hear you. " {
		t.Fatalf("client saw %q", client.text())
	}

	emotions := f.users.emotions["u1"]
	if len(emotions) != 1 || emotions[0].Emotion != "sad" {
		t.Fatalf("expected sad emotion, got %+v", emotions)
	}
	if emotions[0].Intensity == nil || *emotions[0].Intensity != 6 {
		t.Fatalf("expected intensity 6, got %v", emotions[0].Intensity)
	}

	_, assistantMsg := f.memoryPair(t)
	if assistantMsg.Content != "I hear you." {
		t.Errorf("assistant memory = %q", assistantMsg.Content)
	}
}

func TestStream_TaskInference(t *testing.T) {
	f := newFixture(t, &fakeUpstream{stream: newFakeStream(false,
		`Sure. TASK_INFERENCE: {"taskType":"plan_day","parameters":{"priority":"focus"}}`,
	)}, config.CompletionConfig{})
	client := newFakeClient()

	f.run(t, "help me plan", client)

	if strings.TrimSpace(client.text()) != "Sure." {
		t.Fatalf("client saw %q", client.text())
	}

	if len(f.tasks.tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(f.tasks.tasks))
	}
	task := f.tasks.tasks[0]
	if task.Status != entity.TaskQueued {
		t.Errorf("expected queued, got %s", task.Status)
	}
	if task.TaskType != "plan_day" {
		t.Errorf("taskType = %q", task.TaskType)
	}
	if task.Parameters["priority"] != "focus" {
		t.Errorf("parameters = %v", task.Parameters)
	}
}

func TestStream_MarkerSplitAcrossChunks(t *testing.T) {
	f := newFixture(t, &fakeUpstream{stream: newFakeStream(false,
		"EMOTIO",
		`N_LOG: {"emotion":"joy"}`,
	)}, config.CompletionConfig{})
	client := newFakeClient()

	f.run(t, "good news!", client)

	if len(client.frames) != 0 {
		t.Fatalf("expected nothing forwarded, got %v", client.frames)
	}
	if !client.done {
		t.Fatal("expected terminator even with no content")
	}

	emotions := f.users.emotions["u1"]
	if len(emotions) != 1 || emotions[0].Emotion != "joy" {
		t.Fatalf("expected joy committed, got %+v", emotions)
	}
}

func TestStream_StopSequenceMidStream(t *testing.T) {
	upstream := &fakeUpstream{stream: newFakeStream(true, "Answer. \nHuman:")}
	f := newFixture(t, upstream, config.CompletionConfig{})
	client := newFakeClient()

	f.run(t, "question", client)

	if client.text() != "Answer. " {
		t.Fatalf("expected only pre-stop text, got %q", client.text())
	}
	if !upstream.stream.Closed() {
		t.Fatal("expected upstream cancelled")
	}
	if !client.done {
		t.Fatal("expected terminator")
	}

	_, assistantMsg := f.memoryPair(t)
	if assistantMsg.Content != "Answer." {
		t.Errorf("assistant memory = %q", assistantMsg.Content)
	}
}

func TestStream_HeldTailDeliveredAtStopSequence(t *testing.T) {
	// The reply genuinely ends in text that looks like the start of a
	// marker literal. Once the stream ends it can no longer become one,
	// so the client must still receive it.
	upstream := &fakeUpstream{stream: newFakeStream(true,
		"I said EMOTIO",
		"\nHuman:",
	)}
	f := newFixture(t, upstream, config.CompletionConfig{})
	client := newFakeClient()

	f.run(t, "what did you say?", client)

	if client.text() != "I said EMOTIO" {
		t.Fatalf("expected held tail delivered, got %q", client.text())
	}
	if !client.done {
		t.Fatal("expected terminator")
	}

	_, assistantMsg := f.memoryPair(t)
	if assistantMsg.Content != "I said EMOTIO" {
		t.Errorf("assistant memory = %q", assistantMsg.Content)
	}
}

func TestStream_ClientDisconnect(t *testing.T) {
	upstream := &fakeUpstream{stream: newFakeStream(true, "Hello", " world", " more")}
	f := newFixture(t, upstream, config.CompletionConfig{})
	client := newFakeClient()
	client.failAfter = 1 // accept one frame, then the connection is gone

	f.run(t, "hi", client)

	if len(client.frames) != 1 {
		t.Fatalf("expected one delivered frame, got %v", client.frames)
	}
	if !upstream.stream.Closed() {
		t.Fatal("expected upstream cancelled after disconnect")
	}
	if client.done {
		t.Fatal("terminator should not be written to a dead connection")
	}

	// The partial assistant turn is still remembered.
	_, assistantMsg := f.memoryPair(t)
	if !strings.HasPrefix(assistantMsg.Content, "Hello") {
		t.Errorf("expected partial content committed, got %q", assistantMsg.Content)
	}
	if f.cache.Len() != 0 {
		t.Error("expected cache entry invalidated after commit")
	}
}

// --- boundary behaviors ---

func TestPrepare_EmptyPromptRejected(t *testing.T) {
	f := newFixture(t, &fakeUpstream{stream: newFakeStream(false)}, config.CompletionConfig{})

	_, err := f.uc.Prepare(context.Background(), "u1", "   ")
	if !apperrors.IsInvalidInput(err) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestPrepare_UpstreamConnectErrorSurfaces(t *testing.T) {
	f := newFixture(t, &fakeUpstream{
		stream:    newFakeStream(false),
		streamErr: apperrors.NewUpstreamUnavailableError(errors.New("refused")),
	}, config.CompletionConfig{})

	_, err := f.uc.Prepare(context.Background(), "u1", "hello")
	if apperrors.From(err).Code != apperrors.CodeUpstreamUnavailable {
		t.Fatalf("expected UpstreamUnavailable, got %v", err)
	}
}

func TestStream_ZeroByteStreamCommitsFallback(t *testing.T) {
	f := newFixture(t, &fakeUpstream{stream: newFakeStream(false)}, config.CompletionConfig{})
	client := newFakeClient()

	f.run(t, "hello?", client)

	if len(client.frames) != 0 {
		t.Fatalf("expected no content frames, got %v", client.frames)
	}
	if !client.done {
		t.Fatal("expected terminator")
	}

	_, assistantMsg := f.memoryPair(t)
	if assistantMsg.Content != service.FallbackReply {
		t.Errorf("expected fallback reply committed, got %q", assistantMsg.Content)
	}
}

func TestStream_TokenCapStopsForwarding(t *testing.T) {
	long := strings.Repeat("a", 40) // 10 tokens per delta
	upstream := &fakeUpstream{stream: newFakeStream(true, long, long, long)}
	f := newFixture(t, upstream, config.CompletionConfig{TokenCap: 15})
	client := newFakeClient()

	f.run(t, "go on", client)

	// The second delta pushes the estimate past the cap; the third is never read.
	if len(client.frames) != 2 {
		t.Fatalf("expected two frames before cap, got %d", len(client.frames))
	}
	if !upstream.stream.Closed() {
		t.Fatal("expected upstream cancelled at cap")
	}
}

func TestStream_NoByteTimerDrains(t *testing.T) {
	upstream := &fakeUpstream{stream: newFakeStream(true)}
	f := newFixture(t, upstream, config.CompletionConfig{FirstByteTimeout: 50 * time.Millisecond})
	client := newFakeClient()

	start := time.Now()
	f.run(t, "anyone there?", client)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("drain took too long: %v", elapsed)
	}
	if !client.done {
		t.Fatal("expected terminator after timer drain")
	}
	if !upstream.stream.Closed() {
		t.Fatal("expected upstream cancelled")
	}

	_, assistantMsg := f.memoryPair(t)
	if assistantMsg.Content != service.FallbackReply {
		t.Errorf("expected fallback committed, got %q", assistantMsg.Content)
	}
}

func TestStream_HardTimerDrains(t *testing.T) {
	upstream := &fakeUpstream{stream: newFakeStream(true, "partial")}
	f := newFixture(t, upstream, config.CompletionConfig{
		StreamTimeout:    80 * time.Millisecond,
		FirstByteTimeout: time.Minute,
	})
	client := newFakeClient()

	f.run(t, "slow model", client)

	if client.text() != "partial" {
		t.Fatalf("expected buffered partial forwarded, got %q", client.text())
	}
	if !client.done {
		t.Fatal("expected terminator")
	}

	_, assistantMsg := f.memoryPair(t)
	if assistantMsg.Content != "partial" {
		t.Errorf("expected partial content committed, got %q", assistantMsg.Content)
	}
}

func TestStream_UpstreamRequestClampsParameters(t *testing.T) {
	upstream := &fakeUpstream{stream: newFakeStream(false, "ok")}
	f := newFixture(t, upstream, config.CompletionConfig{
		Temperature:    1.2, // above the ceiling
		MaxTemperature: 0.85,
		MaxPredict:     1000,
	})
	client := newFakeClient()

	f.run(t, "hi", client)

	if upstream.lastReq.Temperature != 0.85 {
		t.Errorf("expected temperature clamped to 0.85, got %v", upstream.lastReq.Temperature)
	}
	if upstream.lastReq.MaxTokens != 1000 {
		t.Errorf("expected max tokens 1000, got %d", upstream.lastReq.MaxTokens)
	}
	if len(upstream.lastReq.Messages) < 2 {
		t.Errorf("expected assembled message list, got %d messages", len(upstream.lastReq.Messages))
	}
	if upstream.lastReq.Messages[0].Role != "system" {
		t.Errorf("expected system message first")
	}
}

func TestExecute_NonStreaming(t *testing.T) {
	upstream := &fakeUpstream{
		stream:    newFakeStream(false),
		completed: `Sure thing. TASK_INFERENCE: {"taskType":"remind","parameters":{}}`,
	}
	f := newFixture(t, upstream, config.CompletionConfig{})

	content, err := f.uc.Execute(context.Background(), "u1", "remind me later")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if content != "Sure thing." {
		t.Fatalf("expected cleaned content, got %q", content)
	}
	if len(f.tasks.tasks) != 1 || f.tasks.tasks[0].TaskType != "remind" {
		t.Fatalf("expected remind task, got %+v", f.tasks.tasks)
	}
	_, assistantMsg := f.memoryPair(t)
	if assistantMsg.Content != "Sure thing." {
		t.Errorf("assistant memory = %q", assistantMsg.Content)
	}
}

func TestStream_CacheCoherenceAfterCommit(t *testing.T) {
	f := newFixture(t, &fakeUpstream{stream: newFakeStream(false, "Hi")}, config.CompletionConfig{})
	client := newFakeClient()

	// Warm the cache before the completion.
	if _, err := f.uc.cache.Get(context.Background(), "u1", f.uc.loader("u1")); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	f.run(t, "hello", client)

	snapshot, err := f.uc.cache.Get(context.Background(), "u1", f.uc.loader("u1"))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(snapshot.Memory) != 2 {
		t.Fatalf("expected fresh snapshot with the new pair, got %d messages", len(snapshot.Memory))
	}
}

func TestStream_MetricsRecorded(t *testing.T) {
	f := newFixture(t, &fakeUpstream{stream: newFakeStream(false, "Hi")}, config.CompletionConfig{})
	client := newFakeClient()

	f.run(t, "hello", client)

	if f.metrics.started != 1 || f.metrics.finished != 1 || f.metrics.succeeded != 1 {
		t.Fatalf("unexpected counters: %+v", f.metrics)
	}
	if f.metrics.firstBytes != 1 {
		t.Fatalf("expected one first-byte sample, got %d", f.metrics.firstBytes)
	}
}
