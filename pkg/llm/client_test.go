package llm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gryagbot/gryag/pkg/aierrors"
)

// fakeBackend scripts a sequence of responses/errors per call, keyed by
// invocation order, and records which api keys it was invoked with.
type fakeBackend struct {
	mu         sync.Mutex
	responses  []fakeResult
	calls      int
	embedCalls int
	keysUsed   []string
}

type fakeResult struct {
	resp Response
	err  error
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Generate(ctx context.Context, apiKey string, req Request) (Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keysUsed = append(b.keysUsed, apiKey)
	if b.calls >= len(b.responses) {
		b.calls++
		return Response{}, fmt.Errorf("fakeBackend: no scripted response for call %d", b.calls)
	}
	r := b.responses[b.calls]
	b.calls++
	return r.resp, r.err
}

func (b *fakeBackend) Embed(ctx context.Context, apiKey, model, text string) ([]float32, error) {
	b.mu.Lock()
	b.embedCalls++
	b.mu.Unlock()
	return []float32{1, 2, 3}, nil
}

type fakeDispatcher struct {
	result ToolResult
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, call ToolCall, injected InjectedContext) ToolResult {
	return d.result
}

func testClock() (func() time.Time, func(time.Duration)) {
	now := time.Unix(0, 0)
	var mu sync.Mutex
	nowFn := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	sleepFn := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}
	return nowFn, sleepFn
}

func TestGenerateReturnsTextWhenNoToolCalls(t *testing.T) {
	backend := &fakeBackend{responses: []fakeResult{{resp: Response{Text: "hello there"}}}}
	now, sleep := testClock()
	c := New(backend, []string{"key1"}, "gemini-2.0-flash", WithClock(now, sleep))

	text, usage, err := c.Generate(context.Background(), Request{Model: "gemini-2.0-flash"}, nil, InjectedContext{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("expected passthrough text, got %q", text)
	}
	if len(usage) != 0 {
		t.Fatalf("expected no tool usage recorded")
	}
}

func TestGenerateRunsToolCallLoopUntilNoMoreCalls(t *testing.T) {
	backend := &fakeBackend{responses: []fakeResult{
		{resp: Response{Text: "thinking", ToolCalls: []ToolCall{{ID: "1", Name: "lookup"}}}},
		{resp: Response{Text: "final answer"}},
	}}
	now, sleep := testClock()
	c := New(backend, []string{"key1"}, "gemini-2.0-flash", WithClock(now, sleep))
	dispatcher := &fakeDispatcher{result: ToolResult{Content: "42"}}

	text, usage, err := c.Generate(context.Background(), Request{Model: "gemini-2.0-flash"}, dispatcher, InjectedContext{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "final answer" {
		t.Fatalf("expected the loop's final text, got %q", text)
	}
	if len(usage) != 1 || usage[0].Name != "lookup" || !usage[0].Success {
		t.Fatalf("expected one successful tool usage entry, got %+v", usage)
	}
}

func TestGenerateStopsAfterMaxToolLoopIterations(t *testing.T) {
	var responses []fakeResult
	for i := 0; i < maxToolLoopIterations+1; i++ {
		responses = append(responses, fakeResult{resp: Response{Text: "again", ToolCalls: []ToolCall{{ID: "1", Name: "loop"}}}})
	}
	backend := &fakeBackend{responses: responses}
	now, sleep := testClock()
	c := New(backend, []string{"key1"}, "gemini-2.0-flash", WithClock(now, sleep))
	dispatcher := &fakeDispatcher{result: ToolResult{Content: "ok"}}

	_, _, err := c.Generate(context.Background(), Request{Model: "gemini-2.0-flash"}, dispatcher, InjectedContext{}, nil)
	if err == nil {
		t.Fatalf("expected an error once the tool loop iteration cap is exceeded")
	}
	if aierrors.ClassifyOf(err) != aierrors.KindInternalBug {
		t.Fatalf("expected KindInternalBug, got %v", aierrors.ClassifyOf(err))
	}
}

type orderedDispatcher struct {
	mu      sync.Mutex
	results map[string]ToolResult
}

func (d *orderedDispatcher) Dispatch(ctx context.Context, call ToolCall, injected InjectedContext) ToolResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.results[call.Name]
}

func TestGenerateCommitsToolResultsInNameSortedOrder(t *testing.T) {
	backend := &fakeBackend{responses: []fakeResult{
		{resp: Response{Text: "thinking", ToolCalls: []ToolCall{
			{ID: "1", Name: "zeta"},
			{ID: "2", Name: "alpha"},
			{ID: "3", Name: "mid"},
		}}},
		{resp: Response{Text: "final answer"}},
	}}
	now, sleep := testClock()
	dispatcher := &orderedDispatcher{results: map[string]ToolResult{
		"zeta":  {Name: "zeta", Content: "z"},
		"alpha": {Name: "alpha", Content: "a"},
		"mid":   {Name: "mid", Content: "m"},
	}}

	var capturedTurns []ConversationTurn
	captureBackend := &capturingBackend{fakeBackend: backend, onSecondCall: func(req Request) { capturedTurns = req.Turns }}
	c := New(captureBackend, []string{"key1"}, "gemini-2.0-flash", WithClock(now, sleep))

	_, _, err := c.Generate(context.Background(), Request{Model: "gemini-2.0-flash"}, dispatcher, InjectedContext{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var toolTexts []string
	for _, turn := range capturedTurns {
		if turn.Role == RoleTool {
			toolTexts = append(toolTexts, turn.Parts[0].Text)
		}
	}
	if len(toolTexts) != 3 || toolTexts[0] != "a" || toolTexts[1] != "m" || toolTexts[2] != "z" {
		t.Fatalf("expected tool turns committed in name-sorted order [a,m,z], got %v", toolTexts)
	}
}

type capturingBackend struct {
	*fakeBackend
	onSecondCall func(req Request)
}

func (b *capturingBackend) Generate(ctx context.Context, apiKey string, req Request) (Response, error) {
	b.mu.Lock()
	callIdx := b.calls
	b.mu.Unlock()
	if callIdx == 1 && b.onSecondCall != nil {
		b.onSecondCall(req)
	}
	return b.fakeBackend.Generate(ctx, apiKey, req)
}

func TestInvokeWithRetryRotatesKeyOnQuotaError(t *testing.T) {
	quotaErr := aierrors.New(aierrors.KindLLMQuota, fmt.Errorf("quota exceeded"))
	backend := &fakeBackend{responses: []fakeResult{
		{err: quotaErr},
		{resp: Response{Text: "ok from second key"}},
	}}
	now, sleep := testClock()
	c := New(backend, []string{"key1", "key2"}, "gemini-2.0-flash", WithClock(now, sleep))

	text, _, err := c.Generate(context.Background(), Request{Model: "gemini-2.0-flash"}, nil, InjectedContext{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok from second key" {
		t.Fatalf("expected success after key rotation, got %q", text)
	}
	if len(backend.keysUsed) != 2 || backend.keysUsed[0] != "key1" || backend.keysUsed[1] != "key2" {
		t.Fatalf("expected key1 then key2, got %v", backend.keysUsed)
	}
}

func TestInvokeWithBackoffRetriesTransientErrorsThenSucceeds(t *testing.T) {
	transientErr := fmt.Errorf("503 service unavailable")
	backend := &fakeBackend{responses: []fakeResult{
		{err: transientErr},
		{err: transientErr},
		{resp: Response{Text: "recovered"}},
	}}
	now, sleep := testClock()
	c := New(backend, []string{"key1"}, "gemini-2.0-flash", WithClock(now, sleep))

	text, _, err := c.Generate(context.Background(), Request{Model: "gemini-2.0-flash"}, nil, InjectedContext{}, nil)
	if err != nil {
		t.Fatalf("unexpected error after retries: %v", err)
	}
	if text != "recovered" {
		t.Fatalf("expected eventual success, got %q", text)
	}
	if backend.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", backend.calls)
	}
}

func TestInvokeWithBackoffDoesNotRetryNonTransientError(t *testing.T) {
	backend := &fakeBackend{responses: []fakeResult{
		{err: fmt.Errorf("invalid argument: malformed request")},
	}}
	now, sleep := testClock()
	c := New(backend, []string{"key1"}, "gemini-2.0-flash", WithClock(now, sleep))

	_, _, err := c.Generate(context.Background(), Request{Model: "gemini-2.0-flash"}, nil, InjectedContext{}, nil)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if backend.calls != 1 {
		t.Fatalf("non-transient errors must not be retried, got %d calls", backend.calls)
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailuresAndRecoversAfterCooldown(t *testing.T) {
	nonTransient := fmt.Errorf("permanent failure")
	var responses []fakeResult
	for i := 0; i < 3; i++ {
		responses = append(responses, fakeResult{err: nonTransient})
	}
	responses = append(responses, fakeResult{resp: Response{Text: "back up"}})
	backend := &fakeBackend{responses: responses}
	now, sleep := testClock()
	c := New(backend, []string{"key1"}, "gemini-2.0-flash", WithClock(now, sleep), WithCircuitBreaker(3, 30*time.Second))

	for i := 0; i < 3; i++ {
		_, _, err := c.Generate(context.Background(), Request{Model: "gemini-2.0-flash"}, nil, InjectedContext{}, nil)
		if err == nil {
			t.Fatalf("expected failures to propagate before the breaker opens")
		}
	}

	_, _, err := c.Generate(context.Background(), Request{Model: "gemini-2.0-flash"}, nil, InjectedContext{}, nil)
	if err == nil || aierrors.ClassifyOf(err) == aierrors.KindLLMQuota {
		t.Fatalf("expected a circuit-breaker-open error while still within cooldown, got %v", err)
	}
	if backend.calls != 3 {
		t.Fatalf("the breaker must fail fast without calling the backend again, got %d calls", backend.calls)
	}

	sleep(31 * time.Second)
	text, _, err := c.Generate(context.Background(), Request{Model: "gemini-2.0-flash"}, nil, InjectedContext{}, nil)
	if err != nil {
		t.Fatalf("expected the half-open probe to succeed after cooldown: %v", err)
	}
	if text != "back up" {
		t.Fatalf("expected the probe's scripted response, got %q", text)
	}
}

func TestEmbedIsNonFatalOnBackendFailure(t *testing.T) {
	backend := &failingEmbedBackend{}
	now, sleep := testClock()
	c := New(backend, []string{"key1"}, "gemini-2.0-flash", WithClock(now, sleep))

	vec, err := c.Embed(context.Background(), "text-embedding-004", "hello")
	if err != nil {
		t.Fatalf("Embed must be non-fatal, got error: %v", err)
	}
	if vec != nil {
		t.Fatalf("expected a nil vector on backend failure, got %v", vec)
	}
}

type failingEmbedBackend struct{}

func (b *failingEmbedBackend) Name() string { return "failing" }
func (b *failingEmbedBackend) Generate(ctx context.Context, apiKey string, req Request) (Response, error) {
	return Response{}, fmt.Errorf("unused")
}
func (b *failingEmbedBackend) Embed(ctx context.Context, apiKey, model, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding backend down")
}

type fakeEmbeddingCache struct {
	mu    sync.Mutex
	store map[string][]float32
}

func (c *fakeEmbeddingCache) Get(ctx context.Context, text string) ([]float32, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.store[text]
	return vec, ok, nil
}

func (c *fakeEmbeddingCache) Put(ctx context.Context, text string, vector []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = make(map[string][]float32)
	}
	c.store[text] = vector
	return nil
}

func TestEmbedPrefersCacheOverBackend(t *testing.T) {
	backend := &fakeBackend{}
	cache := &fakeEmbeddingCache{store: map[string][]float32{"cached": {9, 9, 9}}}
	now, sleep := testClock()
	c := New(backend, []string{"key1"}, "gemini-2.0-flash", WithClock(now, sleep), WithEmbeddingCache(cache))

	vec, err := c.Embed(context.Background(), "text-embedding-004", "cached")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[0] != 9 {
		t.Fatalf("expected the cached vector, got %v", vec)
	}
	if backend.embedCalls != 0 {
		t.Fatalf("backend must not be invoked on a cache hit")
	}
}
