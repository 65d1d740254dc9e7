package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/gryagbot/gryag/pkg/aierrors"
)

// maxRetriesPerKey is the spec's retry ceiling for transient server
// errors per key (5xx / overloaded / unavailable), with exponential
// backoff 1s/2s/4s.
const maxRetriesPerKey = 3

// maxToolLoopIterations caps the tool-call loop to prevent runaway
// back-and-forth with the model (spec.md §4.8).
const maxToolLoopIterations = 4

var retryBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// EmbeddingCache is the narrow surface pkg/embedcache.Cache satisfies.
type EmbeddingCache interface {
	Get(ctx context.Context, text string) ([]float32, bool, error)
	Put(ctx context.Context, text string, vector []float32) error
}

// Client orchestrates a Backend with key rotation, retry/backoff, a
// circuit breaker, one-shot capability fallback, and the tool-call
// loop. One Client serves one logical model family/backend.
type Client struct {
	backend Backend
	apiKeys []string
	model   string
	limits  MediaLimits
	caps    Capabilities
	capsMu  sync.RWMutex

	breaker *circuitBreaker
	cache   EmbeddingCache
	log     zerolog.Logger

	genSem   *semaphore.Weighted
	embedSem *semaphore.Weighted

	sleep func(d time.Duration)
	now   func() time.Time

	keyIdx   int
	keyIdxMu sync.Mutex
}

// Option configures a Client at construction.
type Option func(*Client)

// WithCircuitBreaker overrides the default breaker thresholds.
func WithCircuitBreaker(maxFailures int, cooldown time.Duration) Option {
	return func(c *Client) { c.breaker = newCircuitBreaker(maxFailures, cooldown, c.now) }
}

// WithEmbeddingCache wires a durable embedding cache (pkg/embedcache).
func WithEmbeddingCache(cache EmbeddingCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithMediaLimits overrides the default media count ceilings.
func WithMediaLimits(limits MediaLimits) Option {
	return func(c *Client) { c.limits = limits }
}

// WithConcurrency bounds how many Generate/Embed calls may be in flight
// at once (config.LLMSettings.GenerationSema/EmbeddingSema), the same
// weighted-semaphore throttle golang.org/x/sync already provides for
// pkg/loops' errgroup fan-in. A non-positive value leaves that call
// unbounded.
func WithConcurrency(generation, embedding int) Option {
	return func(c *Client) {
		if generation > 0 {
			c.genSem = semaphore.NewWeighted(int64(generation))
		}
		if embedding > 0 {
			c.embedSem = semaphore.NewWeighted(int64(embedding))
		}
	}
}

// WithLogger wires a logger for diagnostics such as the one INFO line
// per media part dropped by ShapeMedia (spec.md §8 scenario 7).
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithClock overrides time.Now/time.Sleep for deterministic tests.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// New builds a Client for model, rotating across apiKeys on per-key
// quota exhaustion. Capabilities are detected from model at construction.
func New(backend Backend, apiKeys []string, model string, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		apiKeys: apiKeys,
		model:   model,
		limits:  DefaultMediaLimits(),
		caps:    DetectCapabilities(model),
		now:     time.Now,
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = newCircuitBreaker(5, 60*time.Second, c.now)
	}
	return c
}

// Capabilities returns the client's current (possibly runtime-degraded)
// capability flags.
func (c *Client) Capabilities() Capabilities {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	return c.caps
}

func (c *Client) nextKey() string {
	c.keyIdxMu.Lock()
	defer c.keyIdxMu.Unlock()
	if len(c.apiKeys) == 0 {
		return ""
	}
	key := c.apiKeys[c.keyIdx%len(c.apiKeys)]
	return key
}

func (c *Client) rotateKey() {
	c.keyIdxMu.Lock()
	defer c.keyIdxMu.Unlock()
	if len(c.apiKeys) > 0 {
		c.keyIdx = (c.keyIdx + 1) % len(c.apiKeys)
	}
}

// Generate shapes req's media by the client's current capabilities and
// limits, then invokes the backend with retry/backoff/key-rotation/
// circuit-breaker/capability-fallback, and finally runs the tool-call
// loop to completion via dispatcher. priorVideoDescriptions backs the
// scenario-4 historical-video substitution.
func (c *Client) Generate(ctx context.Context, req Request, dispatcher Dispatcher, injected InjectedContext, priorVideoDescriptions map[string]string) (string, []ToolUsage, error) {
	if c.genSem != nil {
		if err := c.genSem.Acquire(ctx, 1); err != nil {
			return "", nil, aierrors.New(aierrors.KindLLMTransient, err, "op", "llm_generate_acquire")
		}
		defer c.genSem.Release(1)
	}

	caps := c.Capabilities()
	shaped := ShapeMedia(req.Turns, caps, c.limits, priorVideoDescriptions)
	req.Turns = shaped.Turns
	for _, mime := range shaped.Filtered {
		c.log.Info().Msg("Filtered unsupported media: " + mime)
	}
	if !caps.SupportsFunctionCalling {
		req.Tools = nil
	}

	var toolUsage []ToolUsage
	for iteration := 0; iteration < maxToolLoopIterations; iteration++ {
		resp, err := c.invokeWithRetry(ctx, req)
		if err != nil {
			return "", toolUsage, err
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Text, toolUsage, nil
		}
		if dispatcher == nil {
			return resp.Text, toolUsage, nil
		}

		results := c.dispatchToolCalls(ctx, resp.ToolCalls, dispatcher, injected, &toolUsage)
		sorted := make([]ToolResult, len(results))
		copy(sorted, results)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

		req.Turns = append(req.Turns, ConversationTurn{Role: RoleModel, Parts: []Part{{Text: resp.Text}}})
		for _, r := range sorted {
			req.Turns = append(req.Turns, ConversationTurn{Role: RoleTool, Parts: []Part{{Text: r.Content}}})
		}
	}
	return "", toolUsage, aierrors.New(aierrors.KindInternalBug, fmt.Errorf("tool-call loop exceeded %d iterations", maxToolLoopIterations), "op", "llm_tool_loop")
}

// dispatchToolCalls executes independent tool calls concurrently,
// recording latency/success telemetry for each into toolUsage.
func (c *Client) dispatchToolCalls(ctx context.Context, calls []ToolCall, dispatcher Dispatcher, injected InjectedContext, toolUsage *[]ToolUsage) []ToolResult {
	results := make([]ToolResult, len(calls))
	usages := make([]ToolUsage, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			start := c.now()
			result := dispatcher.Dispatch(ctx, call, injected)
			results[i] = result
			usages[i] = ToolUsage{Name: call.Name, LatencyMS: c.now().Sub(start).Milliseconds(), Success: !result.IsError}
		}(i, call)
	}
	wg.Wait()
	*toolUsage = append(*toolUsage, usages...)
	return results
}

// invokeWithRetry runs req against the backend, rotating keys on
// per-key quota errors, retrying transient errors up to
// maxRetriesPerKey times with exponential backoff, and performing a
// one-shot capability-disable-and-retry on a capability error.
func (c *Client) invokeWithRetry(ctx context.Context, req Request) (Response, error) {
	if !c.breaker.Allow() {
		return Response{}, aierrors.New(aierrors.KindLLMTransient, fmt.Errorf("circuit breaker open"), "op", "llm_generate")
	}

	capabilityFallbackUsed := false
	keysTried := 0
	maxKeysToTry := len(c.apiKeys)
	if maxKeysToTry == 0 {
		maxKeysToTry = 1
	}

	for keysTried < maxKeysToTry {
		key := c.nextKey()
		resp, err := c.invokeWithBackoff(ctx, key, req)
		if err == nil {
			c.breaker.RecordSuccess()
			return resp, nil
		}

		kind := aierrors.ClassifyOf(err)
		switch kind {
		case aierrors.KindLLMQuota:
			c.rotateKey()
			keysTried++
			continue
		case aierrors.KindLLMCapability:
			if !capabilityFallbackUsed {
				capabilityFallbackUsed = true
				if next, ok := applyCapabilityFallback(c.Capabilities(), err.Error()); ok {
					c.capsMu.Lock()
					c.caps = next
					c.capsMu.Unlock()
					req.Turns = ShapeMedia(req.Turns, next, c.limits, nil).Turns
					if !next.SupportsFunctionCalling {
						req.Tools = nil
					}
					continue
				}
			}
			c.breaker.RecordFailure()
			return Response{}, err
		default:
			c.breaker.RecordFailure()
			return Response{}, err
		}
	}
	c.breaker.RecordFailure()
	return Response{}, aierrors.New(aierrors.KindLLMQuota, fmt.Errorf("all API keys exhausted"), "op", "llm_generate")
}

// invokeWithBackoff retries a single key's transient (5xx-class) errors
// up to maxRetriesPerKey times with 1s/2s/4s backoff, per spec.md §4.8.
func (c *Client) invokeWithBackoff(ctx context.Context, key string, req Request) (Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetriesPerKey; attempt++ {
		resp, err := c.backend.Generate(ctx, key, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !aierrors.IsTransientError(err) {
			return Response{}, err
		}
		if attempt < len(retryBackoff) {
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			default:
				c.sleep(retryBackoff[attempt])
			}
		}
	}
	return Response{}, lastErr
}

// Embed returns text's embedding, consulting the cache first. Embedding
// failures are non-fatal: they return (nil, nil), and callers must
// treat a nil vector as semantic_score = 0 (spec.md §4.8, §9).
func (c *Client) Embed(ctx context.Context, embeddingModel string, text string) ([]float32, error) {
	if c.embedSem != nil {
		if err := c.embedSem.Acquire(ctx, 1); err != nil {
			return nil, nil
		}
		defer c.embedSem.Release(1)
	}
	if c.cache != nil {
		if vec, ok, err := c.cache.Get(ctx, text); err == nil && ok {
			return vec, nil
		}
	}

	key := c.nextKey()
	vec, err := c.backend.Embed(ctx, key, embeddingModel, text)
	if err != nil {
		return nil, nil // non-fatal per spec.md §9
	}
	if c.cache != nil {
		_ = c.cache.Put(ctx, text, vec)
	}
	return vec, nil
}
