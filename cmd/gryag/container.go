package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/gryagbot/gryag/pkg/admin"
	"github.com/gryagbot/gryag/pkg/assembler"
	"github.com/gryagbot/gryag/pkg/chatlock"
	"github.com/gryagbot/gryag/pkg/config"
	"github.com/gryagbot/gryag/pkg/coordination"
	"github.com/gryagbot/gryag/pkg/embedcache"
	"github.com/gryagbot/gryag/pkg/episodes"
	"github.com/gryagbot/gryag/pkg/facts"
	"github.com/gryagbot/gryag/pkg/llm"
	"github.com/gryagbot/gryag/pkg/llm/geminiclient"
	"github.com/gryagbot/gryag/pkg/llm/openaiclient"
	"github.com/gryagbot/gryag/pkg/loops"
	"github.com/gryagbot/gryag/pkg/pipeline"
	"github.com/gryagbot/gryag/pkg/prompts"
	"github.com/gryagbot/gryag/pkg/ratelimit"
	"github.com/gryagbot/gryag/pkg/retrieval"
	"github.com/gryagbot/gryag/pkg/selflearn"
	"github.com/gryagbot/gryag/pkg/store"
	"github.com/gryagbot/gryag/pkg/tasks"
	"github.com/gryagbot/gryag/pkg/telegram"
	"github.com/gryagbot/gryag/pkg/tools"
	"github.com/gryagbot/gryag/pkg/tools/external"
	"github.com/gryagbot/gryag/pkg/turns"
)

// Container is the fully wired set of long-lived services one gryag
// process owns. It exists as an explicit struct rather than values
// stashed into a context.Context, per the "service container" shape the
// rest of this codebase's repositories already assume a caller builds
// once and passes around (store.Store, *llm.Client, and so on are all
// plain fields here, not context values).
type Container struct {
	cfg *config.Settings
	log zerolog.Logger

	store      *store.Store
	pipeline   *pipeline.Pipeline
	scheduler  *loops.Scheduler
	queue      tasks.Queue
	coord      *coordination.Coordinator
	llmClient  *llm.Client
	admin      *admin.Dispatcher
	selflearn  *selflearn.Recorder
}

// buildContainer constructs every service in dependency order. Nothing
// here starts a goroutine; call Start to begin background work.
func buildContainer(ctx context.Context, cfg *config.Settings, log zerolog.Logger) (*Container, error) {
	st, err := store.Open(ctx, cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	now := time.Now
	turnRepo := turns.New(st, now)
	factRepo := facts.New(st, now)
	promptRepo := prompts.New(st, now)

	llmClient, err := buildLLMClient(cfg, st, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	episodeRepo := episodes.New(st, turnRepo, episodes.DefaultBoundaries(), &episodeSummarizer{client: llmClient, model: cfg.LLM.DefaultModel}, now)
	retriever := retrieval.New(st, retrieval.Weights{
		Semantic: cfg.Weights.Semantic,
		Keyword:  cfg.Weights.Keyword,
		Temporal: cfg.Weights.Temporal,
		TauDays:  cfg.Weights.TauDays,
	}, now)
	asm := assembler.New(turnRepo, factRepo, retriever, episodeRepo, assembler.DefaultLayerBudgets())

	featureLimiter := ratelimit.NewFeatureLimiter(cfg.Limits.AdaptiveMinFactor, cfg.Limits.AdaptiveMaxFactor, now)
	featureLimiter.Configure("image_generation", cfg.Limits.ImageGenDailyLimit, cfg.Limits.ImageGenDailyLimit)

	toolRegistry := buildToolRegistry(cfg, factRepo, turnRepo, retriever, llmClient, featureLimiter, log)

	userLimiter := ratelimit.NewUserLimiter(cfg.Limits.PerUserPerHour, cfg.Limits.RateLimitWindow, now)
	recorder := selflearn.New(st, now, cfg.Features.BotSelfLearning)
	adminDispatcher := admin.NewDispatcher(admin.Deps{
		Facts:       factRepo,
		Turns:       turnRepo,
		Prompts:     promptRepo,
		Episodes:    episodeRepo,
		UserLimiter: userLimiter,
		Insights:    recorder,
		Now:         now,
		Log:         log,
	})

	// The cooldown gate lives in the pipeline (step 4, ahead of
	// Admin.Dispatch), not in admin.Deps; admin.Dispatch never checks it.
	cooldown := ratelimit.NewCommandCooldown(cfg.Limits.CommandCooldown, cfg.Limits.CooldownWarnWindow, adminDispatcher.CommandNames(), now)

	var coord *coordination.Coordinator
	if cfg.RedisURL != "" {
		coord = coordination.New(cfg.RedisURL, "gryag:coord:")
		if err := coord.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("coordination redis unreachable, continuing single-instance")
			coord = nil
		}
	}

	queue := buildTaskQueue(cfg, log)

	pl := pipeline.New(pipeline.Deps{
		Turns:           turnRepo,
		Facts:           factRepo,
		Episodes:        episodeRepo,
		Assembler:       asm,
		LLM:             llmClient,
		Tools:           toolRegistry,
		Prompts:         promptRepo,
		UserLimiter:     userLimiter,
		CommandCooldown: cooldown,
		FeatureLimiter:  featureLimiter,
		ChatLocks:       chatlock.New(chatlock.DefaultIdleAfter, now),
		Tasks:           queue,
		Sender:          nil, // wired by whatever concrete transport main() constructs
		Admin:           adminDispatcher,
		FactExtractor:   pipeline.NewLLMFactExtractor(llmClient, cfg.LLM.DefaultModel),
		Outcomes:        recorder,
		Config:          cfg,
		Log:             log,
		Now:             now,
	})
	pl.RegisterTaskHandlers(queue)

	scheduler := buildScheduler(cfg, st, turnRepo, factRepo, episodeRepo, log)

	return &Container{
		cfg:       cfg,
		log:       log,
		store:     st,
		pipeline:  pl,
		scheduler: scheduler,
		queue:     queue,
		coord:     coord,
		llmClient: llmClient,
		admin:     adminDispatcher,
		selflearn: recorder,
	}, nil
}

// buildLLMClient selects the Backend per cfg.LLM.Backend and wraps it in
// an llm.Client configured with the durable embedding cache and the
// configured generation/embedding concurrency ceilings.
func buildLLMClient(cfg *config.Settings, st *store.Store, log zerolog.Logger) (*llm.Client, error) {
	var backend llm.Backend
	switch cfg.LLM.Backend {
	case "gemini":
		backend = geminiclient.New()
	case "openai-compatible":
		backend = openaiclient.New("")
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.LLM.Backend)
	}

	opts := []llm.Option{
		llm.WithConcurrency(cfg.LLM.GenerationSema, cfg.LLM.EmbeddingSema),
		llm.WithCircuitBreaker(cfg.LLM.CircuitBreakerN, cfg.LLM.CircuitBreakerFor),
		llm.WithLogger(log),
	}
	if cfg.Features.EmbeddingCache {
		opts = append(opts, llm.WithEmbeddingCache(embedcache.New(st, cfg.LLM.EmbeddingModel, embedcache.DefaultMaxEntries)))
	}
	return llm.New(backend, cfg.LLM.APIKeys, cfg.LLM.DefaultModel, opts...), nil
}

// buildToolRegistry wires the built-in tools (calculator, memory,
// search) plus the external tool set (web search, fetch, weather,
// currency, polls, and image generation when configured).
func buildToolRegistry(cfg *config.Settings, factRepo *facts.Repository, turnRepo *turns.Repository, retriever *retrieval.Retriever, llmClient *llm.Client, featureLimiter *ratelimit.FeatureLimiter, log zerolog.Logger) *tools.Registry {
	reg := tools.NewRegistry()
	tools.RegisterCalculatorTool(reg)
	tools.RegisterMemoryTools(reg, factRepo)
	tools.RegisterSearchTool(reg, retriever, turnRepo, llmClient, cfg.LLM.EmbeddingModel)

	extCfg := external.Config{
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		SearchAPIKey: cfg.LLM.SearchAPIKey,
	}
	if cfg.Features.ImageGeneration && cfg.LLM.ImageAPIKey != "" {
		imgClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.LLM.ImageAPIKey, Backend: genai.BackendGeminiAPI})
		if err != nil {
			log.Warn().Err(err).Msg("image generation client construction failed, disabling generate_image/edit_image")
		} else {
			extCfg.ImageClient = imgClient
			extCfg.ImageLimiter = featureLimiterAdapter{featureLimiter}
		}
	}
	external.RegisterExternalTools(reg, extCfg)
	return reg
}

// featureLimiterAdapter adapts *ratelimit.FeatureLimiter's Decision
// return type to external.QuotaDecision so pkg/tools/external doesn't
// need to import pkg/ratelimit for one field.
type featureLimiterAdapter struct {
	limiter *ratelimit.FeatureLimiter
}

func (a featureLimiterAdapter) Allow(feature string, userID int64, isAdmin bool) external.QuotaDecision {
	decision := a.limiter.Allow(feature, userID, isAdmin)
	return external.QuotaDecision{Allowed: decision.Allowed}
}

// buildTaskQueue picks AsynqQueue when Redis is configured for it,
// otherwise the bounded in-process pool.
func buildTaskQueue(cfg *config.Settings, log zerolog.Logger) tasks.Queue {
	if cfg.AsynqRedis != "" {
		return tasks.NewAsynqQueue(cfg.AsynqRedis, 10, log)
	}
	return tasks.NewInProcessQueue(10, log)
}

// buildScheduler registers the background maintenance jobs. The
// donation scheduler is left unregistered: pkg/telegram is contract-only
// in this repo (spec.md §1's out-of-scope boundary on a concrete Bot API
// client), so there is no loops.Broadcaster to give it. A deployment
// wiring a concrete transport can append DonationSchedulerJob after
// buildContainer returns.
func buildScheduler(cfg *config.Settings, st *store.Store, turnRepo *turns.Repository, factRepo *facts.Repository, episodeRepo *episodes.Repository, log zerolog.Logger) *loops.Scheduler {
	s := loops.New(log)
	mustRegister := func(job loops.Job) {
		if err := s.Register(job); err != nil {
			log.Error().Err(err).Str("job", job.Name).Msg("failed to register background loop")
		}
	}
	mustRegister(loops.RetentionPrunerJob(turnRepo, cfg.Context.RetentionDays, log))
	mustRegister(loops.EpisodeMonitorJob(episodeRepo, log))
	mustRegister(loops.ResourceMonitorJob(st, log))
	mustRegister(loops.ProfileSummaryJob(factRepo, log))
	return s
}

// episodeSummarizer adapts *llm.Client into episodes.Summarizer, the
// same narrow-wrapper idiom pkg/pipeline/factextract.go uses for fact
// extraction: a fixed system prompt plus a direct Generate call with no
// tool dispatcher.
type episodeSummarizer struct {
	client *llm.Client
	model  string
}

const episodeSummaryPrompt = "Summarize the following conversation span in 2-3 sentences, focused on what was decided or discussed. Do not include meta-commentary."

func (s *episodeSummarizer) SummarizeEpisode(ctx context.Context, span []turns.Turn) (string, error) {
	var convo []llm.ConversationTurn
	for _, t := range span {
		role := llm.RoleUser
		if t.Role == turns.RoleModel {
			role = llm.RoleModel
		}
		convo = append(convo, llm.ConversationTurn{Role: role, Parts: []llm.Part{{Text: t.Text}}})
	}
	req := llm.Request{
		Model:  s.model,
		System: episodeSummaryPrompt,
		Turns:  convo,
		Params: llm.GenerationParams{Temperature: 0.3, MaxOutputTokens: 256},
	}
	text, _, err := s.client.Generate(ctx, req, nil, llm.InjectedContext{}, nil)
	return text, err
}

// Start begins background work: the task queue's workers and the cron
// scheduler, then runs every background job once as a warm-up pass and
// returns when that pass finishes; the queue and the cron clock keep
// running after Start returns. ctx governs the task queue's own lifetime
// when it is Redis-backed (AsynqQueue.Run blocks until ctx is done).
func (c *Container) Start(ctx context.Context) {
	switch q := c.queue.(type) {
	case *tasks.InProcessQueue:
		q.Start()
	case *tasks.AsynqQueue:
		go func() {
			if err := q.Run(ctx); err != nil {
				c.log.Error().Err(err).Msg("asynq task queue stopped")
			}
		}()
	}
	c.scheduler.Start()
	if err := c.scheduler.RunAllOnce(ctx); err != nil {
		c.log.Warn().Err(err).Msg("background loop warm-up pass reported an error")
	}
}

// Shutdown drains in-flight work and releases every held resource,
// honoring ctx's deadline for the cooperative parts.
func (c *Container) Shutdown(ctx context.Context) error {
	if err := c.scheduler.Stop(ctx); err != nil {
		c.log.Warn().Err(err).Msg("scheduler stop")
	}
	if inproc, ok := c.queue.(*tasks.InProcessQueue); ok {
		if err := inproc.Stop(ctx); err != nil {
			c.log.Warn().Err(err).Msg("task queue stop")
		}
	}
	if c.coord != nil {
		_ = c.coord.Close()
	}
	return c.store.Close()
}

// Telegram is the Sender the pipeline will deliver replies through, set
// once main() has constructed a concrete transport.
func (c *Container) SetSender(sender telegram.Sender) {
	c.pipeline.SetSender(sender)
}

// Pipeline exposes the wired pipeline so main can feed it inbound
// messages from whatever transport it builds.
func (c *Container) Pipeline() *pipeline.Pipeline {
	return c.pipeline
}
