// Package config loads and validates the bot's immutable runtime settings.
//
// Settings are sourced from environment variables (optionally pre-loaded
// from a .env file in development) per the stable contract in spec §6.4.
// Load validates up front the required credentials, the retrieval
// weight sum, the log level/format and the LLM backend: a failure there
// is a fatal config_invalid error. A numeric, boolean or duration
// variable that does not parse falls back to its default value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Settings is the fully-resolved, validated configuration for one process.
type Settings struct {
	Telegram TelegramSettings
	LLM      LLMSettings
	Admin    AdminSettings
	Limits   LimitsSettings
	Context  ContextSettings
	Weights  RetrievalWeights
	Log      LogSettings
	Features FeatureFlags

	DBPath     string
	RedisURL   string
	AsynqRedis string
}

type TelegramSettings struct {
	Token           string
	BotUserID       int64
	BotUsername     string
	TriggerKeywords []string // language-localised substring tokens that address the bot outside a reply/mention, e.g. "gryag"
}

type LLMSettings struct {
	Backend           string // "gemini" or "openai-compatible"
	APIKeys           []string
	ImageAPIKey       string
	SearchAPIKey      string
	DefaultModel      string
	EmbeddingModel    string
	GenerationSema    int
	EmbeddingSema     int
	CircuitBreakerN   int
	CircuitBreakerFor time.Duration
}

type AdminSettings struct {
	UserIDs        []int64
	AllowedChatIDs []int64 // empty means "all chats allowed"
}

type LimitsSettings struct {
	PerUserPerHour       int
	CommandCooldown      time.Duration
	EnableCmdThrottling  bool
	ImageGenDailyLimit   int
	AdaptiveMinFactor    float64
	AdaptiveMaxFactor    float64
	CooldownWarnWindow   time.Duration
	RateLimitWindow      time.Duration
}

type ContextSettings struct {
	MaxTurns                     int
	TokenBudget                  int
	SummaryThreshold             int
	MaxMediaItems                int
	MaxMediaItemsHistorical      int
	MaxVideoItems                int
	IncludeReplyExcerpt          bool
	ReplyExcerptMaxChars         int
	EnableCompactConversationFmt bool
	CompactFormatUseFullIDs      bool
	RetentionDays                int
}

type RetrievalWeights struct {
	Semantic float64
	Keyword  float64
	Temporal float64
	TauDays  float64
}

type LogSettings struct {
	Dir             string
	Level           string
	Format          string // "text" or "json"
	RetentionDays   int
	MaxBytes        int64
	BackupCount     int
	EnableConsole   bool
	EnableFile      bool
}

type FeatureFlags struct {
	MultiLevelContext bool
	SearchGrounding   bool
	ImageGeneration   bool
	BotSelfLearning   bool
	HybridSearch      bool
	EmbeddingCache    bool
}

// Load reads environment variables (after attempting to load a .env file,
// ignoring its absence) and returns validated Settings, or a config_invalid
// error describing exactly what is wrong.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{
		Telegram: TelegramSettings{
			Token:           os.Getenv("TELEGRAM_TOKEN"),
			BotUserID:       int64(envInt("TELEGRAM_BOT_USER_ID", 0)),
			BotUsername:     envOr("TELEGRAM_BOT_USERNAME", "gryag_bot"),
			TriggerKeywords: defaultTriggerKeywords(envOr("TRIGGER_KEYWORDS", "")),
		},
		LLM: LLMSettings{
			Backend:           envOr("LLM_BACKEND", "gemini"),
			APIKeys:           splitCSV(os.Getenv("GEMINI_API_KEY")),
			ImageAPIKey:       os.Getenv("IMAGE_GENERATION_API_KEY"),
			SearchAPIKey:      os.Getenv("SEARCH_API_KEY"),
			DefaultModel:      envOr("LLM_DEFAULT_MODEL", "gemini-2.5-flash"),
			EmbeddingModel:    envOr("LLM_EMBEDDING_MODEL", "text-embedding-004"),
			GenerationSema:    envInt("LLM_GENERATION_CONCURRENCY", 6),
			EmbeddingSema:     envInt("LLM_EMBEDDING_CONCURRENCY", 6),
			CircuitBreakerN:   envInt("LLM_CIRCUIT_BREAKER_FAILURES", 5),
			CircuitBreakerFor: envDuration("LLM_CIRCUIT_BREAKER_COOLDOWN", 60*time.Second),
		},
		Admin: AdminSettings{
			UserIDs:        splitCSVInt64(os.Getenv("ADMIN_USER_IDS")),
			AllowedChatIDs: splitCSVInt64(os.Getenv("ALLOWED_CHAT_IDS")),
		},
		Limits: LimitsSettings{
			PerUserPerHour:      envInt("RATE_LIMIT_PER_USER_PER_HOUR", 30),
			CommandCooldown:     envDuration("COMMAND_COOLDOWN_SECONDS_DUR", 0),
			EnableCmdThrottling: envBool("ENABLE_COMMAND_THROTTLING", true),
			ImageGenDailyLimit:  envInt("IMAGE_GENERATION_DAILY_LIMIT", 10),
			AdaptiveMinFactor:   envFloat("RATE_ADAPTIVE_MIN_FACTOR", 0.5),
			AdaptiveMaxFactor:   envFloat("RATE_ADAPTIVE_MAX_FACTOR", 2.0),
			CooldownWarnWindow:  600 * time.Second,
			RateLimitWindow:     time.Hour,
		},
		Context: ContextSettings{
			MaxTurns:                     envInt("MAX_TURNS", 30),
			TokenBudget:                  envInt("CONTEXT_TOKEN_BUDGET", 8000),
			SummaryThreshold:             envInt("CONTEXT_SUMMARY_THRESHOLD", 50),
			MaxMediaItems:                envInt("GEMINI_MAX_MEDIA_ITEMS", 28),
			MaxMediaItemsHistorical:      envInt("GEMINI_MAX_MEDIA_ITEMS_HISTORICAL", 5),
			MaxVideoItems:                envInt("GEMINI_MAX_VIDEO_ITEMS", 1),
			IncludeReplyExcerpt:          envBool("INCLUDE_REPLY_EXCERPT", true),
			ReplyExcerptMaxChars:         envInt("REPLY_EXCERPT_MAX_CHARS", 200),
			EnableCompactConversationFmt: envBool("ENABLE_COMPACT_CONVERSATION_FORMAT", false),
			CompactFormatUseFullIDs:      envBool("COMPACT_FORMAT_USE_FULL_IDS", false),
			RetentionDays:                envInt("RETENTION_DAYS", 90),
		},
		Weights: RetrievalWeights{
			Semantic: envFloat("SEMANTIC_WEIGHT", 0.5),
			Keyword:  envFloat("KEYWORD_WEIGHT", 0.3),
			Temporal: envFloat("TEMPORAL_WEIGHT", 0.2),
			TauDays:  envFloat("TEMPORAL_TAU_DAYS", 3.0),
		},
		Log: LogSettings{
			Dir:           envOr("LOG_DIR", "./logs"),
			Level:         envOr("LOG_LEVEL", "info"),
			Format:        envOr("LOG_FORMAT", "text"),
			RetentionDays: envInt("LOG_RETENTION_DAYS", 14),
			MaxBytes:      int64(envInt("LOG_MAX_BYTES", 10*1024*1024)),
			BackupCount:   envInt("LOG_BACKUP_COUNT", 5),
			EnableConsole: envBool("ENABLE_CONSOLE_LOGGING", true),
			EnableFile:    envBool("ENABLE_FILE_LOGGING", false),
		},
		Features: FeatureFlags{
			MultiLevelContext: envBool("ENABLE_MULTI_LEVEL_CONTEXT", true),
			SearchGrounding:   envBool("ENABLE_SEARCH_GROUNDING", false),
			ImageGeneration:   envBool("ENABLE_IMAGE_GENERATION", false),
			BotSelfLearning:   envBool("ENABLE_BOT_SELF_LEARNING", false),
			HybridSearch:      envBool("ENABLE_HYBRID_SEARCH", true),
			EmbeddingCache:    envBool("ENABLE_EMBEDDING_CACHE", true),
		},
		DBPath:     envOr("DB_PATH", "./gryag.db"),
		RedisURL:   os.Getenv("REDIS_URL"),
		AsynqRedis: os.Getenv("ASYNQ_REDIS_URL"),
	}

	if cd := envInt("COMMAND_COOLDOWN_SECONDS", 300); s.Limits.CommandCooldown == 0 {
		s.Limits.CommandCooldown = time.Duration(cd) * time.Second
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks required credentials, weight normalization, and legal
// log levels/formats. It never mutates s.
func (s *Settings) Validate() error {
	if s.Telegram.Token == "" {
		return fmt.Errorf("config_invalid: TELEGRAM_TOKEN is required")
	}
	if len(s.LLM.APIKeys) == 0 {
		return fmt.Errorf("config_invalid: GEMINI_API_KEY is required (comma-separated list accepted)")
	}

	sum := s.Weights.Semantic + s.Weights.Keyword + s.Weights.Temporal
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("config_invalid: retrieval weights must sum to 1.0 (got %.3f)", sum)
	}

	switch s.Log.Level {
	case "debug", "info", "warn", "error", "fatal", "panic", "trace":
	default:
		return fmt.Errorf("config_invalid: LOG_LEVEL %q is not a legal level", s.Log.Level)
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config_invalid: LOG_FORMAT %q must be text or json", s.Log.Format)
	}
	switch s.LLM.Backend {
	case "gemini", "openai-compatible":
	default:
		return fmt.Errorf("config_invalid: LLM_BACKEND %q must be gemini or openai-compatible", s.LLM.Backend)
	}
	return nil
}

// IsAdmin reports whether userID is a configured administrator.
func (s *Settings) IsAdmin(userID int64) bool {
	for _, id := range s.Admin.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ChatAllowed reports whether chatID may use the bot. An empty allowlist
// means every chat is allowed.
func (s *Settings) ChatAllowed(chatID int64) bool {
	if len(s.Admin.AllowedChatIDs) == 0 {
		return true
	}
	for _, id := range s.Admin.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// defaultTriggerKeywords falls back to the bot's own language-localised
// name tokens when TRIGGER_KEYWORDS is unset, per spec.md §4.9 step 3's
// "gryag"-like default.
func defaultTriggerKeywords(csv string) []string {
	if parsed := splitCSV(csv); len(parsed) > 0 {
		return parsed
	}
	return []string{"гряг", "gryag"}
}

func splitCSVInt64(v string) []int64 {
	parts := splitCSV(v)
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}
