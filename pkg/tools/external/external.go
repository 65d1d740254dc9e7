// Package external implements the tool-call handlers that reach outside
// the process: web search, link/article fetch, weather, currency
// conversion, image generation, and poll construction (spec.md §6.5).
// Each handler reports failure by returning an error, which pkg/tools'
// registry turns into the uniform {status:"error",...} shape; only the
// image quota gate builds an error-shaped payload itself.
package external

import (
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/gryagbot/gryag/pkg/tools"
)

// defaultHTTPTimeout mirrors the teacher's 10s client.Timeout for its
// one built-in HTTP tool (pkg/agents/tools/websearch.go).
const defaultHTTPTimeout = 10 * time.Second

// QuotaDecision is the narrow result external tools need from a quota
// check: whether the call is allowed, mirroring ratelimit.Decision's
// Allowed field without importing pkg/ratelimit here.
type QuotaDecision struct {
	Allowed bool
}

// Limiter is the narrow quota-check surface generate_image/edit_image
// need, adapted from *ratelimit.FeatureLimiter at the call site since its
// Decision type isn't reused here.
type Limiter interface {
	Allow(feature string, userID int64, isAdmin bool) QuotaDecision
}

// Config bundles the dependencies the external tool set needs. An
// ImageClient left nil simply skips registering generate_image/edit_image.
// ImageLimiter left nil means image generation is unmetered.
type Config struct {
	HTTPClient   *http.Client
	ImageClient  *genai.Client
	ImageModel   string
	ImageLimiter Limiter
	SearchAPIKey string // config.LLMSettings.SearchAPIKey; Brave Search when set, else DuckDuckGo
}

// RegisterExternalTools wires every external tool into reg per cfg.
func RegisterExternalTools(reg *tools.Registry, cfg Config) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	registerWebSearchTool(reg, httpClient, cfg.SearchAPIKey)
	registerFetchURLTool(reg, httpClient)
	registerWeatherTool(reg, httpClient)
	registerCurrencyTool(reg, httpClient)
	registerPollTool(reg)

	if cfg.ImageClient != nil {
		registerImageTools(reg, cfg.ImageClient, cfg.ImageModel, cfg.ImageLimiter)
	}
}
