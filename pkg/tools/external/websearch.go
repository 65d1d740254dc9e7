package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gryagbot/gryag/pkg/llm"
	"github.com/gryagbot/gryag/pkg/tools"
)

// duckDuckGoBaseURL is overridden in tests to point at an httptest
// server, following the injectable BaseURL pattern the corpus's search
// providers use (pkg/search/provider_exa.go).
const duckDuckGoBaseURL = "https://api.duckduckgo.com/"

// braveSearchBaseURL is Brave's default endpoint from
// pkg/search/config.go's BraveConfig.withDefaults; overridden in tests.
const braveSearchBaseURL = "https://api.search.brave.com/res/v1/web/search"

// registerWebSearchTool wires web_search against Brave Search when
// searchAPIKey (config.LLMSettings.SearchAPIKey) is set, adapted from
// pkg/search/provider_brave.go's request/response shape, and falls back
// to the teacher's DuckDuckGo instant-answer handler otherwise.
func registerWebSearchTool(reg *tools.Registry, client *http.Client, searchAPIKey string) {
	if searchAPIKey != "" {
		reg.Register(webSearchDefinition(), braveSearchHandler(client, braveSearchBaseURL, searchAPIKey))
		return
	}
	reg.Register(webSearchDefinition(), webSearchHandler(client, duckDuckGoBaseURL))
}

type braveWebResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Age         string `json:"age"`
}

type braveSearchResponse struct {
	Web struct {
		Results []braveWebResult `json:"results"`
	} `json:"web"`
}

// braveSearchHandler queries Brave's web search API, adapted from
// pkg/search/provider_brave.go's braveProvider.Search (same query
// params and X-Subscription-Token header, generalized from that
// package's Provider interface into a tools.Handler).
func braveSearchHandler(client *http.Client, baseURL, apiKey string) tools.Handler {
	return func(ctx context.Context, injected tools.Context, args map[string]any) (any, error) {
		query, err := readRequiredString(args, "query")
		if err != nil {
			return nil, err
		}

		searchURL, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid brave search base url: %w", err)
		}
		q := searchURL.Query()
		q.Set("q", query)
		q.Set("count", "5")
		searchURL.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("build brave search request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", apiKey)

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("brave search request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("brave search upstream returned status %d", resp.StatusCode)
		}

		var parsed braveSearchResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("decode brave search response: %w", err)
		}

		results := make([]map[string]any, 0, len(parsed.Web.Results))
		for _, r := range parsed.Web.Results {
			results = append(results, map[string]any{
				"title":       strings.TrimSpace(r.Title),
				"url":         r.URL,
				"description": strings.TrimSpace(r.Description),
				"age":         r.Age,
			})
		}

		return map[string]any{
			"status":     "success",
			"query":      query,
			"provider":   "brave",
			"no_results": len(results) == 0,
			"results":    results,
		}, nil
	}
}

func webSearchDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web for information. Returns a short summary and related results, not a full page.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "The search query."},
			},
			"required": []string{"query"},
		},
	}
}

type ddgResult struct {
	Summary       string `json:"AbstractText"`
	Answer        string `json:"Answer"`
	Definition    string `json:"Definition"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// webSearchHandler performs a DuckDuckGo instant-answer search, adapted
// from the teacher's performDuckDuckGoSearch (pkg/agents/tools/websearch.go).
func webSearchHandler(client *http.Client, baseURL string) tools.Handler {
	return func(ctx context.Context, injected tools.Context, args map[string]any) (any, error) {
		query, err := readRequiredString(args, "query")
		if err != nil {
			return nil, err
		}

		apiURL := fmt.Sprintf("%s?q=%s&format=json&no_html=1&skip_disambig=1", baseURL, url.QueryEscape(query))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build search request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("search request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("search upstream returned status %d", resp.StatusCode)
		}

		var ddg ddgResult
		if err := json.NewDecoder(resp.Body).Decode(&ddg); err != nil {
			return nil, fmt.Errorf("decode search response: %w", err)
		}

		var related []map[string]any
		for i, topic := range ddg.RelatedTopics {
			if topic.Text == "" {
				continue
			}
			related = append(related, map[string]any{"snippet": topic.Text, "url": topic.FirstURL})
			if i >= 2 {
				break
			}
		}

		noResults := ddg.Answer == "" && ddg.Summary == "" && ddg.Definition == "" && len(related) == 0
		if noResults {
			return map[string]any{
				"status":     "success",
				"query":      query,
				"no_results": true,
				"hint":       fmt.Sprintf("No direct results found for %q; try rephrasing.", query),
			}, nil
		}

		return map[string]any{
			"status":     "success",
			"query":      query,
			"answer":     strings.TrimSpace(ddg.Answer),
			"summary":    strings.TrimSpace(ddg.Summary),
			"definition": strings.TrimSpace(ddg.Definition),
			"related":    related,
		}, nil
	}
}
