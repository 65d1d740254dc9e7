package external

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"
	readability "github.com/go-shiori/go-readability"

	"github.com/gryagbot/gryag/pkg/llm"
	"github.com/gryagbot/gryag/pkg/tools"
)

// maxFetchBodyBytes caps how much of a page is read before extraction,
// following the teacher's sized download in linkpreview.go's downloadImage.
const maxFetchBodyBytes = 2 << 20 // 2 MiB

// summaryCharLimit bounds the text handed back to the model so one
// fetch_url call can't blow the context budget, following the teacher's
// summarizeText truncation in linkpreview.go.
const summaryCharLimit = 4000

func registerFetchURLTool(reg *tools.Registry, client *http.Client) {
	reg.Register(fetchURLDefinition(), fetchURLHandler(client))
}

func fetchURLDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "fetch_url",
		Description: "Fetch a web page and return its title and a readable-text summary. Useful for reading an article a user linked.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "The page URL to fetch."},
			},
			"required": []string{"url"},
		},
	}
}

// isAllowedURL blocks localhost/private-network targets, adapted from
// the teacher's isAllowedURL (pkg/connector/linkpreview.go).
func isAllowedURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return false
	}
	if strings.HasPrefix(host, "192.168.") || strings.HasPrefix(host, "10.") || strings.HasPrefix(host, "172.") {
		return false
	}
	return true
}

func fetchURLHandler(client *http.Client) tools.Handler {
	return func(ctx context.Context, injected tools.Context, args map[string]any) (any, error) {
		rawURL, err := readRequiredString(args, "url")
		if err != nil {
			return nil, err
		}
		if !isAllowedURL(rawURL) {
			return nil, fmt.Errorf("url %q is not allowed", rawURL)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build fetch request: %w", err)
		}
		req.Header.Set("User-Agent", "gryagbot/1.0 (+link preview fetcher)")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("fetch upstream returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read fetch response: %w", err)
		}

		parsedURL, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("re-parse fetched url: %w", err)
		}

		title, text := extractReadableArticle(body, parsedURL)
		if title == "" || text == "" {
			fallbackTitle, fallbackText := extractWithGoquery(body)
			if title == "" {
				title = fallbackTitle
			}
			if text == "" {
				text = fallbackText
			}
		}

		return map[string]any{
			"status":  "success",
			"url":     rawURL,
			"title":   title,
			"summary": truncateSummary(text, summaryCharLimit),
		}, nil
	}
}

// extractReadableArticle runs go-readability's Mozilla-Readability port
// against the page, grounded on the internal/tools/web fetcher pattern
// (readability.FromReader(strings.NewReader(html), base)).
func extractReadableArticle(body []byte, base *url.URL) (title, text string) {
	article, err := readability.FromReader(strings.NewReader(string(body)), base)
	if err != nil {
		return "", ""
	}
	return strings.TrimSpace(article.Title), strings.TrimSpace(article.TextContent)
}

// extractWithGoquery falls back to OpenGraph metadata, then a plain
// <title>/meta-description/first-<p> scrape, adapted from the
// teacher's extractTitle/extractDescription (pkg/connector/linkpreview.go).
func extractWithGoquery(body []byte) (title, text string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", ""
	}

	og := opengraph.NewOpenGraph()
	if err := og.ProcessHTML(strings.NewReader(string(body))); err == nil {
		if og.Title != "" {
			title = og.Title
		}
		if og.Description != "" {
			text = og.Description
		}
	}

	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if text == "" {
		if meta, ok := doc.Find("meta[name='description']").Attr("content"); ok {
			text = strings.TrimSpace(meta)
		}
	}
	if text == "" {
		text = strings.TrimSpace(doc.Find("p").First().Text())
	}
	return title, text
}

func truncateSummary(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	return strings.TrimSpace(text[:limit]) + "…"
}
