package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gryagbot/gryag/pkg/llm"
	"github.com/gryagbot/gryag/pkg/tools"
)

// frankfurterBaseURL is overridden in tests to point at an httptest
// server, following the injectable BaseURL pattern the corpus's search
// providers use (pkg/search/provider_exa.go).
const frankfurterBaseURL = "https://api.frankfurter.app/latest"

// Same rationale as weather.go: no corpus precedent for a currency API,
// so this follows the teacher's bare net/http+encoding/json idiom
// against Frankfurter's free, key-less ECB-rate endpoint.
func registerCurrencyTool(reg *tools.Registry, client *http.Client) {
	reg.Register(currencyDefinition(), currencyHandler(client, frankfurterBaseURL))
}

func currencyDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "convert_currency",
		Description: "Convert an amount from one currency to another using current exchange rates.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount": map[string]any{"type": "number", "description": "The amount to convert."},
				"from":   map[string]any{"type": "string", "description": "Source currency code, e.g. USD."},
				"to":     map[string]any{"type": "string", "description": "Target currency code, e.g. EUR."},
			},
			"required": []string{"amount", "from", "to"},
		},
	}
}

type frankfurterResponse struct {
	Amount float64            `json:"amount"`
	Base   string             `json:"base"`
	Date   string             `json:"date"`
	Rates  map[string]float64 `json:"rates"`
}

func currencyHandler(client *http.Client, baseURL string) tools.Handler {
	return func(ctx context.Context, injected tools.Context, args map[string]any) (any, error) {
		amount := readOptionalNumber(args, "amount", -1)
		if amount < 0 {
			return nil, fmt.Errorf("parameter %q is required", "amount")
		}
		from, err := readRequiredString(args, "from")
		if err != nil {
			return nil, err
		}
		to, err := readRequiredString(args, "to")
		if err != nil {
			return nil, err
		}
		from = strings.ToUpper(from)
		to = strings.ToUpper(to)

		apiURL := fmt.Sprintf("%s?amount=%g&from=%s&to=%s", baseURL, amount, from, to)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build currency request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("currency request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("currency upstream returned status %d", resp.StatusCode)
		}

		var parsed frankfurterResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("decode currency response: %w", err)
		}

		converted, ok := parsed.Rates[to]
		if !ok {
			return nil, fmt.Errorf("no rate returned for %s", to)
		}

		return map[string]any{
			"status":    "success",
			"amount":    amount,
			"from":      from,
			"to":        to,
			"converted": converted,
			"rate_date": parsed.Date,
		}, nil
	}
}
