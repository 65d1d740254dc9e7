package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/pkg/tools"
)

func TestWeatherHandlerParsesCurrentConditions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current_weather":{"temperature":21.5,"windspeed":10,"weathercode":0,"time":"2026-07-31T12:00"}}`))
	}))
	defer srv.Close()

	handler := weatherHandler(srv.Client(), srv.URL)
	out, err := handler(context.Background(), tools.Context{}, map[string]any{"latitude": 50.45, "longitude": 30.52})
	require.NoError(t, err)

	payload := out.(map[string]any)
	require.Equal(t, "success", payload["status"])
	require.Equal(t, "clear sky", payload["condition_summary"])
	require.InDelta(t, 21.5, payload["temperature_c"], 1e-9)
}

func TestWeatherHandlerRequiresCoordinates(t *testing.T) {
	handler := weatherHandler(http.DefaultClient, openMeteoBaseURL)
	_, err := handler(context.Background(), tools.Context{}, map[string]any{})
	require.Error(t, err)
}

func TestWeatherCodeSummaryMapsKnownCodes(t *testing.T) {
	require.Equal(t, "rain", weatherCodeSummary(61))
	require.Equal(t, "thunderstorm", weatherCodeSummary(96))
	require.Equal(t, "unknown", weatherCodeSummary(-1))
}
