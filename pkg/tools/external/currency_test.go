package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/pkg/tools"
)

func TestCurrencyHandlerConvertsAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"amount":100,"base":"USD","date":"2026-07-30","rates":{"EUR":92.3}}`))
	}))
	defer srv.Close()

	handler := currencyHandler(srv.Client(), srv.URL)
	out, err := handler(context.Background(), tools.Context{}, map[string]any{"amount": 100, "from": "usd", "to": "eur"})
	require.NoError(t, err)

	payload := out.(map[string]any)
	require.Equal(t, "success", payload["status"])
	require.Equal(t, "EUR", payload["to"])
	require.InDelta(t, 92.3, payload["converted"], 1e-9)
}

func TestCurrencyHandlerMissingRateErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"amount":100,"base":"USD","date":"2026-07-30","rates":{}}`))
	}))
	defer srv.Close()

	handler := currencyHandler(srv.Client(), srv.URL)
	_, err := handler(context.Background(), tools.Context{}, map[string]any{"amount": 100, "from": "usd", "to": "eur"})
	require.Error(t, err)
}

func TestCurrencyHandlerRequiresFromAndTo(t *testing.T) {
	handler := currencyHandler(http.DefaultClient, frankfurterBaseURL)
	_, err := handler(context.Background(), tools.Context{}, map[string]any{"amount": 10})
	require.Error(t, err)
}
