package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/pkg/tools"
)

func TestIsAllowedURLBlocksPrivateAndLocalTargets(t *testing.T) {
	require.False(t, isAllowedURL("http://localhost/secret"))
	require.False(t, isAllowedURL("http://127.0.0.1/secret"))
	require.False(t, isAllowedURL("http://192.168.1.5/admin"))
	require.False(t, isAllowedURL("ftp://example.com/file"))
	require.True(t, isAllowedURL("https://example.com/article"))
}

func TestFetchURLHandlerExtractsTitleViaGoqueryFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Example Title</title><meta name="description" content="a short description"></head><body><p>first paragraph</p></body></html>`))
	}))
	defer srv.Close()

	handler := fetchURLHandler(srv.Client())
	out, err := handler(context.Background(), tools.Context{}, map[string]any{"url": srv.URL})
	require.NoError(t, err)

	payload := out.(map[string]any)
	require.Equal(t, "success", payload["status"])
	require.NotEmpty(t, payload["title"])
}

func TestFetchURLHandlerRejectsDisallowedURL(t *testing.T) {
	handler := fetchURLHandler(http.DefaultClient)
	_, err := handler(context.Background(), tools.Context{}, map[string]any{"url": "http://localhost/x"})
	require.Error(t, err)
}

func TestTruncateSummaryRespectsLimit(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	out := truncateSummary(string(long), 10)
	require.LessOrEqual(t, len(out), 13) // 10 + len("…") in bytes
}
