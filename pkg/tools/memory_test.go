package tools

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/pkg/facts"
	"github.com/gryagbot/gryag/pkg/store"
)

func newTestFactsRepo(t *testing.T) *facts.Repository {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return facts.New(st, func() time.Time { return time.Unix(1700000000, 0) })
}

func TestEntityScopeNegativeUserIDIsChatScoped(t *testing.T) {
	entityType, entityID := entityScope(-100, -1)
	require.Equal(t, facts.EntityChat, entityType)
	require.Equal(t, int64(-100), entityID)
}

func TestEntityScopePositiveUserIDIsUserScoped(t *testing.T) {
	entityType, entityID := entityScope(-100, 42)
	require.Equal(t, facts.EntityUser, entityType)
	require.Equal(t, int64(42), entityID)
}

func TestRememberFactThenRecallFactsRoundTrips(t *testing.T) {
	repo := newTestFactsRepo(t)
	reg := NewRegistry()
	RegisterMemoryTools(reg, repo)
	ctx := context.Background()
	injected := Context{ChatID: -100, UserID: 42}

	_, err := rememberFactHandler(repo)(ctx, injected, map[string]any{
		"category": "preference", "key": "location", "value": "Kyiv", "confidence": 0.9,
	})
	require.NoError(t, err)

	out, err := recallFactsHandler(repo)(ctx, injected, map[string]any{})
	require.NoError(t, err)

	payload := out.(map[string]any)
	rows := payload["facts"].([]map[string]any)
	require.Len(t, rows, 1)
	require.Equal(t, "Kyiv", rows[0]["value"])
}

func TestRememberFactNegativeUserIDStoresChatScoped(t *testing.T) {
	repo := newTestFactsRepo(t)
	ctx := context.Background()

	_, err := rememberFactHandler(repo)(ctx, Context{ChatID: -100}, map[string]any{
		"user_id": -1, "category": "rule", "key": "topic_ban", "value": "politics",
	})
	require.NoError(t, err)

	rows, err := repo.GetFacts(ctx, facts.EntityChat, -100, -100, nil, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "politics", rows[0].Value)
}

func TestUpdateFactUnknownIDReturnsNotFound(t *testing.T) {
	repo := newTestFactsRepo(t)
	out, err := updateFactHandler(repo)(context.Background(), Context{}, map[string]any{"fact_id": 999})
	require.NoError(t, err)
	require.Equal(t, "not_found", out.(map[string]any)["status"])
}

func TestForgetFactUnknownKeyReturnsNotFound(t *testing.T) {
	repo := newTestFactsRepo(t)
	out, err := forgetFactHandler(repo)(context.Background(), Context{}, map[string]any{
		"fact_type": "preference", "fact_key": "location", "reason": "outdated",
	})
	require.NoError(t, err)
	require.Equal(t, "not_found", out.(map[string]any)["status"])
}

func TestForgetFactInvalidReasonErrors(t *testing.T) {
	repo := newTestFactsRepo(t)
	_, err := forgetFactHandler(repo)(context.Background(), Context{}, map[string]any{
		"fact_type": "preference", "fact_key": "location", "reason": "because",
	})
	require.Error(t, err)
}

func TestForgetFactThenRecallExcludesForgotten(t *testing.T) {
	repo := newTestFactsRepo(t)
	ctx := context.Background()
	injected := Context{ChatID: -100, UserID: 42}

	_, err := repo.AddFact(ctx, facts.EntityUser, 42, -100, "preference", "location", "Kyiv", 0.9, "said so")
	require.NoError(t, err)

	out, err := forgetFactHandler(repo)(ctx, injected, map[string]any{
		"fact_type": "preference", "fact_key": "location", "reason": "user_requested",
	})
	require.NoError(t, err)
	require.Equal(t, "success", out.(map[string]any)["status"])

	recalled, err := recallFactsHandler(repo)(ctx, injected, map[string]any{})
	require.NoError(t, err)
	require.Empty(t, recalled.(map[string]any)["facts"])
}

func TestForgetFactNegativeUserIDTargetsChatScope(t *testing.T) {
	repo := newTestFactsRepo(t)
	ctx := context.Background()

	_, err := repo.AddFact(ctx, facts.EntityChat, -100, -100, "rule", "topic_ban", "politics", 0.9, "said so")
	require.NoError(t, err)

	out, err := forgetFactHandler(repo)(ctx, Context{ChatID: -100}, map[string]any{
		"user_id": -1, "fact_type": "rule", "fact_key": "topic_ban", "reason": "superseded",
	})
	require.NoError(t, err)
	require.Equal(t, "success", out.(map[string]any)["status"])
}
