package tools

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/pkg/retrieval"
	"github.com/gryagbot/gryag/pkg/store"
	"github.com/gryagbot/gryag/pkg/turns"
)

func newTestSearchDeps(t *testing.T) (*retrieval.Retriever, *turns.Repository) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	now := time.Unix(1700000000, 0)
	weights := retrieval.Weights{Semantic: 0.5, Keyword: 0.3, Temporal: 0.2, TauDays: 3.0}
	turnRepo := turns.New(st, func() time.Time { return now })
	retriever := retrieval.New(st, weights, func() time.Time { return now })
	return retriever, turnRepo
}

func TestSearchMessagesReturnsMatchingTurnText(t *testing.T) {
	retriever, turnRepo := newTestSearchDeps(t)
	ctx := context.Background()

	_, err := turnRepo.AddTurn(ctx, turns.Turn{ChatID: 1, Role: turns.RoleUser, Text: "cats are great pets", CreatedAt: 1699999000})
	require.NoError(t, err)
	_, err = turnRepo.AddTurn(ctx, turns.Turn{ChatID: 1, Role: turns.RoleUser, Text: "completely unrelated weather talk", CreatedAt: 1699999900})
	require.NoError(t, err)

	reg := NewRegistry()
	RegisterSearchTool(reg, retriever, turnRepo, nil, "")

	out, err := searchMessagesHandler(retriever, turnRepo, nil, "")(ctx, Context{ChatID: 1}, map[string]any{"query": "cats"})
	require.NoError(t, err)

	payload := out.(map[string]any)
	results := payload["results"].([]map[string]any)
	require.NotEmpty(t, results)
	require.Contains(t, results[0]["text"], "cats")
}

func TestSearchMessagesRequiresQuery(t *testing.T) {
	retriever, turnRepo := newTestSearchDeps(t)
	_, err := searchMessagesHandler(retriever, turnRepo, nil, "")(context.Background(), Context{ChatID: 1}, map[string]any{})
	require.Error(t, err)
}
