package assembler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/pkg/episodes"
	"github.com/gryagbot/gryag/pkg/facts"
	"github.com/gryagbot/gryag/pkg/retrieval"
	"github.com/gryagbot/gryag/pkg/store"
	"github.com/gryagbot/gryag/pkg/turns"
)

func newTestAssembler(t *testing.T) (*Assembler, *turns.Repository, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	now := func() time.Time { return time.Unix(1700000000, 0) }
	tr := turns.New(st, now)
	fr := facts.New(st, now)
	ret := retrieval.New(st, retrieval.Weights{Semantic: 0.5, Keyword: 0.3, Temporal: 0.2, TauDays: 3}, now)
	er := episodes.New(st, tr, episodes.DefaultBoundaries(), nil, now)
	return New(tr, fr, ret, er, DefaultLayerBudgets()), tr, st
}

func TestEstimatedTokensStaysWithinBudgetPlusSlack(t *testing.T) {
	a, tr, _ := newTestAssembler(t)
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		_, err := tr.AddTurn(ctx, turns.Turn{
			ChatID: 1, Role: turns.RoleUser,
			Text:      fmt.Sprintf("this is message number %d with some extra words to pad it out", i),
			CreatedAt: 1000 + int64(i),
		})
		require.NoError(t, err)
	}

	budget := 2000
	out, err := a.Assemble(ctx, Request{ChatID: 1, TotalBudget: budget, QueryText: "message"})
	require.NoError(t, err)
	require.LessOrEqual(t, out.EstimatedTokens, int(float64(budget)*1.10), "assembled context must stay within budget + 10%% slack")
}

func TestAssembleDeduplicatesAcrossLayers(t *testing.T) {
	a, tr, _ := newTestAssembler(t)
	ctx := context.Background()

	var lastID int64
	for i := 0; i < 5; i++ {
		id, err := tr.AddTurn(ctx, turns.Turn{ChatID: 1, Role: turns.RoleUser, Text: "cats are great", CreatedAt: 1000 + int64(i)})
		require.NoError(t, err)
		lastID = id
	}

	out, err := a.Assemble(ctx, Request{ChatID: 1, TotalBudget: 5000, QueryText: "cats", ImmediateCount: 5, RecentCount: 5, RelevantLimit: 5})
	require.NoError(t, err)

	seen := make(map[int64]int)
	for _, turn := range out.Turns {
		seen[turn.ID]++
	}
	for id, count := range seen {
		require.Equal(t, 1, count, "turn %d must appear at most once across immediate/recent/relevant layers", id)
	}
	require.Contains(t, seen, lastID)
}

func TestAssembleFallsBackOnZeroTurns(t *testing.T) {
	a, _, _ := newTestAssembler(t)
	ctx := context.Background()

	out, err := a.Assemble(ctx, Request{ChatID: 999, TotalBudget: 1000})
	require.NoError(t, err)
	require.True(t, out.UsedFallback)
	require.Equal(t, int64(1), a.FallbackCount())
	require.Empty(t, out.Turns)
}

func TestTruncateHistoryToTokensDropsOldestFirst(t *testing.T) {
	history := []turns.Turn{
		{ID: 1, Text: "one two three four five", CreatedAt: 1},
		{ID: 2, Text: "six seven eight nine ten", CreatedAt: 2},
		{ID: 3, Text: "eleven twelve thirteen fourteen fifteen", CreatedAt: 3},
	}
	trimmed := TruncateHistoryToTokens(history, 10)
	require.NotEmpty(t, trimmed)
	require.Equal(t, int64(3), trimmed[len(trimmed)-1].ID, "the newest turn must survive truncation")
	for _, dropped := range history[:len(history)-len(trimmed)] {
		require.NotContains(t, idsOf(trimmed), dropped.ID)
	}
}

func idsOf(ts []turns.Turn) []int64 {
	out := make([]int64, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func TestBackgroundLayerToleratesFactRepoFailureGracefully(t *testing.T) {
	a, tr, _ := newTestAssembler(t)
	ctx := context.Background()
	_, err := tr.AddTurn(ctx, turns.Turn{ChatID: 1, Role: turns.RoleUser, Text: "hi", CreatedAt: 1000})
	require.NoError(t, err)

	out, err := a.Assemble(ctx, Request{ChatID: 1, CurrentUserID: 42, TotalBudget: 1000})
	require.NoError(t, err)
	require.NotNil(t, out) // empty background digest is fine, must never error out the whole assembly
}
