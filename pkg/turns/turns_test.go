package turns

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/pkg/store"
)

func newTestRepo(t *testing.T) (*Repository, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, func() time.Time { return time.Unix(1700000000, 0) }), st
}

func TestAddTurnAndRecentPreservesCausalOrder(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := r.AddTurn(ctx, Turn{ChatID: 1, Role: RoleUser, Text: "hi", CreatedAt: 100})
	require.NoError(t, err)
	_, err = r.AddTurn(ctx, Turn{ChatID: 1, Role: RoleModel, Text: "hello", CreatedAt: 101})
	require.NoError(t, err)

	got, err := r.Recent(ctx, 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, RoleUser, got[0].Role)
	require.Equal(t, RoleModel, got[1].Role)
	require.LessOrEqual(t, got[0].CreatedAt, got[1].CreatedAt, "model reply timestamp must be >= the user turn it answers")
}

func TestRecentLimitsToMaxTurns(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	for i := int64(0); i < 5; i++ {
		_, err := r.AddTurn(ctx, Turn{ChatID: 1, Role: RoleUser, Text: "x", CreatedAt: 100 + i})
		require.NoError(t, err)
	}
	got, err := r.Recent(ctx, 1, 0, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, int64(102), got[0].CreatedAt)
	require.Equal(t, int64(104), got[2].CreatedAt)
}

func TestBanUnbanIsBanned(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	banned, err := r.IsBanned(ctx, 1, 42)
	require.NoError(t, err)
	require.False(t, banned)

	require.NoError(t, r.BanUser(ctx, 1, 42, "spam"))
	banned, err = r.IsBanned(ctx, 1, 42)
	require.NoError(t, err)
	require.True(t, banned)

	require.NoError(t, r.UnbanUser(ctx, 1, 42))
	banned, err = r.IsBanned(ctx, 1, 42)
	require.NoError(t, err)
	require.False(t, banned)
}

func TestPruneOldProtectsUnsealedEpisodesAndActiveFactEvidence(t *testing.T) {
	r, st := newTestRepo(t)
	ctx := context.Background()

	oldTurnID, err := r.AddTurn(ctx, Turn{ChatID: 1, Role: RoleUser, Text: "old", CreatedAt: 0})
	require.NoError(t, err)
	protectedByEpisodeID, err := r.AddTurn(ctx, Turn{ChatID: 1, Role: RoleUser, Text: "old too", CreatedAt: 0})
	require.NoError(t, err)
	protectedByFactID, err := r.AddTurn(ctx, Turn{ChatID: 1, Role: RoleUser, Text: "evidence", CreatedAt: 0})
	require.NoError(t, err)

	_, err = st.DB.Exec(ctx, `INSERT INTO episodes (chat_id, started_at, first_turn_id) VALUES (1, 0, $1)`, protectedByEpisodeID)
	require.NoError(t, err)
	var episodeID int64
	require.NoError(t, st.DB.QueryRow(ctx, `SELECT id FROM episodes LIMIT 1`).Scan(&episodeID))
	_, err = st.DB.Exec(ctx, `UPDATE turns SET episode_id=$1 WHERE id=$2`, episodeID, protectedByEpisodeID)
	require.NoError(t, err)

	_, err = st.DB.Exec(ctx,
		`INSERT INTO facts (entity_type, entity_id, chat_context, category, key, value, normalised_value, confidence, source_turn_id, is_active, created_at, updated_at)
		 VALUES ('user', 1, 1, 'trait', 'k', 'v', 'v', 1.0, $1, 1, 0, 0)`,
		protectedByFactID,
	)
	require.NoError(t, err)

	deleted, err := r.PruneOld(ctx, 90)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	remaining, err := r.Recent(ctx, 1, 0, 100)
	require.NoError(t, err)
	var remainingIDs []int64
	for _, turn := range remaining {
		remainingIDs = append(remainingIDs, turn.ID)
	}
	require.NotContains(t, remainingIDs, oldTurnID)
	require.Contains(t, remainingIDs, protectedByEpisodeID)
	require.Contains(t, remainingIDs, protectedByFactID)
}

func TestFormatMetadataFixedKeyOrderAndEscaping(t *testing.T) {
	m := Metadata{
		ChatID:    -100,
		UserID:    42,
		Username:  `eve"il`,
		Name:      "Eve",
	}
	out := FormatMetadata(m, "hello")
	require.Contains(t, out, `chat_id="-100"`)
	require.Contains(t, out, `user_id="42"`)
	require.Contains(t, out, `username="eve\"il"`)
	require.True(t, strIndexBefore(out, "chat_id", "user_id"))
	require.True(t, strIndexBefore(out, "user_id", "username"))
	require.True(t, strIndexBefore(out, "username", "name"))
	require.Contains(t, out, "hello")
}

func strIndexBefore(s, a, b string) bool {
	ia, ib := -1, -1
	for i := 0; i+len(a) <= len(s); i++ {
		if s[i:i+len(a)] == a {
			ia = i
			break
		}
	}
	for i := 0; i+len(b) <= len(s); i++ {
		if s[i:i+len(b)] == b {
			ib = i
			break
		}
	}
	return ia >= 0 && ib >= 0 && ia < ib
}

func TestImportanceScoreClampedAndMonotonicInFactCount(t *testing.T) {
	low := ImportanceScore(Turn{Text: "hi"}, 0)
	high := ImportanceScore(Turn{Text: "hi"}, 5)
	require.Less(t, low, high)
	require.LessOrEqual(t, high, 1.0)
	require.GreaterOrEqual(t, low, 0.0)
}
