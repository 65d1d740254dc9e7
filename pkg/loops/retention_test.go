package loops

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/pkg/episodes"
	"github.com/gryagbot/gryag/pkg/facts"
	"github.com/gryagbot/gryag/pkg/store"
	"github.com/gryagbot/gryag/pkg/turns"
)

func TestRetentionPrunerJobDeletesOldTurns(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tr := turns.New(st, time.Now)
	now := time.Now()

	oldCreated := now.Add(-100 * 24 * time.Hour).Unix()
	_, err = tr.AddTurn(ctx, turns.Turn{ChatID: 1, Role: turns.RoleUser, Text: "ancient", CreatedAt: oldCreated})
	require.NoError(t, err)
	_, err = tr.AddTurn(ctx, turns.Turn{ChatID: 1, Role: turns.RoleUser, Text: "recent", CreatedAt: now.Unix()})
	require.NoError(t, err)

	job := RetentionPrunerJob(tr, 30, zerolog.Nop())
	require.Equal(t, "retention_pruner", job.Name)
	require.NoError(t, job.Run(ctx))

	remaining, err := tr.Recent(ctx, 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "recent", remaining[0].Text)
}

func TestEpisodeMonitorJobSealsIdleEpisode(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tr := turns.New(st, time.Now)
	b := episodes.DefaultBoundaries()
	b.IdleGapSeconds = 60
	er := episodes.New(st, tr, b, nil, time.Now)

	oldCreated := time.Now().Add(-1 * time.Hour).Unix()
	id, err := tr.AddTurn(ctx, turns.Turn{ChatID: 9, Role: turns.RoleUser, Text: "hello", CreatedAt: oldCreated})
	require.NoError(t, err)

	turns_, err := tr.Recent(ctx, 9, 0, 1)
	require.NoError(t, err)
	require.Len(t, turns_, 1)
	require.Equal(t, id, turns_[0].ID)
	require.NoError(t, er.Observe(ctx, turns_[0], nil))

	job := EpisodeMonitorJob(er, zerolog.Nop())
	require.Equal(t, "episode_monitor", job.Name)
	require.NoError(t, job.Run(ctx))

	sealed, err := er.RecentSealed(ctx, 9, 0, 10)
	require.NoError(t, err)
	require.Len(t, sealed, 1)
}

func TestResourceMonitorJobRunsWithoutError(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	job := ResourceMonitorJob(st, zerolog.Nop())
	require.Equal(t, "resource_monitor", job.Name)
	require.NoError(t, job.Run(ctx))
}

func TestProfileSummaryJobDecaysStaleFacts(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fr := facts.New(st, time.Now)
	_, err = fr.AddFact(ctx, facts.EntityUser, 1, 0, "preference", "favorite_color", "blue", 0.9, "said so")
	require.NoError(t, err)

	job := ProfileSummaryJob(fr, zerolog.Nop())
	require.Equal(t, "profile_summariser", job.Name)
	require.NoError(t, job.Run(ctx))
}

func TestDonationSchedulerJobNoopsWithoutBroadcaster(t *testing.T) {
	job := DonationSchedulerJob(nil, "", zerolog.Nop())
	require.Equal(t, "donation_scheduler", job.Name)
	require.NoError(t, job.Run(context.Background()))
}

type fakeBroadcaster struct {
	sent []string
}

func (f *fakeBroadcaster) BroadcastText(_ context.Context, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func TestDonationSchedulerJobBroadcastsWhenConfigured(t *testing.T) {
	b := &fakeBroadcaster{}
	job := DonationSchedulerJob(b, "support us", zerolog.Nop())
	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, []string{"support us"}, b.sent)
}
