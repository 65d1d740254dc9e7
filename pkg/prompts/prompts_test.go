package prompts

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/gryagbot/gryag/pkg/store"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, time.Now)
}

func TestResolveFallsThroughChatGlobalDefault(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	text, err := r.Resolve(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, DefaultPrompt, text)

	_, err = r.Set(ctx, GlobalChatID, "global prompt", 1)
	require.NoError(t, err)
	text, err = r.Resolve(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, "global prompt", text)

	_, err = r.Set(ctx, 100, "chat-specific prompt", 1)
	require.NoError(t, err)
	text, err = r.Resolve(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, "chat-specific prompt", text)
}

func TestSetDeactivatesPriorOverrideInScope(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	id1, err := r.Set(ctx, 1, "first", 1)
	require.NoError(t, err)
	_, err = r.Set(ctx, 1, "second", 1)
	require.NoError(t, err)

	active, err := r.Active(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, "second", active.Text)

	history, err := r.History(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.NotEqual(t, id1, active.ID)
}

func TestResetClearsActiveOverride(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.Set(ctx, 1, "custom", 1)
	require.NoError(t, err)
	require.NoError(t, r.Reset(ctx, 1))

	active, err := r.Active(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestActivateRestoresAnOlderOverride(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	id1, err := r.Set(ctx, 1, "first", 1)
	require.NoError(t, err)
	_, err = r.Set(ctx, 1, "second", 1)
	require.NoError(t, err)

	ok, err := r.Activate(ctx, 1, id1)
	require.NoError(t, err)
	require.True(t, ok)

	active, err := r.Active(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "first", active.Text)
}

func TestActivateRejectsIDFromAnotherChat(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	id1, err := r.Set(ctx, 1, "chat one prompt", 1)
	require.NoError(t, err)

	ok, err := r.Activate(ctx, 2, id1)
	require.NoError(t, err)
	require.False(t, ok)
}
