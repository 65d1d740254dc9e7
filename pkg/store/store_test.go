package store

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	row := s.DB.QueryRow(context.Background(), `SELECT count(*) FROM turns`)
	var count int
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 0, count)
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	err := s.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.DB.Exec(ctx, `INSERT INTO turns (chat_id, role, created_at) VALUES (1, 'user', 100)`)
		return err
	})
	require.NoError(t, err)

	row := s.DB.QueryRow(ctx, `SELECT count(*) FROM turns WHERE chat_id = 1`)
	var count int
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sentinel := require.Error
	err := s.WithTx(ctx, func(ctx context.Context) error {
		_, execErr := s.DB.Exec(ctx, `INSERT INTO turns (chat_id, role, created_at) VALUES (2, 'user', 100)`)
		require.NoError(t, execErr)
		return context.Canceled
	})
	sentinel(t, err)

	row := s.DB.QueryRow(ctx, `SELECT count(*) FROM turns WHERE chat_id = 2`)
	var count int
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 0, count)
}
