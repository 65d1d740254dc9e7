// Package store wraps the gryag SQLite schema behind go.mau.fi/util/dbutil,
// the same lightweight SQL helper the teacher uses for its memory and
// textfs stores, applied directly instead of through the mautrix
// bridgev2 framework this module doesn't carry.
package store

import (
	"context"
	"database/sql"
	"fmt"

	// registers the "sqlite3" driver used by dbutil below.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/gryagbot/gryag/pkg/aierrors"
	"github.com/gryagbot/gryag/pkg/store/migrations"
)

// Store is the persistent-store substrate every repository package
// (facts, turns, embedcache, episodes, ...) builds its queries on top
// of. It owns one *dbutil.Database for the process.
type Store struct {
	DB *dbutil.Database
}

// Open opens (creating if necessary) the SQLite database at path in WAL
// mode and applies any pending migrations. path may be ":memory:" for
// tests.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	dsn := path
	if dsn != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	}
	rawDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, aierrors.New(aierrors.KindStorageError, err, "op", "open")
	}
	rawDB.SetMaxOpenConns(1) // SQLite: one writer, serialize via this pool
	rawDB.SetMaxIdleConns(1)

	db := dbutil.NewWithDB(rawDB, "sqlite3")
	db.Log = dbutil.ZeroLogger(log)
	db.UpgradeTable = migrations.Table

	if err := db.Upgrade(ctx); err != nil {
		return nil, aierrors.New(aierrors.KindStorageError, err, "op", "upgrade")
	}
	return &Store{DB: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error fn returns. fn receives a ctx with the transaction
// attached: repository methods that already take a ctx and call
// s.DB.QueryRow(ctx, ...)/s.DB.Exec(ctx, ...) pick it up transparently,
// so a multi-statement write (fact update + version insert) just calls
// the same repository methods from inside WithTx instead of Exec
// directly.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.DB.Transaction(ctx, fn); err != nil {
		return aierrors.New(aierrors.KindStorageError, err, "op", "with_tx")
	}
	return nil
}
