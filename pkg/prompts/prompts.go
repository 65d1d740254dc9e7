// Package prompts implements per-chat system-prompt overrides and their
// history (spec.md §4.9 step 9, §6.4 `/gryagprompt*` command family):
// resolution order chat > global > default, with every change recorded
// so `/gryagprompthistory` and `/gryagactivateprompt` have something to
// operate on.
package prompts

import (
	"context"
	"time"

	"github.com/gryagbot/gryag/pkg/aierrors"
	"github.com/gryagbot/gryag/pkg/store"
)

// GlobalChatID is the sentinel chat_id the global-scope override is
// stored under. Never a real Telegram chat id (those are always
// non-zero, signed), so there is no collision risk.
const GlobalChatID int64 = 0

// Override is one stored system-prompt row.
type Override struct {
	ID        int64
	ChatID    int64
	Text      string
	IsActive  bool
	CreatedBy int64
	CreatedAt int64
}

// Repository is the prompt_overrides table.
type Repository struct {
	store *store.Store
	now   func() time.Time
}

// New builds a Repository backed by st.
func New(st *store.Store, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{store: st, now: now}
}

// Set inserts a new override for chatID and marks it the sole active
// row for that scope, preserving every prior row as history.
func (r *Repository) Set(ctx context.Context, chatID int64, text string, createdBy int64) (int64, error) {
	var id int64
	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.store.DB.Exec(ctx, `UPDATE prompt_overrides SET is_active=0 WHERE chat_id=$1`, chatID); err != nil {
			return err
		}
		result, err := r.store.DB.Exec(ctx,
			`INSERT INTO prompt_overrides (chat_id, text, is_active, created_by, created_at) VALUES ($1, $2, 1, $3, $4)`,
			chatID, text, createdBy, r.now().Unix(),
		)
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, aierrors.New(aierrors.KindStorageError, err, "op", "prompts_set")
	}
	return id, nil
}

// Reset deactivates every override in chatID's scope, so resolution
// falls through to the next scope (global, then the hardcoded default).
func (r *Repository) Reset(ctx context.Context, chatID int64) error {
	_, err := r.store.DB.Exec(ctx, `UPDATE prompt_overrides SET is_active=0 WHERE chat_id=$1`, chatID)
	if err != nil {
		return aierrors.New(aierrors.KindStorageError, err, "op", "prompts_reset")
	}
	return nil
}

// Active returns the active override for chatID, or nil if none is set.
func (r *Repository) Active(ctx context.Context, chatID int64) (*Override, error) {
	row := r.store.DB.QueryRow(ctx,
		`SELECT id, chat_id, text, is_active, created_by, created_at FROM prompt_overrides
		 WHERE chat_id=$1 AND is_active=1`,
		chatID,
	)
	var o Override
	if err := row.Scan(&o.ID, &o.ChatID, &o.Text, &o.IsActive, &o.CreatedBy, &o.CreatedAt); err != nil {
		if aierrors.IsStorageError(err) {
			return nil, aierrors.New(aierrors.KindStorageError, err, "op", "prompts_active")
		}
		return nil, nil // sql.ErrNoRows: no active override
	}
	return &o, nil
}

// History returns the most recent limit overrides for chatID, newest
// first, regardless of active state.
func (r *Repository) History(ctx context.Context, chatID int64, limit int) ([]Override, error) {
	rows, err := r.store.DB.Query(ctx,
		`SELECT id, chat_id, text, is_active, created_by, created_at FROM prompt_overrides
		 WHERE chat_id=$1 ORDER BY created_at DESC LIMIT $2`,
		chatID, limit,
	)
	if err != nil {
		return nil, aierrors.New(aierrors.KindStorageError, err, "op", "prompts_history")
	}
	defer rows.Close()

	var out []Override
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.ID, &o.ChatID, &o.Text, &o.IsActive, &o.CreatedBy, &o.CreatedAt); err != nil {
			return nil, aierrors.New(aierrors.KindStorageError, err, "op", "prompts_history_row")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Activate marks id the active override for chatID, deactivating any
// other row in that scope. Returns false if id doesn't belong to chatID.
func (r *Repository) Activate(ctx context.Context, chatID, id int64) (bool, error) {
	found := false
	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		row := r.store.DB.QueryRow(ctx, `SELECT 1 FROM prompt_overrides WHERE id=$1 AND chat_id=$2`, id, chatID)
		var flag int
		if err := row.Scan(&flag); err != nil {
			if aierrors.IsStorageError(err) {
				return err
			}
			return nil // not found; found stays false
		}
		found = true
		if _, err := r.store.DB.Exec(ctx, `UPDATE prompt_overrides SET is_active=0 WHERE chat_id=$1`, chatID); err != nil {
			return err
		}
		_, err := r.store.DB.Exec(ctx, `UPDATE prompt_overrides SET is_active=1 WHERE id=$1`, id)
		return err
	})
	if err != nil {
		return false, aierrors.New(aierrors.KindStorageError, err, "op", "prompts_activate")
	}
	return found, nil
}

// DefaultPrompt is the hardcoded fallback used when neither a chat-scoped
// nor a global override is active.
const DefaultPrompt = "You are gryag, a helpful assistant in a group chat. Be concise and direct."

// Resolve returns the system prompt text to use for chatID, per the
// chat > global > default order of spec.md §4.9 step 9.
func (r *Repository) Resolve(ctx context.Context, chatID int64) (string, error) {
	if o, err := r.Active(ctx, chatID); err != nil {
		return "", err
	} else if o != nil {
		return o.Text, nil
	}
	if chatID != GlobalChatID {
		if o, err := r.Active(ctx, GlobalChatID); err != nil {
			return "", err
		} else if o != nil {
			return o.Text, nil
		}
	}
	return DefaultPrompt, nil
}
