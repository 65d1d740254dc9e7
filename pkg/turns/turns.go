// Package turns implements the context store: the append-only turn log,
// retention pruning, and per-(chat, user) ban flags.
package turns

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gryagbot/gryag/pkg/aierrors"
	"github.com/gryagbot/gryag/pkg/store"
	"github.com/gryagbot/gryag/pkg/vecenc"
)

// Role is the speaker of a turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
	RoleTool   Role = "tool"
)

// MediaPart is one attached media reference on a turn.
type MediaPart struct {
	Kind      string `json:"kind"` // image | audio | video | document | file_uri
	MIME      string `json:"mime"`
	Ref       string `json:"ref"` // payload reference or base64
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Turn is one row of the append-only conversation log.
type Turn struct {
	ID             int64
	ChatID         int64
	ThreadID       int64
	UserID         int64
	Role           Role
	Text           string
	Media          []MediaPart
	ReplyToID      *int64
	MessageID      int64 // platform message id this turn was created from, 0 for synthetic turns
	Metadata       map[string]string
	Embedding      []float32
	EpisodeID      *int64
	RetentionDays  int
	CreatedAt      int64
}

// Repository is the append-only turn log plus ban flags.
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

// AddTurn inserts a turn, serialising media and embedding, and
// associating it with episodeID if the turn belongs to an open episode.
func (r *Repository) AddTurn(ctx context.Context, t Turn) (int64, error) {
	mediaJSON, err := json.Marshal(t.Media)
	if err != nil {
		return 0, aierrors.New(aierrors.KindInternalBug, err, "op", "add_turn_marshal_media")
	}
	metaJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return 0, aierrors.New(aierrors.KindInternalBug, err, "op", "add_turn_marshal_meta")
	}
	var embeddingBytes []byte
	if len(t.Embedding) > 0 {
		embeddingBytes, err = vecenc.Encode(t.Embedding)
		if err != nil {
			return 0, aierrors.New(aierrors.KindInternalBug, err, "op", "add_turn_encode_embedding")
		}
	}
	retentionDays := t.RetentionDays
	if retentionDays == 0 {
		retentionDays = 90
	}
	createdAt := t.CreatedAt
	if createdAt == 0 {
		createdAt = r.now().Unix()
	}

	result, err := r.store.DB.Exec(ctx,
		`INSERT INTO turns (chat_id, thread_id, user_id, role, text, media_json, reply_to_id, message_id, metadata, embedding, episode_id, retention_days, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ChatID, t.ThreadID, t.UserID, string(t.Role), t.Text, string(mediaJSON), t.ReplyToID, t.MessageID, string(metaJSON), embeddingBytes, t.EpisodeID, retentionDays, createdAt,
	)
	if err != nil {
		return 0, aierrors.New(aierrors.KindStorageError, err, "op", "add_turn")
	}
	return result.LastInsertId()
}

// Recent returns the last maxTurns turns for (chatID, threadID) ordered
// chronologically (oldest first).
func (r *Repository) Recent(ctx context.Context, chatID, threadID int64, maxTurns int) ([]Turn, error) {
	rows, err := r.store.DB.Query(ctx,
		`SELECT id, chat_id, thread_id, user_id, role, text, media_json, reply_to_id, message_id, metadata, episode_id, retention_days, created_at
		 FROM turns WHERE chat_id=$1 AND thread_id=$2 ORDER BY created_at DESC, id DESC LIMIT $3`,
		chatID, threadID, maxTurns,
	)
	if err != nil {
		return nil, aierrors.New(aierrors.KindStorageError, err, "op", "recent")
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, aierrors.New(aierrors.KindStorageError, err, "op", "recent_scan")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, aierrors.New(aierrors.KindStorageError, err, "op", "recent_rows")
	}
	// reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTurn(row rowScanner) (Turn, error) {
	var t Turn
	var roleStr, mediaJSON, metaJSON string
	if err := row.Scan(&t.ID, &t.ChatID, &t.ThreadID, &t.UserID, &roleStr, &t.Text, &mediaJSON, &t.ReplyToID, &t.MessageID, &metaJSON, &t.EpisodeID, &t.RetentionDays, &t.CreatedAt); err != nil {
		return Turn{}, err
	}
	t.Role = Role(roleStr)
	_ = json.Unmarshal([]byte(mediaJSON), &t.Media)
	_ = json.Unmarshal([]byte(metaJSON), &t.Metadata)
	return t, nil
}

// FindByMessageID resolves a platform message id back to the turn it was
// persisted as, for reply-context enrichment (spec.md §4.9 step 7) when
// the replied-to message has scrolled out of the in-memory recent
// window. Returns nil, nil if no turn matches.
func (r *Repository) FindByMessageID(ctx context.Context, chatID, threadID, messageID int64) (*Turn, error) {
	if messageID == 0 {
		return nil, nil
	}
	row := r.store.DB.QueryRow(ctx,
		`SELECT id, chat_id, thread_id, user_id, role, text, media_json, reply_to_id, message_id, metadata, episode_id, retention_days, created_at
		 FROM turns WHERE chat_id=$1 AND thread_id=$2 AND message_id=$3 ORDER BY id DESC LIMIT 1`,
		chatID, threadID, messageID,
	)
	t, err := scanTurn(row)
	if err != nil {
		if aierrors.IsStorageError(err) {
			return nil, aierrors.New(aierrors.KindStorageError, err, "op", "find_by_message_id")
		}
		return nil, nil
	}
	return &t, nil
}

// importanceThreshold is the minimum importance score (§4.3) that
// exempts a turn from retention pruning even past retention_days.
const importanceThreshold = 0.7

// ImportanceScore is the lightweight scorer over length/media/fact-density
// used to decide whether an old turn is worth keeping past its
// retention window. It is intentionally cheap: no LLM call, just a
// weighted sum of cheap signals normalised to [0,1].
func ImportanceScore(t Turn, linkedFactCount int) float64 {
	lengthScore := clamp01(float64(len([]rune(t.Text))) / 500.0)
	mediaScore := clamp01(float64(len(t.Media)) / 3.0)
	factScore := clamp01(float64(linkedFactCount) / 2.0)
	return clamp01(0.3*lengthScore + 0.3*mediaScore + 0.4*factScore)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PruneOld deletes turns older than retentionDays, except those that
// belong to an unsealed episode (episode_id set but episodes.sealed_at
// is NULL) or are referenced as an active fact's evidence turn
// (facts.source_turn_id). Returns the number of rows deleted.
func (r *Repository) PruneOld(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := r.now().AddDate(0, 0, -retentionDays).Unix()
	result, err := r.store.DB.Exec(ctx,
		`DELETE FROM turns
		 WHERE created_at < $1
		   AND id NOT IN (
		     SELECT t.id FROM turns t
		     JOIN episodes e ON e.id = t.episode_id
		     WHERE e.sealed_at IS NULL
		   )
		   AND id NOT IN (
		     SELECT source_turn_id FROM facts WHERE source_turn_id IS NOT NULL AND is_active = 1
		   )`,
		cutoff,
	)
	if err != nil {
		return 0, aierrors.New(aierrors.KindStorageError, err, "op", "prune_old")
	}
	return result.RowsAffected()
}

// BanUser sets the per-(chatID, userID) ban flag.
func (r *Repository) BanUser(ctx context.Context, chatID, userID int64, reason string) error {
	_, err := r.store.DB.Exec(ctx,
		`INSERT INTO banned_users (chat_id, user_id, banned_at, reason) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (chat_id, user_id) DO UPDATE SET banned_at=excluded.banned_at, reason=excluded.reason`,
		chatID, userID, r.now().Unix(), reason,
	)
	if err != nil {
		return aierrors.New(aierrors.KindStorageError, err, "op", "ban_user")
	}
	return nil
}

// UnbanUser clears the ban flag. Idempotent.
func (r *Repository) UnbanUser(ctx context.Context, chatID, userID int64) error {
	_, err := r.store.DB.Exec(ctx, `DELETE FROM banned_users WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	if err != nil {
		return aierrors.New(aierrors.KindStorageError, err, "op", "unban_user")
	}
	return nil
}

// IsBanned reports whether (chatID, userID) is currently banned.
func (r *Repository) IsBanned(ctx context.Context, chatID, userID int64) (bool, error) {
	row := r.store.DB.QueryRow(ctx, `SELECT 1 FROM banned_users WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	var flag int
	err := row.Scan(&flag)
	if err == nil {
		return true, nil
	}
	if aierrors.IsStorageError(err) {
		return false, aierrors.New(aierrors.KindStorageError, err, "op", "is_banned")
	}
	return false, nil // sql.ErrNoRows: not banned
}
