package selflearn

import (
	"context"
	"database/sql"

	"github.com/gryagbot/gryag/pkg/aierrors"
	"github.com/gryagbot/gryag/pkg/facts"
)

// BotFact is a single self-observation: a trait or pattern the
// self-learning loop has inferred about the bot's own behaviour, e.g.
// "tends to over-hedge in #support" or "rarely uses the weather tool".
// Unlike pkg/facts.Fact these are not scoped to a user or chat; there is
// exactly one bot.
type BotFact struct {
	ID         int64
	Category   string
	Key        string
	Value      string
	Confidence float64
	CreatedAt  int64
	UpdatedAt  int64
}

// AddBotFact upserts by (category, key, Normalise(value)), reusing
// pkg/facts' normalisation table so "Over Hedges" and "over   hedges"
// collide the same way a user fact would.
func (r *Recorder) AddBotFact(ctx context.Context, category, key, value string, confidence float64) (int64, error) {
	if !r.enabled {
		return 0, nil
	}
	normalised := facts.Normalise(value)
	now := r.now().Unix()

	var id int64
	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		row := r.store.DB.QueryRow(ctx,
			`SELECT id FROM bot_profile_facts WHERE category=$1 AND key=$2 AND normalised_value=$3 AND is_active=1`,
			category, key, normalised,
		)
		scanErr := row.Scan(&id)
		if scanErr == nil {
			_, err := r.store.DB.Exec(ctx,
				`UPDATE bot_profile_facts SET confidence=$1, updated_at=$2 WHERE id=$3`,
				confidence, now, id,
			)
			return err
		}
		if scanErr != sql.ErrNoRows {
			return scanErr
		}
		res, err := r.store.DB.Exec(ctx,
			`INSERT INTO bot_profile_facts (category, key, value, normalised_value, confidence, is_active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, 1, $6, $6)`,
			category, key, value, normalised, confidence, now,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, aierrors.New(aierrors.KindStorageError, err, "op", "add_bot_fact")
	}
	return id, nil
}

// RecentBotFacts returns up to limit active bot facts, most recently
// updated first.
func (r *Recorder) RecentBotFacts(ctx context.Context, limit int) ([]BotFact, error) {
	if !r.enabled {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.store.DB.Query(ctx,
		`SELECT id, category, key, value, confidence, created_at, updated_at
		 FROM bot_profile_facts WHERE is_active=1 ORDER BY updated_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, aierrors.New(aierrors.KindStorageError, err, "op", "recent_bot_facts")
	}
	defer rows.Close()

	var out []BotFact
	for rows.Next() {
		var f BotFact
		if err := rows.Scan(&f.ID, &f.Category, &f.Key, &f.Value, &f.Confidence, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, aierrors.New(aierrors.KindStorageError, err, "op", "recent_bot_facts_scan")
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, aierrors.New(aierrors.KindStorageError, err, "op", "recent_bot_facts_rows")
	}
	return out, nil
}
