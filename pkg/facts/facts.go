// Package facts implements the unified fact repository: add/get/update/
// forget over rows keyed by (entity, chat-context, category, key), with
// soft delete, versioning, and write/lookup-symmetric normalisation.
package facts

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/gryagbot/gryag/pkg/aierrors"
	"github.com/gryagbot/gryag/pkg/store"
)

// EntityType distinguishes facts about a user from facts about a chat.
type EntityType string

const (
	EntityUser EntityType = "user"
	EntityChat EntityType = "chat"
)

// ChangeType is the kind of mutation recorded in fact_versions.
type ChangeType string

const (
	ChangeCreation      ChangeType = "creation"
	ChangeReinforcement ChangeType = "reinforcement"
	ChangeEvolution     ChangeType = "evolution"
	ChangeCorrection    ChangeType = "correction"
	ChangeDeletion      ChangeType = "deletion"
)

// ForgetReason is why a fact was forgotten, recorded for audit via
// /gryagexport and the version log.
type ForgetReason string

const (
	ReasonOutdated     ForgetReason = "outdated"
	ReasonIncorrect    ForgetReason = "incorrect"
	ReasonSuperseded   ForgetReason = "superseded"
	ReasonUserRequested ForgetReason = "user_requested"
)

// ReactivationConfidenceThreshold is the minimum new confidence required
// to reactivate an inactive fact as a correction rather than leaving it
// soft-deleted and inserting a fresh active row. The spec leaves the
// exact value an open question; 0.6 favours reactivating a prior belief
// over fragmenting history when the new evidence is only mildly
// confident, while still rejecting low-confidence noise.
const ReactivationConfidenceThreshold = 0.6

// Fact is one row of the unified fact store.
type Fact struct {
	ID              int64
	EntityType      EntityType
	EntityID        int64
	ChatContext     int64
	Category        string
	Key             string
	Value           string
	NormalisedValue string
	Confidence      float64
	Evidence        string
	EvidenceCount   int
	IsActive        bool
	CreatedAt       int64
	UpdatedAt       int64
}

// Status is returned by operations whose caller needs to distinguish
// "nothing happened because there was nothing to do" from an error.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusNotFound Status = "not_found"
)

// Repository is the unified read/write surface over the facts table.
type Repository struct {
	store *store.Store
	now   func() time.Time
}

// New builds a Repository backed by st. now defaults to time.Now and is
// overridable in tests.
func New(st *store.Store, now func() time.Time) *Repository {
	if now == nil {
		now = time.Now
	}
	return &Repository{store: st, now: now}
}

// AddFact looks up any row keyed by (entityType, entityID, chatContext,
// category, key, Normalise(value)). An active match is reinforced
// (confidence becomes the evidence-weighted average, evidence_count++).
// An inactive match whose new confidence clears ReactivationConfidenceThreshold
// is reactivated as a correction. Otherwise a fresh active row is
// inserted. Returns the affected fact's id.
func (r *Repository) AddFact(ctx context.Context, entityType EntityType, entityID, chatContext int64, category, key, value string, confidence float64, evidence string) (int64, error) {
	normalised := Normalise(value)
	now := r.now().Unix()

	var factID int64
	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		var existing Fact
		var isActive bool
		row := r.store.DB.QueryRow(ctx,
			`SELECT id, confidence, evidence_count, is_active FROM facts
			 WHERE entity_type=$1 AND entity_id=$2 AND chat_context=$3 AND category=$4 AND key=$5 AND normalised_value=$6
			 ORDER BY is_active DESC, updated_at DESC LIMIT 1`,
			string(entityType), entityID, chatContext, category, key, normalised,
		)
		scanErr := row.Scan(&existing.ID, &existing.Confidence, &existing.EvidenceCount, &isActive)
		switch {
		case scanErr == sql.ErrNoRows:
			id, err := r.insertFact(ctx, entityType, entityID, chatContext, category, key, value, normalised, confidence, evidence, now)
			if err != nil {
				return err
			}
			factID = id
			return r.insertVersion(ctx, id, ChangeCreation, value, "", now)

		case scanErr != nil:
			return scanErr

		case isActive:
			weighted := weightedAverage(existing.Confidence, existing.EvidenceCount, confidence)
			if _, err := r.store.DB.Exec(ctx,
				`UPDATE facts SET value=$1, confidence=$2, evidence=$3, evidence_count=evidence_count+1, updated_at=$4 WHERE id=$5`,
				value, weighted, evidence, now, existing.ID,
			); err != nil {
				return err
			}
			factID = existing.ID
			return r.insertVersion(ctx, existing.ID, ChangeReinforcement, value, "", now)

		case confidence >= ReactivationConfidenceThreshold:
			if _, err := r.store.DB.Exec(ctx,
				`UPDATE facts SET value=$1, confidence=$2, evidence=$3, evidence_count=evidence_count+1, is_active=1, updated_at=$4 WHERE id=$5`,
				value, confidence, evidence, now, existing.ID,
			); err != nil {
				return err
			}
			factID = existing.ID
			return r.insertVersion(ctx, existing.ID, ChangeCorrection, value, "reactivated", now)

		default:
			id, err := r.insertFact(ctx, entityType, entityID, chatContext, category, key, value, normalised, confidence, evidence, now)
			if err != nil {
				return err
			}
			factID = id
			return r.insertVersion(ctx, id, ChangeCreation, value, "", now)
		}
	})
	if err != nil {
		return 0, aierrors.New(aierrors.KindStorageError, err, "op", "add_fact")
	}
	return factID, nil
}

func (r *Repository) insertFact(ctx context.Context, entityType EntityType, entityID, chatContext int64, category, key, value, normalised string, confidence float64, evidence string, now int64) (int64, error) {
	result, err := r.store.DB.Exec(ctx,
		`INSERT INTO facts (entity_type, entity_id, chat_context, category, key, value, normalised_value, confidence, evidence, evidence_count, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, 1, $10, $10)`,
		string(entityType), entityID, chatContext, category, key, value, normalised, confidence, evidence, now,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (r *Repository) insertVersion(ctx context.Context, factID int64, change ChangeType, value, reason string, now int64) error {
	_, err := r.store.DB.Exec(ctx,
		`INSERT INTO fact_versions (fact_id, change_type, value, reason, created_at) VALUES ($1, $2, $3, $4, $5)`,
		factID, string(change), value, reason, now,
	)
	return err
}

// weightedAverage folds a new confidence observation into an existing
// one, weighting the prior by how many times it has already been
// reinforced.
func weightedAverage(prior float64, priorCount int, next float64) float64 {
	if priorCount <= 0 {
		return next
	}
	total := float64(priorCount)
	return (prior*total + next) / (total + 1)
}

// GetFacts returns active rows for (entityType, entityID, chatContext),
// optionally filtered to categories, ordered by confidence desc then
// updated_at desc.
func (r *Repository) GetFacts(ctx context.Context, entityType EntityType, entityID, chatContext int64, categories []string, minConfidence float64, limit int) ([]Fact, error) {
	query := `SELECT id, entity_type, entity_id, chat_context, category, key, value, normalised_value, confidence, evidence, evidence_count, is_active, created_at, updated_at
	          FROM facts WHERE entity_type=$1 AND entity_id=$2 AND chat_context=$3 AND is_active=1 AND confidence>=$4`
	args := []any{string(entityType), entityID, chatContext, minConfidence}

	if len(categories) > 0 {
		placeholder := "("
		for i, c := range categories {
			if i > 0 {
				placeholder += ","
			}
			args = append(args, c)
			placeholder += sqlPlaceholder(len(args))
		}
		placeholder += ")"
		query += " AND category IN " + placeholder
	}
	query += " ORDER BY confidence DESC, updated_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT " + sqlPlaceholder(len(args))
	}

	rows, err := r.store.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, aierrors.New(aierrors.KindStorageError, err, "op", "get_facts")
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var f Fact
		var entityTypeStr string
		if err := rows.Scan(&f.ID, &entityTypeStr, &f.EntityID, &f.ChatContext, &f.Category, &f.Key, &f.Value, &f.NormalisedValue, &f.Confidence, &f.Evidence, &f.EvidenceCount, &f.IsActive, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, aierrors.New(aierrors.KindStorageError, err, "op", "get_facts_scan")
		}
		f.EntityType = EntityType(entityTypeStr)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, aierrors.New(aierrors.KindStorageError, err, "op", "get_facts_rows")
	}
	return out, nil
}

// FindActiveFact resolves the currently active row for (entityType,
// entityID, chatContext, category, key), the lookup key the forget_fact
// tool is given instead of a row id. Returns found=false rather than an
// error when no active row matches.
func (r *Repository) FindActiveFact(ctx context.Context, entityType EntityType, entityID, chatContext int64, category, key string) (Fact, bool, error) {
	var f Fact
	var entityTypeStr string
	row := r.store.DB.QueryRow(ctx,
		`SELECT id, entity_type, entity_id, chat_context, category, key, value, normalised_value, confidence, evidence, evidence_count, is_active, created_at, updated_at
		 FROM facts WHERE entity_type=$1 AND entity_id=$2 AND chat_context=$3 AND category=$4 AND key=$5 AND is_active=1`,
		string(entityType), entityID, chatContext, category, key,
	)
	err := row.Scan(&f.ID, &entityTypeStr, &f.EntityID, &f.ChatContext, &f.Category, &f.Key, &f.Value, &f.NormalisedValue, &f.Confidence, &f.Evidence, &f.EvidenceCount, &f.IsActive, &f.CreatedAt, &f.UpdatedAt)
	switch {
	case err == sql.ErrNoRows:
		return Fact{}, false, nil
	case err != nil:
		return Fact{}, false, aierrors.New(aierrors.KindStorageError, err, "op", "find_active_fact")
	}
	f.EntityType = EntityType(entityTypeStr)
	return f, true, nil
}

// UpdateFact evolves an existing row's value and/or confidence, emitting
// a version record of type evolution. Returns not_found if id doesn't
// exist.
func (r *Repository) UpdateFact(ctx context.Context, id int64, newValue *string, newConfidence *float64, reason string) (Status, error) {
	now := r.now().Unix()
	var status Status = StatusNotFound

	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		var exists int
		row := r.store.DB.QueryRow(ctx, `SELECT 1 FROM facts WHERE id=$1`, id)
		if err := row.Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}

		setClauses := "updated_at=$1"
		args := []any{now}
		recordedValue := ""
		if newValue != nil {
			normalised := Normalise(*newValue)
			args = append(args, *newValue, normalised)
			setClauses += ", value=" + sqlPlaceholder(len(args)-1) + ", normalised_value=" + sqlPlaceholder(len(args))
			recordedValue = *newValue
		}
		if newConfidence != nil {
			args = append(args, *newConfidence)
			setClauses += ", confidence=" + sqlPlaceholder(len(args))
		}
		args = append(args, id)
		_, err := r.store.DB.Exec(ctx, `UPDATE facts SET `+setClauses+` WHERE id=`+sqlPlaceholder(len(args)), args...)
		if err != nil {
			return err
		}
		if err := r.insertVersion(ctx, id, ChangeEvolution, recordedValue, reason, now); err != nil {
			return err
		}
		status = StatusSuccess
		return nil
	})
	if err != nil {
		return "", aierrors.New(aierrors.KindStorageError, err, "op", "update_fact")
	}
	return status, nil
}

// ForgetFact sets is_active=false and records a deletion version.
// Idempotent: forgetting an already-inactive or absent id returns
// not_found without error.
func (r *Repository) ForgetFact(ctx context.Context, id int64, reason ForgetReason) (Status, error) {
	now := r.now().Unix()
	var status Status = StatusNotFound

	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		result, err := r.store.DB.Exec(ctx,
			`UPDATE facts SET is_active=0, updated_at=$1 WHERE id=$2 AND is_active=1`,
			now, id,
		)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}
		status = StatusSuccess
		return r.insertVersion(ctx, id, ChangeDeletion, "", string(reason), now)
	})
	if err != nil {
		return "", aierrors.New(aierrors.KindStorageError, err, "op", "forget_fact")
	}
	return status, nil
}

// DecayStale discounts the confidence of active facts that have not been
// reinforced (via AddFact's reinforcement path or an explicit UpdateFact)
// in at least olderThan, multiplying confidence by decayFactor and
// flooring it at floor. Facts already at or below floor are left alone,
// so repeated runs converge rather than drifting confidence downward
// forever. Intended for the profile-summariser background loop (spec.md
// §4's profile projection is otherwise only refreshed inline by the
// pipeline; this sweep keeps long-idle profiles from staying falsely
// confident).
func (r *Repository) DecayStale(ctx context.Context, olderThan time.Duration, decayFactor, floor float64) (int, error) {
	cutoff := r.now().Add(-olderThan).Unix()
	now := r.now().Unix()

	rows, err := r.store.DB.Query(ctx,
		`SELECT id, confidence FROM facts WHERE is_active=1 AND updated_at<$1 AND confidence>$2`,
		cutoff, floor,
	)
	if err != nil {
		return 0, aierrors.New(aierrors.KindStorageError, err, "op", "decay_stale_scan")
	}
	type candidate struct {
		id         int64
		confidence float64
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.confidence); err != nil {
			rows.Close()
			return 0, aierrors.New(aierrors.KindStorageError, err, "op", "decay_stale_row")
		}
		candidates = append(candidates, c)
	}
	rows.Close()

	decayed := 0
	for _, c := range candidates {
		next := c.confidence * decayFactor
		if next < floor {
			next = floor
		}
		err := r.store.WithTx(ctx, func(ctx context.Context) error {
			if _, err := r.store.DB.Exec(ctx, `UPDATE facts SET confidence=$1, updated_at=$2 WHERE id=$3`, next, now, c.id); err != nil {
				return err
			}
			return r.insertVersion(ctx, c.id, ChangeEvolution, "", "stale_decay", now)
		})
		if err != nil {
			continue
		}
		decayed++
	}
	return decayed, nil
}

func sqlPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}
