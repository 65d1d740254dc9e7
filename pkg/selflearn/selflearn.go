// Package selflearn implements the optional self-learning subsystem
// (SPEC_FULL.md §4.13): a per-reply outcome log plus a small set of
// facts the bot has learned about its own behaviour, gated behind
// ENABLE_BOT_SELF_LEARNING and consulted only by the /gryagself and
// /gryaginsights admin commands. It never blocks the conversational
// pipeline: every write here is fire-and-forget, grounded on the same
// best-effort background-task posture pkg/pipeline schedules it behind.
package selflearn

import (
	"context"
	"time"

	"github.com/gryagbot/gryag/pkg/aierrors"
	"github.com/gryagbot/gryag/pkg/pipeline"
	"github.com/gryagbot/gryag/pkg/store"
)

// Recorder implements pipeline.OutcomeRecorder and admin.Insights
// (structurally — this package never imports pkg/admin) over the
// isolated reply_outcomes/bot_profile_facts tables.
type Recorder struct {
	store   *store.Store
	now     func() time.Time
	enabled bool
}

// New builds a Recorder. When enabled is false every write is a no-op
// and every read reports the feature as disabled, so wiring this
// unconditionally at the container level is always safe.
func New(st *store.Store, now func() time.Time, enabled bool) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{store: st, now: now, enabled: enabled}
}

// Enabled reports whether self-learning is turned on.
func (r *Recorder) Enabled() bool {
	return r.enabled
}

// RecordOutcome implements pipeline.OutcomeRecorder.
func (r *Recorder) RecordOutcome(ctx context.Context, o pipeline.Outcome) error {
	if !r.enabled {
		return nil
	}
	toolsUsed := joinTools(o.ToolsUsed)
	_, err := r.store.DB.Exec(ctx,
		`INSERT INTO reply_outcomes (chat_id, thread_id, user_id, tools_used, response_time_ms, used_fallback, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ChatID, o.ThreadID, o.UserID, toolsUsed, o.ResponseTimeMS, o.UsedFallback, r.now().Unix(),
	)
	if err != nil {
		return aierrors.New(aierrors.KindStorageError, err, "op", "record_outcome")
	}
	return nil
}

func joinTools(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}
