package pipeline

import (
	"context"
	"encoding/json"

	"github.com/gryagbot/gryag/pkg/facts"
	"github.com/gryagbot/gryag/pkg/tasks"
)

// outcomeTrackerPayload is TaskOutcomeTracker's JSON body.
type outcomeTrackerPayload struct {
	ChatID         int64    `json:"chat_id"`
	ThreadID       int64    `json:"thread_id"`
	UserID         int64    `json:"user_id"`
	ToolsUsed      []string `json:"tools_used"`
	ResponseTimeMS int64    `json:"response_time_ms"`
	UsedFallback   bool     `json:"used_fallback"`
}

// factExtractionPayload is TaskFactExtraction's JSON body.
type factExtractionPayload struct {
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

// episodeMonitorPayload is TaskEpisodeMonitorTick's JSON body.
type episodeMonitorPayload struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int64 `json:"thread_id"`
	TurnID   int64 `json:"turn_id"`
	UserID   int64 `json:"user_id"`
}

// handleOutcomeTracker hands the reply's bookkeeping off to the
// configured OutcomeRecorder. A missing recorder (self-learning
// disabled) makes this a no-op, never a failed task.
func (p *Pipeline) handleOutcomeTracker(ctx context.Context, payload tasks.Payload) error {
	if p.d.Outcomes == nil {
		return nil
	}
	var body outcomeTrackerPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil
	}
	return p.d.Outcomes.RecordOutcome(ctx, Outcome{
		ChatID: body.ChatID, ThreadID: body.ThreadID, UserID: body.UserID,
		ToolsUsed: body.ToolsUsed, ResponseTimeMS: body.ResponseTimeMS, UsedFallback: body.UsedFallback,
	})
}

// handleFactExtraction runs the configured FactExtractor over a turn's
// text and upserts any resulting facts. A missing extractor makes this a
// no-op.
func (p *Pipeline) handleFactExtraction(ctx context.Context, payload tasks.Payload) error {
	if p.d.FactExtractor == nil || p.d.Facts == nil {
		return nil
	}
	var body factExtractionPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil
	}
	extracted, err := p.d.FactExtractor.Extract(ctx, body.Text)
	if err != nil || len(extracted) == 0 {
		return nil
	}
	for _, f := range extracted {
		if _, err := p.d.Facts.AddFact(ctx, facts.EntityUser, body.UserID, body.ChatID, f.Category, f.Key, f.Value, f.Confidence, body.Text); err != nil {
			p.d.Log.Warn().Err(err).Msg("failed to upsert extracted fact")
		}
	}
	return nil
}

// handleEpisodeMonitorTick feeds the just-persisted turn to the episode
// tracker, letting it decide whether to extend the open episode or seal
// it and start a new one. The turn is re-fetched from the recent window
// rather than reconstructed from the task payload alone, since Observe
// needs the turn's persisted CreatedAt.
func (p *Pipeline) handleEpisodeMonitorTick(ctx context.Context, payload tasks.Payload) error {
	if p.d.Episodes == nil || p.d.Turns == nil {
		return nil
	}
	var body episodeMonitorPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil
	}
	recent, err := p.d.Turns.Recent(ctx, body.ChatID, body.ThreadID, 10)
	if err != nil {
		return nil
	}
	for _, t := range recent {
		if t.ID != body.TurnID {
			continue
		}
		return p.d.Episodes.Observe(ctx, t, []int64{body.UserID})
	}
	return nil
}
