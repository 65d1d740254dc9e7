package selflearn

import (
	"context"
	"fmt"

	"github.com/gryagbot/gryag/pkg/aierrors"
)

const disabledMessage = "Self-learning is not enabled for this bot."

// Summary implements admin.Insights.Summary: a per-user view over this
// chat's reply outcomes involving userID.
func (r *Recorder) Summary(ctx context.Context, chatID, userID int64) (string, error) {
	if !r.enabled {
		return disabledMessage, nil
	}
	row := r.store.DB.QueryRow(ctx,
		`SELECT count(*), coalesce(avg(response_time_ms), 0), coalesce(sum(used_fallback), 0)
		 FROM reply_outcomes WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	)
	var total int
	var avgMS float64
	var fallbacks int
	if err := row.Scan(&total, &avgMS, &fallbacks); err != nil {
		return "", aierrors.New(aierrors.KindStorageError, err, "op", "selflearn_summary")
	}
	if total == 0 {
		return "No recorded replies for this user yet.", nil
	}
	summary := fmt.Sprintf(
		"Replies: %d, avg response time: %.0fms, fallback context used: %d times.",
		total, avgMS, fallbacks,
	)
	if traits, err := r.RecentBotFacts(ctx, 3); err == nil {
		for _, t := range traits {
			summary += fmt.Sprintf("\n- learned trait: %s.%s = %s", t.Category, t.Key, t.Value)
		}
	}
	return summary, nil
}

// ChatInsights implements admin.Insights.ChatInsights: chat-wide reply
// outcome aggregates.
func (r *Recorder) ChatInsights(ctx context.Context, chatID int64) (string, error) {
	if !r.enabled {
		return disabledMessage, nil
	}
	row := r.store.DB.QueryRow(ctx,
		`SELECT count(*), coalesce(avg(response_time_ms), 0), count(distinct user_id)
		 FROM reply_outcomes WHERE chat_id = $1`,
		chatID,
	)
	var total, distinctUsers int
	var avgMS float64
	if err := row.Scan(&total, &avgMS, &distinctUsers); err != nil {
		return "", aierrors.New(aierrors.KindStorageError, err, "op", "selflearn_chat_insights")
	}
	if total == 0 {
		return "No recorded replies for this chat yet.", nil
	}
	return fmt.Sprintf(
		"Replies: %d across %d users, avg response time: %.0fms.",
		total, distinctUsers, avgMS,
	), nil
}
