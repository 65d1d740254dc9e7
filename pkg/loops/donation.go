package loops

import (
	"context"

	"github.com/rs/zerolog"
)

// Broadcaster is the narrow outbound capability the donation scheduler
// needs. pkg/telegram is contract-only (spec.md §1's out-of-scope
// boundary), so this package defines its own minimal interface rather
// than importing a concrete Bot API client; cmd/gryag wires whatever
// Telegram client it builds into this.
type Broadcaster interface {
	BroadcastText(ctx context.Context, text string) error
}

// DonationSchedulerJob periodically sends a configured support/donation
// reminder to every chat the bot is active in. A nil broadcaster or
// empty message disables it (Run becomes a no-op), so deployments that
// don't want this feature just never construct it.
func DonationSchedulerJob(broadcaster Broadcaster, message string, log zerolog.Logger) Job {
	return Job{
		Name:     "donation_scheduler",
		Schedule: "0 12 1 * *", // noon on the first of the month
		Run: func(ctx context.Context) error {
			if broadcaster == nil || message == "" {
				return nil
			}
			if err := broadcaster.BroadcastText(ctx, message); err != nil {
				return err
			}
			log.Info().Msg("donation reminder broadcast")
			return nil
		},
	}
}
