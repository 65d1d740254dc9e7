package loops

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/gryagbot/gryag/pkg/facts"
)

// Default parameters for the profile-summariser confidence decay. A fact
// untouched for 30 days loses 5% confidence per sweep, floored at 0.1 so
// old-but-plausible facts never vanish outright — ForgetFact, not decay,
// is the path to removing a fact entirely.
const (
	DefaultStaleAfter  = 30 * 24 * time.Hour
	DefaultDecayFactor = 0.95
	DefaultDecayFloor  = 0.1
)

// ProfileSummaryJob decays the confidence of facts nobody has reinforced
// in a long time. spec.md §3 describes the user/chat profile as "derived,
// optional projection ... continuously refreshed as side-effects of the
// pipeline" — that inline refresh only touches facts a conversation
// actually mentions, so this sweep is the backstop for the rest: a long-
// idle profile should read as less certain over time, not stay frozen at
// whatever confidence it happened to have when the user went quiet.
func ProfileSummaryJob(factsRepo *facts.Repository, log zerolog.Logger) Job {
	return Job{
		Name:     "profile_summariser",
		Schedule: "30 4 * * *", // once daily
		Run: func(ctx context.Context) error {
			decayed, err := factsRepo.DecayStale(ctx, DefaultStaleAfter, DefaultDecayFactor, DefaultDecayFloor)
			if err != nil {
				return err
			}
			if decayed > 0 {
				log.Info().Int("decayed_facts", decayed).Msg("profile summariser decayed stale facts")
			}
			return nil
		},
	}
}
