package loops

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/gryagbot/gryag/pkg/episodes"
)

// EpisodeMonitorJob seals episodes that have gone idle past the
// configured boundary without a new triggering turn ever arriving (the
// inline boundary check in episodes.Repository.Observe only fires on the
// *next* message; a chat that simply goes silent needs this sweep to
// still get summarised).
func EpisodeMonitorJob(episodeRepo *episodes.Repository, log zerolog.Logger) Job {
	return Job{
		Name:     "episode_monitor",
		Schedule: "*/10 * * * *", // every 10 minutes
		Run: func(ctx context.Context) error {
			sealed, err := episodeRepo.SealIdle(ctx)
			if err != nil {
				return err
			}
			if sealed > 0 {
				log.Info().Int("sealed_episodes", sealed).Msg("episode monitor sealed idle episodes")
			}
			return nil
		},
	}
}
