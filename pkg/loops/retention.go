package loops

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/gryagbot/gryag/pkg/turns"
)

// RetentionPrunerJob deletes turns older than retentionDays, skipping any
// turn that belongs to an unsealed episode or is referenced by an active
// fact's evidence pointer (turns.Repository.PruneOld enforces both, per
// spec.md §8's "Retention pruner never deletes a turn that is part of an
// unsealed episode or ... referenced by an active fact's evidence
// pointer" invariant).
func RetentionPrunerJob(turnRepo *turns.Repository, retentionDays int, log zerolog.Logger) Job {
	return Job{
		Name:     "retention_pruner",
		Schedule: "17 3 * * *", // once daily, off the hour
		Run: func(ctx context.Context) error {
			deleted, err := turnRepo.PruneOld(ctx, retentionDays)
			if err != nil {
				return err
			}
			log.Info().Int64("deleted_turns", deleted).Msg("retention pruner swept")
			return nil
		},
	}
}
