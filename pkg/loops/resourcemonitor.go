package loops

import (
	"context"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/gryagbot/gryag/pkg/store"
)

// These thresholds gate when ResourceMonitorJob escalates a snapshot
// from INFO to WARN.
const (
	goroutineWarnThreshold = 2000
	openEpisodeWarnCount   = 500
)

// ResourceMonitorJob logs a periodic health snapshot: live goroutine
// count (a cheap proxy for the cooperative task runtime backing up, per
// spec.md §5) and row counts for the tables most likely to grow
// unbounded if a downstream bug stops pruning/sealing them.
func ResourceMonitorJob(st *store.Store, log zerolog.Logger) Job {
	return Job{
		Name:     "resource_monitor",
		Schedule: "*/5 * * * *", // every 5 minutes
		Run: func(ctx context.Context) error {
			snapshot, err := snapshotResources(ctx, st)
			if err != nil {
				return err
			}
			evt := log.Info()
			if snapshot.Goroutines > goroutineWarnThreshold || snapshot.OpenEpisodes > openEpisodeWarnCount {
				evt = log.Warn()
			}
			evt.Int("goroutines", snapshot.Goroutines).
				Int64("turns", snapshot.Turns).
				Int64("active_facts", snapshot.ActiveFacts).
				Int64("open_episodes", snapshot.OpenEpisodes).
				Msg("resource monitor snapshot")
			return nil
		},
	}
}

type resourceSnapshot struct {
	Goroutines   int
	Turns        int64
	ActiveFacts  int64
	OpenEpisodes int64
}

func snapshotResources(ctx context.Context, st *store.Store) (resourceSnapshot, error) {
	snapshot := resourceSnapshot{Goroutines: runtime.NumGoroutine()}

	if err := st.DB.QueryRow(ctx, `SELECT COUNT(*) FROM turns`).Scan(&snapshot.Turns); err != nil {
		return snapshot, err
	}
	if err := st.DB.QueryRow(ctx, `SELECT COUNT(*) FROM facts WHERE is_active=1`).Scan(&snapshot.ActiveFacts); err != nil {
		return snapshot, err
	}
	if err := st.DB.QueryRow(ctx, `SELECT COUNT(*) FROM episodes WHERE sealed_at IS NULL`).Scan(&snapshot.OpenEpisodes); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}
