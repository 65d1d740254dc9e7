// Package migrations embeds the gryag schema's numbered, up-only SQL
// steps into a dbutil.UpgradeTable, the same embedding idiom the
// teacher uses for its own memory schema — just without routing through
// a Matrix bridge's shared upgrades.Table singleton.
package migrations

import (
	"embed"

	"go.mau.fi/util/dbutil"
)

//go:embed *.sql
var rawUpgrades embed.FS

// Table is applied by store.Open via db.Upgrade(ctx).
var Table dbutil.UpgradeTable

func init() {
	Table.RegisterFS(rawUpgrades)
}
