package postgres

import (
	"database/sql"

	"github.com/riftwatch/easm/storage"
)

// NewStores builds a complete storage.Stores backed by a single *sql.DB,
// matching the teacher's internal/app/storage/postgres.NewStore wiring
// idiom of one constructor per entity group sharing the same connection.
func NewStores(db *sql.DB) *storage.Stores {
	return &storage.Stores{
		Projects: NewProjectStore(db),
		Assets:   NewAssetStore(db),
		Scans:    NewScanStore(db),
		DAGs:     NewDAGStore(db),
		Triggers: NewTriggerStore(db),
		Risk:     NewRiskStore(db),
		Alerts:   NewAlertStore(db),
	}
}
