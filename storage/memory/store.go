package memory

import (
	"github.com/google/uuid"
	"github.com/riftwatch/easm/storage"
)

// NewStores builds a complete in-memory storage.Stores, suitable for tests
// and for running the engine without a configured Postgres backend.
func NewStores() *storage.Stores {
	idgen := func() string { return uuid.NewString() }
	return &storage.Stores{
		Projects: NewProjectStore(),
		Assets:   NewAssetStore(idgen),
		Scans:    NewScanStore(),
		DAGs:     NewDAGStore(),
		Triggers: NewTriggerStore(),
		Risk:     NewRiskStore(),
		Alerts:   NewAlertStore(),
	}
}
