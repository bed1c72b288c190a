// Package storage defines the persistence-layer contracts every EASM
// service depends on. Two implementations exist: storage/memory (used by
// unit tests and as a dependency-free default) and storage/postgres (the
// production relational-store adapter, spec §6).
package storage

import (
	"context"
	"time"

	"github.com/riftwatch/easm/domain/alert"
	"github.com/riftwatch/easm/domain/asset"
	"github.com/riftwatch/easm/domain/dag"
	"github.com/riftwatch/easm/domain/project"
	"github.com/riftwatch/easm/domain/risk"
	"github.com/riftwatch/easm/domain/scan"
	"github.com/riftwatch/easm/domain/trigger"
)

type ProjectStore interface {
	Create(ctx context.Context, p *project.Project) error
	Get(ctx context.Context, id string) (*project.Project, error)
	GetByName(ctx context.Context, name string) (*project.Project, error)
	List(ctx context.Context) ([]*project.Project, error)
	Update(ctx context.Context, p *project.Project) error
	Delete(ctx context.Context, id string) error
}

// AssetStore exposes the upsert-by-natural-key operations of spec §4.1 for
// every typed asset-graph entity, plus the project cascade delete.
type AssetStore interface {
	UpsertSubdomain(ctx context.Context, in asset.Subdomain) (*asset.Subdomain, error)
	UpsertIPAddress(ctx context.Context, in asset.IPAddress) (*asset.IPAddress, error)
	UpsertPort(ctx context.Context, in asset.Port) (*asset.Port, error)
	UpsertWebAsset(ctx context.Context, in asset.WebAsset) (*asset.WebAsset, error)
	UpsertJSAsset(ctx context.Context, in asset.JSAsset) (*asset.JSAsset, error)
	UpsertAPIEndpoint(ctx context.Context, in asset.APIEndpoint) (*asset.APIEndpoint, error)
	UpsertVulnerability(ctx context.Context, in asset.Vulnerability) (*asset.Vulnerability, error)
	UpsertAPIRiskFinding(ctx context.Context, in asset.APIRiskFinding) (*asset.APIRiskFinding, error)

	// BulkImportAssets dedups in by (asset_type, value) and upserts each
	// unique entry on-conflict-do-nothing against the existing natural-key
	// index (spec §4.1); inserted holds only the rows newly created by this
	// call, in input order.
	BulkImportAssets(ctx context.Context, in []asset.AssetEntity) (inserted []*asset.AssetEntity, skipped, total int, err error)

	ListSubdomains(ctx context.Context, projectID string) ([]*asset.Subdomain, error)
	ListIPAddresses(ctx context.Context, projectID string) ([]*asset.IPAddress, error)
	ListPorts(ctx context.Context, projectID string) ([]*asset.Port, error)
	ListWebAssets(ctx context.Context, projectID string) ([]*asset.WebAsset, error)
	ListJSAssets(ctx context.Context, projectID string) ([]*asset.JSAsset, error)
	ListAPIEndpoints(ctx context.Context, projectID string) ([]*asset.APIEndpoint, error)
	ListVulnerabilities(ctx context.Context, projectID string) ([]*asset.Vulnerability, error)
	ListAPIRiskFindings(ctx context.Context, projectID string) ([]*asset.APIRiskFinding, error)

	// MergeDuplicateSubdomains resolves two rows sharing a fingerprint_hash
	// per spec §4.1: keeps the greater last_seen, unions ip_addresses, and
	// deletes the losers.
	MergeDuplicateSubdomains(ctx context.Context, projectID string) error

	// DeleteProjectCascade removes every project-scoped row in the order
	// fixed by asset.CascadeOrder. The project row itself is removed
	// separately through ProjectStore.Delete.
	DeleteProjectCascade(ctx context.Context, projectID string) error
}

type ScanStore interface {
	CreateTask(ctx context.Context, t *scan.Task) error
	GetTask(ctx context.Context, id string) (*scan.Task, error)
	ListTasks(ctx context.Context, projectID string) ([]*scan.Task, error)
	// CompareAndSwapStatus atomically transitions a task from `from` to `to`
	// iff its current stored status equals `from` (spec §4.3's serialization
	// point). Returns false, nil if no row matched (already transitioned).
	CompareAndSwapStatus(ctx context.Context, id string, from, to scan.Status, mutate func(*scan.Task)) (bool, error)
	UpdateTask(ctx context.Context, t *scan.Task) error

	CreatePolicy(ctx context.Context, p *scan.Policy) error
	GetPolicy(ctx context.Context, id string) (*scan.Policy, error)
	GetDefaultPolicy(ctx context.Context, projectID string) (*scan.Policy, error)
	ListPolicies(ctx context.Context, projectID string) ([]*scan.Policy, error)
	// SetDefaultPolicy clears is_default on every sibling policy in the same
	// project, then sets it on id, in one transaction (spec §4.4).
	SetDefaultPolicy(ctx context.Context, projectID, policyID string) error
	UpdatePolicy(ctx context.Context, p *scan.Policy) error
}

type DAGStore interface {
	CreateTemplate(ctx context.Context, t *dag.Template) error
	GetTemplate(ctx context.Context, id string) (*dag.Template, error)
	ListTemplates(ctx context.Context, projectID string) ([]*dag.Template, error)
	UpdateTemplate(ctx context.Context, t *dag.Template) error

	CreateExecution(ctx context.Context, e *dag.Execution) error
	GetExecution(ctx context.Context, id string) (*dag.Execution, error)
	ListExecutions(ctx context.Context, projectID string) ([]*dag.Execution, error)
	// UpdateExecutionNodeStates applies mutate to the execution's node_states
	// and node_task_ids under a row lock (spec §4.5 "SELECT-FOR-UPDATE
	// semantics"), returning the post-mutation snapshot.
	UpdateExecutionNodeStates(ctx context.Context, id string, mutate func(*dag.Execution)) (*dag.Execution, error)

	// FindNodeByTaskID reverse-indexes ScanTask.id -> (execution, node_id)
	// for the scan-runner -> DAG-executor bridge (spec §4.5).
	FindNodeByTaskID(ctx context.Context, taskID string) (executionID, nodeID string, found bool, err error)
}

type TriggerStore interface {
	Create(ctx context.Context, t *trigger.Trigger) error
	Get(ctx context.Context, id string) (*trigger.Trigger, error)
	ListEnabledByEventType(ctx context.Context, projectID, eventType string) ([]*trigger.Trigger, error)
	List(ctx context.Context, projectID string) ([]*trigger.Trigger, error)
	Update(ctx context.Context, t *trigger.Trigger) error
	IncrementCounters(ctx context.Context, id string, success bool) error
}

type RiskStore interface {
	ListFactors(ctx context.Context, projectID string) ([]*risk.Factor, error)
	UpsertScore(ctx context.Context, s *risk.AssetScore) error
	GetScore(ctx context.Context, projectID, assetType, assetID string) (*risk.AssetScore, error)
	ListScores(ctx context.Context, projectID string) ([]*risk.AssetScore, error)
}

type AlertStore interface {
	CreateChannel(ctx context.Context, c *alert.Channel) error
	GetChannel(ctx context.Context, id string) (*alert.Channel, error)
	ListChannels(ctx context.Context, projectID string) ([]*alert.Channel, error)
	UpdateChannel(ctx context.Context, c *alert.Channel) error

	CreatePolicy(ctx context.Context, p *alert.Policy) error
	ListEnabledPolicies(ctx context.Context, projectID string) ([]*alert.Policy, error)
	UpdatePolicy(ctx context.Context, p *alert.Policy) error

	// FindActiveByAggregationKey returns the most recent non-resolved record
	// for key created within `since`, if any (spec §4.8).
	FindActiveByAggregationKey(ctx context.Context, key string, since time.Time) (*alert.Record, error)
	// CountSince counts alert records created for policyID since `since`,
	// for the max_alerts_per_hour check.
	CountSince(ctx context.Context, policyID string, since time.Time) (int, error)
	CreateRecord(ctx context.Context, r *alert.Record) error
	IncrementAggregatedCount(ctx context.Context, id string) error
	UpdateRecord(ctx context.Context, r *alert.Record) error
	GetRecord(ctx context.Context, id string) (*alert.Record, error)
	ListRecords(ctx context.Context, projectID string) ([]*alert.Record, error)
}

// Stores aggregates every store interface into the single dependency the
// application wires into each service.
type Stores struct {
	Projects ProjectStore
	Assets   AssetStore
	Scans    ScanStore
	DAGs     DAGStore
	Triggers TriggerStore
	Risk     RiskStore
	Alerts   AlertStore
}
