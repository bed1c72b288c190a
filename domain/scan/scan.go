// Package scan defines the ScanTask state machine (spec §4.3) and
// ScanPolicy reusable config profiles (spec §4.4).
package scan

import (
	"time"

	"github.com/riftwatch/easm/internal/platform/apierr"
)

type TaskType string

const (
	TaskSubdomainScan  TaskType = "subdomain_scan"
	TaskDNSResolve     TaskType = "dns_resolve"
	TaskPortScan       TaskType = "port_scan"
	TaskHTTPProbe      TaskType = "http_probe"
	TaskFingerprint    TaskType = "fingerprint"
	TaskScreenshot     TaskType = "screenshot"
	TaskNucleiScan     TaskType = "nuclei_scan"
	TaskXrayScan       TaskType = "xray_scan"
	TaskJSAPIDiscovery TaskType = "js_api_discovery"
)

// ToolTimeout is the per-task-type subprocess timeout enforced by the scan
// runner (spec SPEC_FULL.md §12).
var ToolTimeout = map[TaskType]time.Duration{
	TaskSubdomainScan:  300 * time.Second,
	TaskPortScan:       120 * time.Second,
	TaskNucleiScan:     600 * time.Second,
	TaskXrayScan:       300 * time.Second,
	TaskScreenshot:     30 * time.Second,
	TaskHTTPProbe:      15 * time.Second,
	TaskDNSResolve:     15 * time.Second,
	TaskFingerprint:    15 * time.Second,
	TaskJSAPIDiscovery: 60 * time.Second,
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// allowedTransitions encodes the state machine in spec §4.3. A transition
// not present here is always rejected.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {StatusRunning: true, StatusCancelled: true, StatusPaused: true},
	StatusRunning: {StatusCompleted: true, StatusFailed: true, StatusPaused: true, StatusCancelled: true},
	StatusPaused:  {StatusPending: true, StatusCancelled: true},
}

// CanTransition reports whether moving from `from` to `to` is legal. Once a
// task is in a terminal state, no transition is permitted — including a
// late completed/failed update racing a cancel.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	return allowedTransitions[from][to]
}

type Task struct {
	ID               string         `json:"id"`
	ProjectID        string         `json:"project_id"`
	ScanPolicyID     string         `json:"scan_policy_id,omitempty"`
	TaskType         TaskType       `json:"task_type"`
	Status           Status         `json:"status"`
	Priority         int            `json:"priority"`
	Progress         int            `json:"progress"`
	TotalTargets     int            `json:"total_targets"`
	CompletedTargets int            `json:"completed_targets"`
	Config           map[string]any `json:"config"`
	ResultSummary    map[string]any `json:"result_summary"`
	ErrorMessage     string         `json:"error_message"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`
}

// RecomputeProgress sets Progress from CompletedTargets/TotalTargets per
// spec §4.3: floor(100*completed/total), or 0 when total is 0.
func (t *Task) RecomputeProgress() {
	if t.TotalTargets <= 0 {
		t.Progress = 0
		return
	}
	t.Progress = (100 * t.CompletedTargets) / t.TotalTargets
}

// NewTask constructs a pending task with the default priority applied.
func NewTask(id, projectID string, taskType TaskType, priority int, config map[string]any) *Task {
	if priority < 1 || priority > 10 {
		priority = 5
	}
	now := time.Now()
	return &Task{
		ID:        id,
		ProjectID: projectID,
		TaskType:  taskType,
		Status:    StatusPending,
		Priority:  priority,
		Config:    config,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

var (
	ErrIllegalTransition = apierr.PreconditionFailed("illegal scan task state transition")
)

type Policy struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"project_id"`
	Name          string         `json:"name"`
	ScanConfig    map[string]any `json:"scan_config"`
	DAGTemplateID string         `json:"dag_template_id,omitempty"`
	IsDefault     bool           `json:"is_default"`
	Enabled       bool           `json:"enabled"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// MergeConfig implements the "effective config" rule of spec §4.4: policy
// config overlaid by the caller's config, with the caller's keys winning.
func MergeConfig(policyConfig, override map[string]any) map[string]any {
	out := make(map[string]any, len(policyConfig)+len(override))
	for k, v := range policyConfig {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
