// Package scanrunner implements the scan worker of spec §4.3: pulling a
// ScanTask off the task queue, running the matching external tool (or its
// pure-Go fallback), upserting findings into the asset graph, and bridging
// completion back to the DAG executor.
package scanrunner

import (
	"context"
	"time"

	"github.com/riftwatch/easm/domain/scan"
	"github.com/riftwatch/easm/internal/platform/apierr"
	"github.com/riftwatch/easm/pkg/logger"
	"github.com/riftwatch/easm/services/ratelimiter"
	"github.com/riftwatch/easm/services/taskqueue"
	"github.com/riftwatch/easm/storage"
)

// DAGNotifier is the narrow slice of dagengine.Executor the runner needs,
// kept as an interface so scanrunner never imports services/dagengine
// directly (the bridge is a reverse lookup by task id, not a callback).
type DAGNotifier interface {
	OnNodeCompleted(ctx context.Context, executionID, nodeID string, success bool) error
}

// Fingerprinter classifies an HTTP response into technology labels; the
// fingerprint engine (services/fingerprint) is the production
// implementation, injected here to keep scanrunner decoupled from its
// internals.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, url string, headers map[string][]string, body []byte) []string
}

type Runner struct {
	scans    storage.ScanStore
	assets   storage.AssetStore
	dags     storage.DAGStore
	limiter  *ratelimiter.Limiter
	notifier DAGNotifier
	fp       Fingerprinter
	idgen    func() string
	log      *logger.Logger

	screenshotDir string
}

func New(scans storage.ScanStore, assets storage.AssetStore, dags storage.DAGStore, limiter *ratelimiter.Limiter, notifier DAGNotifier, fp Fingerprinter, idgen func() string, log *logger.Logger, screenshotDir string) *Runner {
	return &Runner{scans: scans, assets: assets, dags: dags, limiter: limiter, notifier: notifier, fp: fp, idgen: idgen, log: log, screenshotDir: screenshotDir}
}

// RegisterHandlers wires the runner onto the scan task-queue class.
func (r *Runner) RegisterHandlers(pool *taskqueue.Pool) {
	pool.Handle(taskqueue.ClassScan, r.handleJob)
}

func (r *Runner) handleJob(ctx context.Context, job *taskqueue.Job) error {
	task, ok := job.Payload.(*scan.Task)
	if !ok {
		return apierr.Internal(nil)
	}
	return r.Run(ctx, task)
}

// Run implements the per-task-type handler skeleton of spec §4.3: atomic
// pending->running start, rate-limit wait, tool invocation, upsert, terminal
// transition, and DAG notification — in both the success and failure path.
//
// The pending->running transition is normally already performed by the REST
// handler before the job ever reaches the queue (spec §8 scenario 4: the
// handler's atomic swap is the serialization point two concurrent `start`
// callers race on). Run only attempts its own swap when it receives a task
// that is still pending — e.g. a job enqueued by a path other than the REST
// handler — so a job dispatched post-swap is never rejected as a stale claim.
func (r *Runner) Run(ctx context.Context, task *scan.Task) error {
	if task.Status == scan.StatusPending {
		started, err := r.scans.CompareAndSwapStatus(ctx, task.ID, scan.StatusPending, scan.StatusRunning, func(t *scan.Task) {
			now := time.Now()
			t.StartedAt = &now
		})
		if err != nil {
			return err
		}
		if !started {
			return nil // already claimed, cancelled, or retried — not an error
		}
	}

	rlKey := ratelimiter.ScanKey(task.ProjectID)
	if r.limiter != nil && !r.limiter.WaitIfNeeded(ctx, rlKey, maxRequestsPerSecond(task), time.Second, 10*time.Second) {
		r.fail(ctx, task, apierr.Timeout("rate limiter wait"))
		return nil
	}

	summary, runErr := r.dispatch(ctx, task)
	if runErr != nil {
		r.fail(ctx, task, runErr)
		return nil
	}
	r.complete(ctx, task, summary)
	return nil
}

func maxRequestsPerSecond(task *scan.Task) int {
	if v, ok := task.Config["rate_limit_config"].(map[string]any); ok {
		if n, ok := v["max_requests_per_second"].(float64); ok && n > 0 {
			return int(n)
		}
	}
	return 5
}

func (r *Runner) complete(ctx context.Context, task *scan.Task, summary map[string]any) {
	_, err := r.scans.CompareAndSwapStatus(ctx, task.ID, scan.StatusRunning, scan.StatusCompleted, func(t *scan.Task) {
		now := time.Now()
		t.FinishedAt = &now
		t.ResultSummary = summary
		t.CompletedTargets = t.TotalTargets
		t.RecomputeProgress()
	})
	if err != nil && r.log != nil {
		r.log.WithField("task_id", task.ID).WithError(err).Warn("failed to record scan task completion")
	}
	r.notify(ctx, task.ID, true)
}

func (r *Runner) fail(ctx context.Context, task *scan.Task, cause error) {
	_, err := r.scans.CompareAndSwapStatus(ctx, task.ID, scan.StatusRunning, scan.StatusFailed, func(t *scan.Task) {
		now := time.Now()
		t.FinishedAt = &now
		t.ErrorMessage = cause.Error()
	})
	if err != nil && r.log != nil {
		r.log.WithField("task_id", task.ID).WithError(err).Warn("failed to record scan task failure")
	}
	if r.log != nil {
		r.log.WithField("task_id", task.ID).WithField("task_type", string(task.TaskType)).WithError(cause).Error("scan task failed")
	}
	r.notify(ctx, task.ID, false)
}

// notify implements the "sole bridge" from task completion into the DAG
// executor (spec §4.5): a reverse lookup by ScanTask.id, then
// OnNodeCompleted. A task created outside a DAG (ad-hoc scan) simply has no
// match and notify is a no-op.
func (r *Runner) notify(ctx context.Context, taskID string, success bool) {
	if r.notifier == nil || r.dags == nil {
		return
	}
	executionID, nodeID, found, err := r.dags.FindNodeByTaskID(ctx, taskID)
	if err != nil || !found {
		return
	}
	if err := r.notifier.OnNodeCompleted(ctx, executionID, nodeID, success); err != nil && r.log != nil {
		r.log.WithField("execution_id", executionID).WithField("node_id", nodeID).WithError(err).Error("dag notification failed")
	}
}
