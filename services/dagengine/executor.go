// Package dagengine implements the DAG executor of spec §4.5: validates,
// schedules, and advances DAG executions via ready-set computation, cycle
// detection, and skip-on-dependency-failure propagation.
package dagengine

import (
	"context"
	"time"

	"github.com/riftwatch/easm/domain/dag"
	"github.com/riftwatch/easm/domain/scan"
	"github.com/riftwatch/easm/internal/platform/apierr"
	"github.com/riftwatch/easm/pkg/logger"
	"github.com/riftwatch/easm/pkg/metrics"
	"github.com/riftwatch/easm/services/taskqueue"
	"github.com/riftwatch/easm/storage"
)

type Executor struct {
	dags  storage.DAGStore
	scans storage.ScanStore
	queue *taskqueue.Queue
	idgen func() string
	log   *logger.Logger
}

func New(dags storage.DAGStore, scans storage.ScanStore, queue *taskqueue.Queue, idgen func() string, log *logger.Logger) *Executor {
	return &Executor{dags: dags, scans: scans, queue: queue, idgen: idgen, log: log}
}

// Create initializes every node to pending (spec §4.5 create()).
func (e *Executor) Create(ctx context.Context, tmpl *dag.Template, projectID string, triggerType dag.TriggerType, triggerEvent, inputConfig map[string]any) (*dag.Execution, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	exec := dag.NewExecution(e.idgen(), tmpl, projectID, triggerType, triggerEvent, inputConfig)
	if err := e.dags.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// Start transitions pending -> running and runs the first scheduling pass.
func (e *Executor) Start(ctx context.Context, executionID string) error {
	exec, err := e.dags.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != dag.ExecPending {
		return apierr.PreconditionFailed("dag execution is not pending")
	}
	exec.Status = dag.ExecRunning
	if _, err := e.dags.UpdateExecutionNodeStates(ctx, executionID, func(x *dag.Execution) {
		x.Status = dag.ExecRunning
	}); err != nil {
		return err
	}
	return e.ExecuteDag(ctx, executionID)
}

// Cancel halts further dispatch; already-dispatched node tasks follow
// scan-cancellation rules independently (spec §5).
func (e *Executor) Cancel(ctx context.Context, executionID string) error {
	_, err := e.dags.UpdateExecutionNodeStates(ctx, executionID, func(x *dag.Execution) {
		x.Status = dag.ExecCancelled
		now := time.Now()
		x.FinishedAt = &now
	})
	return err
}

// ExecuteDag is the re-entrant iteration of spec §4.5. It is always safe
// to call again after any state change.
func (e *Executor) ExecuteDag(ctx context.Context, executionID string) error {
	exec, err := e.dags.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status == dag.ExecCancelled {
		return nil
	}
	tmpl, err := e.dags.GetTemplate(ctx, exec.DAGTemplateID)
	if err != nil {
		return err
	}

	if len(tmpl.Nodes) == 0 {
		return e.finalize(ctx, executionID, dag.ExecCompleted)
	}

	if dag.HasCycle(tmpl.Nodes) {
		return e.finalize(ctx, executionID, dag.ExecFailed)
	}

	ready := dag.ReadySet(tmpl.Nodes, exec.NodeStates)
	if len(ready) == 0 {
		var changed bool
		exec, err = e.dags.UpdateExecutionNodeStates(ctx, executionID, func(x *dag.Execution) {
			changed = dag.CascadeSkip(tmpl.Nodes, x.NodeStates)
		})
		if err != nil {
			return err
		}
		if changed {
			return e.ExecuteDag(ctx, executionID)
		}
		if dag.AllTerminal(tmpl.Nodes, exec.NodeStates) {
			status := dag.ExecCompleted
			if dag.AnyFailed(tmpl.Nodes, exec.NodeStates) {
				status = dag.ExecFailed
			}
			return e.finalize(ctx, executionID, status)
		}
		return nil // waiting: nodes are running
	}

	for _, node := range ready {
		if err := e.dispatchNode(ctx, executionID, exec, node); err != nil && e.log != nil {
			e.log.WithField("execution_id", executionID).WithField("node_id", node.ID).WithError(err).Error("dispatch failed")
		}
	}
	return nil
}

func (e *Executor) dispatchNode(ctx context.Context, executionID string, exec *dag.Execution, node dag.Node) error {
	taskID := e.idgen()
	config := mergeConfig(exec.InputConfig, node.Config)

	_, err := e.dags.UpdateExecutionNodeStates(ctx, executionID, func(x *dag.Execution) {
		x.NodeStates[node.ID] = dag.NodeRunning
		x.NodeTaskIDs[node.ID] = taskID
	})
	if err != nil {
		return err
	}

	task := scan.NewTask(taskID, exec.ProjectID, scan.TaskType(node.TaskType), 5, config)
	if err := e.scans.CreateTask(ctx, task); err != nil {
		e.markNodeFailed(ctx, executionID, node.ID)
		return err
	}

	e.queue.Push(taskqueue.ClassScan, &taskqueue.Job{
		ID:       taskID,
		Priority: taskqueue.NormalizePriority(task.Priority),
		Payload:  task,
	})
	return nil
}

func (e *Executor) markNodeFailed(ctx context.Context, executionID, nodeID string) {
	_, _ = e.dags.UpdateExecutionNodeStates(ctx, executionID, func(x *dag.Execution) {
		x.NodeStates[nodeID] = dag.NodeFailed
	})
}

func (e *Executor) finalize(ctx context.Context, executionID string, status dag.ExecutionStatus) error {
	_, err := e.dags.UpdateExecutionNodeStates(ctx, executionID, func(x *dag.Execution) {
		x.Status = status
		now := time.Now()
		x.FinishedAt = &now
	})
	metrics.DAGExecutionsTotal.WithLabelValues(string(status)).Inc()
	return err
}

// OnNodeCompleted is the sole bridge from the scan runner into the DAG
// executor (spec §4.5): it records the node's terminal state then re-runs
// the scheduling pass.
func (e *Executor) OnNodeCompleted(ctx context.Context, executionID, nodeID string, success bool) error {
	state := dag.NodeCompleted
	if !success {
		state = dag.NodeFailed
	}
	if _, err := e.dags.UpdateExecutionNodeStates(ctx, executionID, func(x *dag.Execution) {
		if x.NodeStates[nodeID] == dag.NodeRunning {
			x.NodeStates[nodeID] = state
		}
	}); err != nil {
		return err
	}
	return e.ExecuteDag(ctx, executionID)
}

func mergeConfig(inputConfig, nodeConfig map[string]any) map[string]any {
	out := make(map[string]any, len(inputConfig)+len(nodeConfig))
	for k, v := range inputConfig {
		out[k] = v
	}
	for k, v := range nodeConfig {
		out[k] = v
	}
	return out
}
