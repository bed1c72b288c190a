// Package dag implements the DAGTemplate/DAGExecution model: cycle
// detection, ready-set computation, and skip-on-dependency-failure
// propagation (spec §4.5).
package dag

import (
	"time"

	"github.com/riftwatch/easm/internal/platform/apierr"
)

type Node struct {
	ID        string         `json:"id"`
	TaskType  string         `json:"task_type"`
	DependsOn []string       `json:"depends_on"`
	Config    map[string]any `json:"config"`
}

type Template struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id,omitempty"` // empty = global
	Name         string    `json:"name"`
	Nodes        []Node    `json:"nodes"`
	IsSystem     bool      `json:"is_system"`
	Enabled      bool      `json:"enabled"`
	ScheduleCron string    `json:"schedule_cron,omitempty"` // non-empty => TriggerSchedule executions fire on this cron expression
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the structural invariants of spec §3: node ids unique
// within the template, every depends_on reference declared, and the graph
// acyclic.
func (t *Template) Validate() error {
	seen := make(map[string]bool, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.ID == "" {
			return apierr.Validation("dag template node missing id")
		}
		if seen[n.ID] {
			return apierr.Validation("duplicate dag template node id %q", n.ID)
		}
		seen[n.ID] = true
	}
	for _, n := range t.Nodes {
		for _, dep := range n.DependsOn {
			if !seen[dep] {
				return apierr.Validation("node %q depends on undeclared node %q", n.ID, dep)
			}
		}
	}
	if HasCycle(t.Nodes) {
		return apierr.Validation("dag template %q contains a cycle", t.Name)
	}
	return nil
}

// HasCycle runs a DFS with a recursion set over the depends_on edges.
func HasCycle(nodes []Node) bool {
	deps := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		deps[n.ID] = n.DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case gray:
			return true
		case black:
			return false
		}
		color[id] = gray
		for _, dep := range deps[id] {
			if visit(dep) {
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, n := range nodes {
		if color[n.ID] == white {
			if visit(n.ID) {
				return true
			}
		}
	}
	return false
}

type NodeState string

const (
	NodePending   NodeState = "pending"
	NodeRunning   NodeState = "running"
	NodeCompleted NodeState = "completed"
	NodeFailed    NodeState = "failed"
	NodeSkipped   NodeState = "skipped"
)

func (s NodeState) Terminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeSkipped:
		return true
	default:
		return false
	}
}

type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerEvent    TriggerType = "event"
	TriggerSchedule TriggerType = "schedule"
)

type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
)

type Execution struct {
	ID            string               `json:"id"`
	ProjectID     string               `json:"project_id"`
	DAGTemplateID string               `json:"dag_template_id"`
	TriggerType   TriggerType          `json:"trigger_type"`
	TriggerEvent  map[string]any       `json:"trigger_event,omitempty"`
	Status        ExecutionStatus      `json:"status"`
	NodeStates    map[string]NodeState `json:"node_states"`
	NodeTaskIDs   map[string]string    `json:"node_task_ids"`
	InputConfig   map[string]any       `json:"input_config"`
	ErrorMessage  string               `json:"error_message"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	FinishedAt    *time.Time           `json:"finished_at,omitempty"`
}

// NewExecution initializes every template node to pending, per spec §4.5
// create().
func NewExecution(id string, tmpl *Template, projectID string, triggerType TriggerType, triggerEvent, inputConfig map[string]any) *Execution {
	states := make(map[string]NodeState, len(tmpl.Nodes))
	for _, n := range tmpl.Nodes {
		states[n.ID] = NodePending
	}
	now := time.Now()
	return &Execution{
		ID:            id,
		ProjectID:     projectID,
		DAGTemplateID: tmpl.ID,
		TriggerType:   triggerType,
		TriggerEvent:  triggerEvent,
		Status:        ExecPending,
		NodeStates:    states,
		NodeTaskIDs:   map[string]string{},
		InputConfig:   inputConfig,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ReadySet returns the nodes currently pending whose every dependency is
// completed (spec §GLOSSARY "DAG ready node").
func ReadySet(nodes []Node, states map[string]NodeState) []Node {
	var ready []Node
	for _, n := range nodes {
		if states[n.ID] != NodePending {
			continue
		}
		allDepsCompleted := true
		for _, dep := range n.DependsOn {
			if states[dep] != NodeCompleted {
				allDepsCompleted = false
				break
			}
		}
		if allDepsCompleted {
			ready = append(ready, n)
		}
	}
	return ready
}

// CascadeSkip marks every pending node with any blocked dependency
// (failed or skipped) as skipped, in one pass. Returns true if any node
// changed state, signalling the caller should re-evaluate readiness.
func CascadeSkip(nodes []Node, states map[string]NodeState) bool {
	changed := false
	for _, n := range nodes {
		if states[n.ID] != NodePending {
			continue
		}
		for _, dep := range n.DependsOn {
			if states[dep] == NodeFailed || states[dep] == NodeSkipped {
				states[n.ID] = NodeSkipped
				changed = true
				break
			}
		}
	}
	return changed
}

// AllTerminal reports whether every node in states has reached a terminal
// state.
func AllTerminal(nodes []Node, states map[string]NodeState) bool {
	for _, n := range nodes {
		if !states[n.ID].Terminal() {
			return false
		}
	}
	return true
}

// AnyFailed reports whether any node ended in the failed state, used to
// decide the execution's final status (completed iff no node failed).
func AnyFailed(nodes []Node, states map[string]NodeState) bool {
	for _, n := range nodes {
		if states[n.ID] == NodeFailed {
			return true
		}
	}
	return false
}

var ErrCyclic = apierr.Validation("dag template contains a cycle")
