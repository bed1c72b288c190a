package memory

import (
	"context"
	"sync"
	"time"

	"github.com/riftwatch/easm/domain/dag"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type DAGStore struct {
	mu         sync.Mutex
	templates  map[string]*dag.Template
	executions map[string]*dag.Execution
}

func NewDAGStore() *DAGStore {
	return &DAGStore{
		templates:  make(map[string]*dag.Template),
		executions: make(map[string]*dag.Execution),
	}
}

func (s *DAGStore) CreateTemplate(_ context.Context, t *dag.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *DAGStore) GetTemplate(_ context.Context, id string) (*dag.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, apierr.NotFound("dag_template", id)
	}
	cp := *t
	return &cp, nil
}

func (s *DAGStore) ListTemplates(_ context.Context, projectID string) ([]*dag.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*dag.Template
	for _, t := range s.templates {
		if t.ProjectID == projectID || t.ProjectID == "" {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *DAGStore) UpdateTemplate(_ context.Context, t *dag.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.templates[t.ID]
	if !ok {
		return apierr.NotFound("dag_template", t.ID)
	}
	if existing.IsSystem {
		return apierr.Forbidden("system dag templates are immutable")
	}
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *DAGStore) CreateExecution(_ context.Context, e *dag.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.NodeStates = cloneStates(e.NodeStates)
	cp.NodeTaskIDs = cloneStrMap(e.NodeTaskIDs)
	s.executions[e.ID] = &cp
	return nil
}

func (s *DAGStore) GetExecution(_ context.Context, id string) (*dag.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, apierr.NotFound("dag_execution", id)
	}
	return cloneExecution(e), nil
}

func (s *DAGStore) ListExecutions(_ context.Context, projectID string) ([]*dag.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*dag.Execution
	for _, e := range s.executions {
		if e.ProjectID == projectID {
			out = append(out, cloneExecution(e))
		}
	}
	return out, nil
}

// UpdateExecutionNodeStates serializes all node_states/node_task_ids
// mutation through the store's single mutex, standing in for the
// SELECT-FOR-UPDATE row lock spec §4.5 requires against a real database.
func (s *DAGStore) UpdateExecutionNodeStates(_ context.Context, id string, mutate func(*dag.Execution)) (*dag.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, apierr.NotFound("dag_execution", id)
	}
	mutate(e)
	e.UpdatedAt = time.Now()
	return cloneExecution(e), nil
}

func (s *DAGStore) FindNodeByTaskID(_ context.Context, taskID string) (string, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.executions {
		for nodeID, tid := range e.NodeTaskIDs {
			if tid == taskID {
				return e.ID, nodeID, true, nil
			}
		}
	}
	return "", "", false, nil
}

func cloneStates(m map[string]dag.NodeState) map[string]dag.NodeState {
	out := make(map[string]dag.NodeState, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStrMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneExecution(e *dag.Execution) *dag.Execution {
	cp := *e
	cp.NodeStates = cloneStates(e.NodeStates)
	cp.NodeTaskIDs = cloneStrMap(e.NodeTaskIDs)
	return &cp
}
