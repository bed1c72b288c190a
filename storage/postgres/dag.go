package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/riftwatch/easm/domain/dag"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type DAGStore struct {
	db *sql.DB
}

func NewDAGStore(db *sql.DB) *DAGStore {
	return &DAGStore{db: db}
}

func (s *DAGStore) CreateTemplate(ctx context.Context, t *dag.Template) error {
	nodes, err := marshalJSON(t.Nodes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dag_templates (id, project_id, name, nodes, is_system, enabled, schedule_cron, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.ProjectID, t.Name, nodes, t.IsSystem, t.Enabled, t.ScheduleCron, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return nil
}

const dagTemplateColumns = `id, COALESCE(project_id::text, ''), name, nodes, is_system, enabled, schedule_cron, created_at, updated_at`

func (s *DAGStore) GetTemplate(ctx context.Context, id string) (*dag.Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dagTemplateColumns+` FROM dag_templates WHERE id = $1`, id)
	var t dag.Template
	var nodes []byte
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &nodes, &t.IsSystem, &t.Enabled, &t.ScheduleCron, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("dag_template", id)
		}
		return nil, apierr.TransientBackend(err)
	}
	if err := json.Unmarshal(nodes, &t.Nodes); err != nil {
		return nil, apierr.Internal(err)
	}
	return &t, nil
}

func (s *DAGStore) ListTemplates(ctx context.Context, projectID string) ([]*dag.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+dagTemplateColumns+` FROM dag_templates WHERE project_id = $1 OR project_id IS NULL ORDER BY created_at`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*dag.Template
	for rows.Next() {
		var t dag.Template
		var nodes []byte
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &nodes, &t.IsSystem, &t.Enabled, &t.ScheduleCron, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		if err := json.Unmarshal(nodes, &t.Nodes); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *DAGStore) UpdateTemplate(ctx context.Context, t *dag.Template) error {
	nodes, err := marshalJSON(t.Nodes)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE dag_templates SET name = $2, nodes = $3, enabled = $4, schedule_cron = $5, updated_at = $6 WHERE id = $1
	`, t.ID, t.Name, nodes, t.Enabled, t.ScheduleCron, t.UpdatedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return checkRowsAffected(res, "dag_template", t.ID)
}

func (s *DAGStore) CreateExecution(ctx context.Context, e *dag.Execution) error {
	triggerEvent, err := marshalJSON(e.TriggerEvent)
	if err != nil {
		return err
	}
	states, err := marshalJSON(e.NodeStates)
	if err != nil {
		return err
	}
	taskIDs, err := marshalJSON(e.NodeTaskIDs)
	if err != nil {
		return err
	}
	input, err := marshalJSON(e.InputConfig)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dag_executions (id, project_id, dag_template_id, trigger_type, trigger_event, status,
			node_states, node_task_ids, input_config, error_message, created_at, updated_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.ProjectID, e.DAGTemplateID, string(e.TriggerType), triggerEvent, string(e.Status),
		states, taskIDs, input, e.ErrorMessage, e.CreatedAt, e.UpdatedAt, e.FinishedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return nil
}

const dagExecutionColumns = `id, project_id, dag_template_id, trigger_type, trigger_event, status,
	node_states, node_task_ids, input_config, error_message, created_at, updated_at, finished_at`

func dagExecutionRow(row *sql.Row) (*dag.Execution, error) {
	var e dag.Execution
	var triggerType, status string
	var triggerEvent, states, taskIDs, input []byte
	if err := row.Scan(&e.ID, &e.ProjectID, &e.DAGTemplateID, &triggerType, &triggerEvent, &status,
		&states, &taskIDs, &input, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt, &e.FinishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("dag_execution", "")
		}
		return nil, apierr.TransientBackend(err)
	}
	e.TriggerType = dag.TriggerType(triggerType)
	e.Status = dag.ExecutionStatus(status)
	if err := json.Unmarshal(triggerEvent, &e.TriggerEvent); err != nil {
		return nil, apierr.Internal(err)
	}
	if err := json.Unmarshal(states, &e.NodeStates); err != nil {
		return nil, apierr.Internal(err)
	}
	if err := json.Unmarshal(taskIDs, &e.NodeTaskIDs); err != nil {
		return nil, apierr.Internal(err)
	}
	if err := json.Unmarshal(input, &e.InputConfig); err != nil {
		return nil, apierr.Internal(err)
	}
	return &e, nil
}

func (s *DAGStore) GetExecution(ctx context.Context, id string) (*dag.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dagExecutionColumns+` FROM dag_executions WHERE id = $1`, id)
	e, err := dagExecutionRow(row)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, apierr.NotFound("dag_execution", id)
		}
		return nil, err
	}
	return e, nil
}

func (s *DAGStore) ListExecutions(ctx context.Context, projectID string) ([]*dag.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+dagExecutionColumns+` FROM dag_executions WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*dag.Execution
	for rows.Next() {
		var e dag.Execution
		var triggerType, status string
		var triggerEvent, states, taskIDs, input []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.DAGTemplateID, &triggerType, &triggerEvent, &status,
			&states, &taskIDs, &input, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt, &e.FinishedAt); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		e.TriggerType = dag.TriggerType(triggerType)
		e.Status = dag.ExecutionStatus(status)
		if err := json.Unmarshal(triggerEvent, &e.TriggerEvent); err != nil {
			return nil, apierr.Internal(err)
		}
		if err := json.Unmarshal(states, &e.NodeStates); err != nil {
			return nil, apierr.Internal(err)
		}
		if err := json.Unmarshal(taskIDs, &e.NodeTaskIDs); err != nil {
			return nil, apierr.Internal(err)
		}
		if err := json.Unmarshal(input, &e.InputConfig); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// UpdateExecutionNodeStates applies mutate under a SELECT ... FOR UPDATE row
// lock, matching spec §4.5's "SELECT-FOR-UPDATE semantics" requirement.
func (s *DAGStore) UpdateExecutionNodeStates(ctx context.Context, id string, mutate func(*dag.Execution)) (*dag.Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+dagExecutionColumns+` FROM dag_executions WHERE id = $1 FOR UPDATE`, id)
	e, err := dagExecutionRow(row)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, apierr.NotFound("dag_execution", id)
		}
		return nil, err
	}

	if mutate != nil {
		mutate(e)
	}

	states, err := marshalJSON(e.NodeStates)
	if err != nil {
		return nil, err
	}
	taskIDs, err := marshalJSON(e.NodeTaskIDs)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE dag_executions SET status = $2, node_states = $3, node_task_ids = $4,
			error_message = $5, updated_at = $6, finished_at = $7
		WHERE id = $1
	`, e.ID, string(e.Status), states, taskIDs, e.ErrorMessage, e.UpdatedAt, e.FinishedAt); err != nil {
		return nil, apierr.TransientBackend(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apierr.TransientBackend(err)
	}
	return e, nil
}

// FindNodeByTaskID reverse-indexes a scan_task id to its owning
// (execution_id, node_id) pair by scanning node_task_ids, matching the
// teacher's plain-SQL-over-JSONB idiom rather than a dedicated index table.
func (s *DAGStore) FindNodeByTaskID(ctx context.Context, taskID string) (executionID, nodeID string, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT de.id, kv.key
		FROM dag_executions de, jsonb_each_text(de.node_task_ids) kv
		WHERE kv.value = $1
		LIMIT 1
	`, taskID)
	if scanErr := row.Scan(&executionID, &nodeID); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", "", false, nil
		}
		return "", "", false, apierr.TransientBackend(scanErr)
	}
	return executionID, nodeID, true, nil
}
