package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/riftwatch/easm/domain/scan"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type ScanStore struct {
	db *sql.DB
}

func NewScanStore(db *sql.DB) *ScanStore {
	return &ScanStore{db: db}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *ScanStore) CreateTask(ctx context.Context, t *scan.Task) error {
	cfg, err := marshalJSON(t.Config)
	if err != nil {
		return err
	}
	summary, err := marshalJSON(t.ResultSummary)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scan_tasks (id, project_id, scan_policy_id, task_type, status, priority, progress,
			total_targets, completed_targets, config, result_summary, error_message, created_at, updated_at, started_at, finished_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, t.ID, t.ProjectID, t.ScanPolicyID, string(t.TaskType), string(t.Status), t.Priority, t.Progress,
		t.TotalTargets, t.CompletedTargets, cfg, summary, t.ErrorMessage, t.CreatedAt, t.UpdatedAt, t.StartedAt, t.FinishedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return nil
}

func scanTaskRow(row *sql.Row) (*scan.Task, error) {
	var t scan.Task
	var taskType, status, policyID string
	var cfg, summary []byte
	if err := row.Scan(&t.ID, &t.ProjectID, &policyID, &taskType, &status, &t.Priority, &t.Progress,
		&t.TotalTargets, &t.CompletedTargets, &cfg, &summary, &t.ErrorMessage,
		&t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.FinishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("scan_task", "")
		}
		return nil, apierr.TransientBackend(err)
	}
	t.ScanPolicyID = policyID
	t.TaskType = scan.TaskType(taskType)
	t.Status = scan.Status(status)
	if err := json.Unmarshal(cfg, &t.Config); err != nil {
		return nil, apierr.Internal(err)
	}
	if err := json.Unmarshal(summary, &t.ResultSummary); err != nil {
		return nil, apierr.Internal(err)
	}
	return &t, nil
}

const scanTaskColumns = `id, project_id, COALESCE(scan_policy_id::text, ''), task_type, status, priority, progress,
	total_targets, completed_targets, config, result_summary, error_message, created_at, updated_at, started_at, finished_at`

func (s *ScanStore) GetTask(ctx context.Context, id string) (*scan.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanTaskColumns+` FROM scan_tasks WHERE id = $1`, id)
	t, err := scanTaskRow(row)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, apierr.NotFound("scan_task", id)
		}
		return nil, err
	}
	return t, nil
}

func (s *ScanStore) ListTasks(ctx context.Context, projectID string) ([]*scan.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scanTaskColumns+` FROM scan_tasks WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*scan.Task
	for rows.Next() {
		var t scan.Task
		var taskType, status, policyID string
		var cfg, summary []byte
		if err := rows.Scan(&t.ID, &t.ProjectID, &policyID, &taskType, &status, &t.Priority, &t.Progress,
			&t.TotalTargets, &t.CompletedTargets, &cfg, &summary, &t.ErrorMessage,
			&t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.FinishedAt); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		t.ScanPolicyID = policyID
		t.TaskType = scan.TaskType(taskType)
		t.Status = scan.Status(status)
		if err := json.Unmarshal(cfg, &t.Config); err != nil {
			return nil, apierr.Internal(err)
		}
		if err := json.Unmarshal(summary, &t.ResultSummary); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// CompareAndSwapStatus implements the spec §4.3 serialization point with a
// single UPDATE ... WHERE id = $1 AND status = $2 guarded by row locking:
// the UPDATE itself is the atomic compare-and-swap, matching the teacher's
// "guard the WHERE clause with the expected prior state" idiom.
func (s *ScanStore) CompareAndSwapStatus(ctx context.Context, id string, from, to scan.Status, mutate func(*scan.Task)) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apierr.TransientBackend(err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+scanTaskColumns+` FROM scan_tasks WHERE id = $1 AND status = $2 FOR UPDATE`, id, string(from))
	t, err := scanTaskRow(row)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return false, nil
		}
		return false, err
	}

	t.Status = to
	if mutate != nil {
		mutate(t)
	}

	cfg, err := marshalJSON(t.Config)
	if err != nil {
		return false, err
	}
	summary, err := marshalJSON(t.ResultSummary)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE scan_tasks SET status = $2, progress = $3, completed_targets = $4, total_targets = $5,
			config = $6, result_summary = $7, error_message = $8, updated_at = $9, started_at = $10, finished_at = $11
		WHERE id = $1 AND status = $12
	`, t.ID, string(t.Status), t.Progress, t.CompletedTargets, t.TotalTargets, cfg, summary, t.ErrorMessage,
		t.UpdatedAt, t.StartedAt, t.FinishedAt, string(from))
	if err != nil {
		return false, apierr.TransientBackend(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apierr.TransientBackend(err)
	}
	if n == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, apierr.TransientBackend(err)
	}
	return true, nil
}

func (s *ScanStore) UpdateTask(ctx context.Context, t *scan.Task) error {
	cfg, err := marshalJSON(t.Config)
	if err != nil {
		return err
	}
	summary, err := marshalJSON(t.ResultSummary)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scan_tasks SET status = $2, priority = $3, progress = $4, total_targets = $5, completed_targets = $6,
			config = $7, result_summary = $8, error_message = $9, updated_at = $10, started_at = $11, finished_at = $12
		WHERE id = $1
	`, t.ID, string(t.Status), t.Priority, t.Progress, t.TotalTargets, t.CompletedTargets,
		cfg, summary, t.ErrorMessage, t.UpdatedAt, t.StartedAt, t.FinishedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return checkRowsAffected(res, "scan_task", t.ID)
}

func (s *ScanStore) CreatePolicy(ctx context.Context, p *scan.Policy) error {
	cfg, err := marshalJSON(p.ScanConfig)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scan_policies (id, project_id, name, scan_config, dag_template_id, is_default, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
	`, p.ID, p.ProjectID, p.Name, cfg, p.DAGTemplateID, p.IsDefault, p.Enabled, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return nil
}

const scanPolicyColumns = `id, project_id, name, scan_config, COALESCE(dag_template_id::text, ''), is_default, enabled, created_at, updated_at`

func scanPolicyRow(row *sql.Row) (*scan.Policy, error) {
	var p scan.Policy
	var cfg []byte
	if err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &cfg, &p.DAGTemplateID, &p.IsDefault, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("scan_policy", "")
		}
		return nil, apierr.TransientBackend(err)
	}
	if err := json.Unmarshal(cfg, &p.ScanConfig); err != nil {
		return nil, apierr.Internal(err)
	}
	return &p, nil
}

func (s *ScanStore) GetPolicy(ctx context.Context, id string) (*scan.Policy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanPolicyColumns+` FROM scan_policies WHERE id = $1`, id)
	p, err := scanPolicyRow(row)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, apierr.NotFound("scan_policy", id)
		}
		return nil, err
	}
	return p, nil
}

func (s *ScanStore) GetDefaultPolicy(ctx context.Context, projectID string) (*scan.Policy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanPolicyColumns+` FROM scan_policies WHERE project_id = $1 AND is_default`, projectID)
	p, err := scanPolicyRow(row)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, apierr.NotFound("scan_policy", "default:"+projectID)
		}
		return nil, err
	}
	return p, nil
}

func (s *ScanStore) ListPolicies(ctx context.Context, projectID string) ([]*scan.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scanPolicyColumns+` FROM scan_policies WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*scan.Policy
	for rows.Next() {
		var p scan.Policy
		var cfg []byte
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Name, &cfg, &p.DAGTemplateID, &p.IsDefault, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		if err := json.Unmarshal(cfg, &p.ScanConfig); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// SetDefaultPolicy clears is_default on every sibling policy then sets it on
// policyID, in one transaction (spec §4.4).
func (s *ScanStore) SetDefaultPolicy(ctx context.Context, projectID, policyID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE scan_policies SET is_default = false WHERE project_id = $1`, projectID); err != nil {
		return apierr.TransientBackend(err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE scan_policies SET is_default = true WHERE id = $1 AND project_id = $2`, policyID, projectID)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	if err := checkRowsAffected(res, "scan_policy", policyID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *ScanStore) UpdatePolicy(ctx context.Context, p *scan.Policy) error {
	cfg, err := marshalJSON(p.ScanConfig)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scan_policies SET name = $2, scan_config = $3, dag_template_id = NULLIF($4, ''), enabled = $5, updated_at = $6
		WHERE id = $1
	`, p.ID, p.Name, cfg, p.DAGTemplateID, p.Enabled, p.UpdatedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return checkRowsAffected(res, "scan_policy", p.ID)
}
