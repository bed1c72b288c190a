package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/riftwatch/easm/domain/trigger"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type TriggerStore struct {
	db *sql.DB
}

func NewTriggerStore(db *sql.DB) *TriggerStore {
	return &TriggerStore{db: db}
}

const triggerColumns = `id, project_id, event_type, filter_config, dag_template_id, dag_config, enabled, trigger_count, created_at, updated_at`

func (s *TriggerStore) Create(ctx context.Context, t *trigger.Trigger) error {
	filter, err := marshalJSON(t.FilterConfig)
	if err != nil {
		return err
	}
	dagCfg, err := marshalJSON(t.DAGConfig)
	if err != nil {
		return err
	}
	counters, err := marshalJSON(t.TriggerCount)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO event_triggers (id, project_id, event_type, filter_config, dag_template_id, dag_config, enabled, trigger_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.ProjectID, t.EventType, filter, t.DAGTemplateID, dagCfg, t.Enabled, counters, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return nil
}

func triggerRow(row *sql.Row) (*trigger.Trigger, error) {
	var t trigger.Trigger
	var filter, dagCfg, counters []byte
	if err := row.Scan(&t.ID, &t.ProjectID, &t.EventType, &filter, &t.DAGTemplateID, &dagCfg, &t.Enabled, &counters, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("event_trigger", "")
		}
		return nil, apierr.TransientBackend(err)
	}
	if err := json.Unmarshal(filter, &t.FilterConfig); err != nil {
		return nil, apierr.Internal(err)
	}
	if err := json.Unmarshal(dagCfg, &t.DAGConfig); err != nil {
		return nil, apierr.Internal(err)
	}
	if err := json.Unmarshal(counters, &t.TriggerCount); err != nil {
		return nil, apierr.Internal(err)
	}
	return &t, nil
}

func (s *TriggerStore) Get(ctx context.Context, id string) (*trigger.Trigger, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM event_triggers WHERE id = $1`, id)
	t, err := triggerRow(row)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, apierr.NotFound("event_trigger", id)
		}
		return nil, err
	}
	return t, nil
}

func (s *TriggerStore) ListEnabledByEventType(ctx context.Context, projectID, eventType string) ([]*trigger.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+triggerColumns+` FROM event_triggers WHERE project_id = $1 AND event_type = $2 AND enabled ORDER BY created_at
	`, projectID, eventType)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	return scanTriggers(rows)
}

func (s *TriggerStore) List(ctx context.Context, projectID string) ([]*trigger.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+triggerColumns+` FROM event_triggers WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	return scanTriggers(rows)
}

func scanTriggers(rows *sql.Rows) ([]*trigger.Trigger, error) {
	var out []*trigger.Trigger
	for rows.Next() {
		var t trigger.Trigger
		var filter, dagCfg, counters []byte
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.EventType, &filter, &t.DAGTemplateID, &dagCfg, &t.Enabled, &counters, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		if err := json.Unmarshal(filter, &t.FilterConfig); err != nil {
			return nil, apierr.Internal(err)
		}
		if err := json.Unmarshal(dagCfg, &t.DAGConfig); err != nil {
			return nil, apierr.Internal(err)
		}
		if err := json.Unmarshal(counters, &t.TriggerCount); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *TriggerStore) Update(ctx context.Context, t *trigger.Trigger) error {
	filter, err := marshalJSON(t.FilterConfig)
	if err != nil {
		return err
	}
	dagCfg, err := marshalJSON(t.DAGConfig)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE event_triggers SET event_type = $2, filter_config = $3, dag_template_id = $4, dag_config = $5, enabled = $6, updated_at = $7
		WHERE id = $1
	`, t.ID, t.EventType, filter, t.DAGTemplateID, dagCfg, t.Enabled, t.UpdatedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return checkRowsAffected(res, "event_trigger", t.ID)
}

func (s *TriggerStore) IncrementCounters(ctx context.Context, id string, success bool) error {
	col := "failed"
	if success {
		col = "success"
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE event_triggers SET trigger_count = jsonb_set(
			jsonb_set(trigger_count, '{total}', to_jsonb((trigger_count->>'total')::int + 1)),
			'{`+col+`}', to_jsonb((trigger_count->>'`+col+`')::int + 1)
		), updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return checkRowsAffected(res, "event_trigger", id)
}
