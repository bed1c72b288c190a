package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/riftwatch/easm/domain/alert"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type AlertStore struct {
	db *sql.DB
}

func NewAlertStore(db *sql.DB) *AlertStore {
	return &AlertStore{db: db}
}

func (s *AlertStore) CreateChannel(ctx context.Context, c *alert.Channel) error {
	cfg, err := marshalJSON(c.Config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_channels (id, project_id, name, channel_type, config, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.ProjectID, c.Name, string(c.ChannelType), cfg, c.Enabled, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return nil
}

const channelColumns = `id, project_id, name, channel_type, config, enabled, created_at, updated_at`

func (s *AlertStore) GetChannel(ctx context.Context, id string) (*alert.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM notification_channels WHERE id = $1`, id)
	var c alert.Channel
	var channelType string
	var cfg []byte
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &channelType, &cfg, &c.Enabled, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("notification_channel", id)
		}
		return nil, apierr.TransientBackend(err)
	}
	c.ChannelType = alert.ChannelType(channelType)
	if err := json.Unmarshal(cfg, &c.Config); err != nil {
		return nil, apierr.Internal(err)
	}
	return &c, nil
}

func (s *AlertStore) ListChannels(ctx context.Context, projectID string) ([]*alert.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+channelColumns+` FROM notification_channels WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*alert.Channel
	for rows.Next() {
		var c alert.Channel
		var channelType string
		var cfg []byte
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &channelType, &cfg, &c.Enabled, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		c.ChannelType = alert.ChannelType(channelType)
		if err := json.Unmarshal(cfg, &c.Config); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *AlertStore) UpdateChannel(ctx context.Context, c *alert.Channel) error {
	cfg, err := marshalJSON(c.Config)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_channels SET name = $2, channel_type = $3, config = $4, enabled = $5, updated_at = $6
		WHERE id = $1
	`, c.ID, c.Name, string(c.ChannelType), cfg, c.Enabled, c.UpdatedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return checkRowsAffected(res, "notification_channel", c.ID)
}

func (s *AlertStore) CreatePolicy(ctx context.Context, p *alert.Policy) error {
	channelIDs, err := marshalJSON(p.ChannelIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_policies (id, project_id, name, severity_threshold, aggregation_window_min, cooldown_min,
			max_alerts_per_hour, channel_ids, message_template, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.ProjectID, p.Name, p.SeverityThreshold, p.AggregationWindowMin, p.CooldownMin,
		p.MaxAlertsPerHour, channelIDs, p.MessageTemplate, p.Enabled, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return nil
}

const alertPolicyColumns = `id, project_id, name, severity_threshold, aggregation_window_min, cooldown_min,
	max_alerts_per_hour, channel_ids, message_template, enabled, created_at, updated_at`

func (s *AlertStore) ListEnabledPolicies(ctx context.Context, projectID string) ([]*alert.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertPolicyColumns+` FROM alert_policies WHERE project_id = $1 AND enabled ORDER BY created_at`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*alert.Policy
	for rows.Next() {
		var p alert.Policy
		var channelIDs []byte
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Name, &p.SeverityThreshold, &p.AggregationWindowMin, &p.CooldownMin,
			&p.MaxAlertsPerHour, &channelIDs, &p.MessageTemplate, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		if err := json.Unmarshal(channelIDs, &p.ChannelIDs); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *AlertStore) UpdatePolicy(ctx context.Context, p *alert.Policy) error {
	channelIDs, err := marshalJSON(p.ChannelIDs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_policies SET name = $2, severity_threshold = $3, aggregation_window_min = $4, cooldown_min = $5,
			max_alerts_per_hour = $6, channel_ids = $7, message_template = $8, enabled = $9, updated_at = $10
		WHERE id = $1
	`, p.ID, p.Name, p.SeverityThreshold, p.AggregationWindowMin, p.CooldownMin, p.MaxAlertsPerHour,
		channelIDs, p.MessageTemplate, p.Enabled, p.UpdatedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return checkRowsAffected(res, "alert_policy", p.ID)
}

const alertRecordColumns = `id, project_id, alert_policy_id, aggregation_key, alert_type, target_type, severity, status,
	aggregated_count, message, notification_results, created_at, updated_at, acked_at, resolved_at`

func alertRecordRow(row *sql.Row) (*alert.Record, error) {
	var r alert.Record
	var status string
	var results []byte
	if err := row.Scan(&r.ID, &r.ProjectID, &r.AlertPolicyID, &r.AggregationKey, &r.AlertType, &r.TargetType, &r.Severity, &status,
		&r.AggregatedCount, &r.Message, &results, &r.CreatedAt, &r.UpdatedAt, &r.AckedAt, &r.ResolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("alert_record", "")
		}
		return nil, apierr.TransientBackend(err)
	}
	r.Status = alert.RecordStatus(status)
	if err := json.Unmarshal(results, &r.NotificationResults); err != nil {
		return nil, apierr.Internal(err)
	}
	return &r, nil
}

// FindActiveByAggregationKey returns the most recent non-resolved record for
// key created within since, per spec §4.8.
func (s *AlertStore) FindActiveByAggregationKey(ctx context.Context, key string, since time.Time) (*alert.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+alertRecordColumns+` FROM alert_records
		WHERE aggregation_key = $1 AND status != 'resolved' AND created_at >= $2
		ORDER BY created_at DESC LIMIT 1
	`, key, since)
	r, err := alertRecordRow(row)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, apierr.NotFound("alert_record", key)
		}
		return nil, err
	}
	return r, nil
}

func (s *AlertStore) CountSince(ctx context.Context, policyID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM alert_records WHERE alert_policy_id = $1 AND created_at >= $2
	`, policyID, since).Scan(&n)
	if err != nil {
		return 0, apierr.TransientBackend(err)
	}
	return n, nil
}

func (s *AlertStore) CreateRecord(ctx context.Context, r *alert.Record) error {
	results, err := marshalJSON(r.NotificationResults)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_records (id, project_id, alert_policy_id, aggregation_key, alert_type, target_type, severity,
			status, aggregated_count, message, notification_results, created_at, updated_at, acked_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, r.ID, r.ProjectID, r.AlertPolicyID, r.AggregationKey, r.AlertType, r.TargetType, r.Severity,
		string(r.Status), r.AggregatedCount, r.Message, results, r.CreatedAt, r.UpdatedAt, r.AckedAt, r.ResolvedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return nil
}

func (s *AlertStore) IncrementAggregatedCount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_records SET aggregated_count = aggregated_count + 1, updated_at = now() WHERE id = $1
	`, id)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return checkRowsAffected(res, "alert_record", id)
}

func (s *AlertStore) UpdateRecord(ctx context.Context, r *alert.Record) error {
	results, err := marshalJSON(r.NotificationResults)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_records SET status = $2, aggregated_count = $3, message = $4, notification_results = $5,
			updated_at = $6, acked_at = $7, resolved_at = $8
		WHERE id = $1
	`, r.ID, string(r.Status), r.AggregatedCount, r.Message, results, r.UpdatedAt, r.AckedAt, r.ResolvedAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return checkRowsAffected(res, "alert_record", r.ID)
}

func (s *AlertStore) GetRecord(ctx context.Context, id string) (*alert.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertRecordColumns+` FROM alert_records WHERE id = $1`, id)
	r, err := alertRecordRow(row)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, apierr.NotFound("alert_record", id)
		}
		return nil, err
	}
	return r, nil
}

func (s *AlertStore) ListRecords(ctx context.Context, projectID string) ([]*alert.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertRecordColumns+` FROM alert_records WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*alert.Record
	for rows.Next() {
		var r alert.Record
		var status string
		var results []byte
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.AlertPolicyID, &r.AggregationKey, &r.AlertType, &r.TargetType, &r.Severity, &status,
			&r.AggregatedCount, &r.Message, &results, &r.CreatedAt, &r.UpdatedAt, &r.AckedAt, &r.ResolvedAt); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		r.Status = alert.RecordStatus(status)
		if err := json.Unmarshal(results, &r.NotificationResults); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
