package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/riftwatch/easm/domain/risk"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type RiskStore struct {
	db *sql.DB
}

func NewRiskStore(db *sql.DB) *RiskStore {
	return &RiskStore{db: db}
}

func (s *RiskStore) ListFactors(ctx context.Context, projectID string) ([]*risk.Factor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(project_id::text, ''), name, kind, weight, calculation_rule, enabled, created_at
		FROM risk_factors WHERE (project_id = $1 OR project_id IS NULL) AND enabled ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*risk.Factor
	for rows.Next() {
		var f risk.Factor
		var kind string
		var rule []byte
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Name, &kind, &f.Weight, &rule, &f.Enabled, &f.CreatedAt); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		f.Kind = risk.FactorKind(kind)
		if err := json.Unmarshal(rule, &f.CalculationRule); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *RiskStore) UpsertScore(ctx context.Context, sc *risk.AssetScore) error {
	factorScores, err := marshalJSON(sc.FactorScores)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO asset_risk_scores (id, project_id, asset_type, asset_id, total_score, severity_level, factor_scores, risk_summary, computed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (project_id, asset_type, asset_id) DO UPDATE SET
			total_score = EXCLUDED.total_score,
			severity_level = EXCLUDED.severity_level,
			factor_scores = EXCLUDED.factor_scores,
			risk_summary = EXCLUDED.risk_summary,
			computed_at = EXCLUDED.computed_at,
			expires_at = EXCLUDED.expires_at
	`, sc.ID, sc.ProjectID, sc.AssetType, sc.AssetID, sc.TotalScore, string(sc.SeverityLevel), factorScores, sc.RiskSummary, sc.ComputedAt, sc.ExpiresAt)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return nil
}

const riskScoreColumns = `id, project_id, asset_type, asset_id, total_score, severity_level, factor_scores, risk_summary, computed_at, expires_at`

func (s *RiskStore) GetScore(ctx context.Context, projectID, assetType, assetID string) (*risk.AssetScore, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+riskScoreColumns+` FROM asset_risk_scores WHERE project_id = $1 AND asset_type = $2 AND asset_id = $3
	`, projectID, assetType, assetID)
	var sc risk.AssetScore
	var severity string
	var factorScores []byte
	if err := row.Scan(&sc.ID, &sc.ProjectID, &sc.AssetType, &sc.AssetID, &sc.TotalScore, &severity, &factorScores, &sc.RiskSummary, &sc.ComputedAt, &sc.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("asset_risk_score", assetID)
		}
		return nil, apierr.TransientBackend(err)
	}
	sc.SeverityLevel = risk.Severity(severity)
	if err := json.Unmarshal(factorScores, &sc.FactorScores); err != nil {
		return nil, apierr.Internal(err)
	}
	return &sc, nil
}

func (s *RiskStore) ListScores(ctx context.Context, projectID string) ([]*risk.AssetScore, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+riskScoreColumns+` FROM asset_risk_scores WHERE project_id = $1 ORDER BY computed_at DESC`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*risk.AssetScore
	for rows.Next() {
		var sc risk.AssetScore
		var severity string
		var factorScores []byte
		if err := rows.Scan(&sc.ID, &sc.ProjectID, &sc.AssetType, &sc.AssetID, &sc.TotalScore, &severity, &factorScores, &sc.RiskSummary, &sc.ComputedAt, &sc.ExpiresAt); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		sc.SeverityLevel = risk.Severity(severity)
		if err := json.Unmarshal(factorScores, &sc.FactorScores); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &sc)
	}
	return out, rows.Err()
}
