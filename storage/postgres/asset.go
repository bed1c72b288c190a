package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/riftwatch/easm/domain/asset"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type AssetStore struct {
	db *sql.DB
}

func NewAssetStore(db *sql.DB) *AssetStore {
	return &AssetStore{db: db}
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return b, nil
}

func (s *AssetStore) UpsertSubdomain(ctx context.Context, in asset.Subdomain) (*asset.Subdomain, error) {
	ips, err := marshalJSON(in.IPAddresses)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO subdomains (id, project_id, subdomain, ip_addresses, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, subdomain) DO UPDATE SET
			ip_addresses = (
				SELECT to_jsonb(array(SELECT DISTINCT unnest(
					array(SELECT jsonb_array_elements_text(subdomains.ip_addresses)) ||
					array(SELECT jsonb_array_elements_text(EXCLUDED.ip_addresses))
				)))
			),
			source = EXCLUDED.source,
			last_seen = GREATEST(subdomains.last_seen, EXCLUDED.last_seen)
		RETURNING id, project_id, subdomain, ip_addresses, source, fingerprint_hash, first_seen, last_seen
	`, in.ID, in.ProjectID, in.Subdomain, ips, in.Source, in.FingerprintHash, in.FirstSeen, in.LastSeen)

	var out asset.Subdomain
	var ipsOut []byte
	if err := row.Scan(&out.ID, &out.ProjectID, &out.Subdomain, &ipsOut, &out.Source, &out.FingerprintHash, &out.FirstSeen, &out.LastSeen); err != nil {
		return nil, apierr.TransientBackend(err)
	}
	if err := json.Unmarshal(ipsOut, &out.IPAddresses); err != nil {
		return nil, apierr.Internal(err)
	}
	return &out, nil
}

func (s *AssetStore) UpsertIPAddress(ctx context.Context, in asset.IPAddress) (*asset.IPAddress, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO ip_addresses (id, project_id, ip, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, ip) DO UPDATE SET
			source = EXCLUDED.source,
			last_seen = GREATEST(ip_addresses.last_seen, EXCLUDED.last_seen)
		RETURNING id, project_id, ip, source, fingerprint_hash, first_seen, last_seen
	`, in.ID, in.ProjectID, in.IP, in.Source, in.FingerprintHash, in.FirstSeen, in.LastSeen)

	var out asset.IPAddress
	if err := row.Scan(&out.ID, &out.ProjectID, &out.IP, &out.Source, &out.FingerprintHash, &out.FirstSeen, &out.LastSeen); err != nil {
		return nil, apierr.TransientBackend(err)
	}
	return &out, nil
}

func (s *AssetStore) UpsertPort(ctx context.Context, in asset.Port) (*asset.Port, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO ports (id, ip_id, project_id, port, protocol, banner, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (ip_id, port, protocol) DO UPDATE SET
			banner = EXCLUDED.banner,
			source = EXCLUDED.source,
			last_seen = GREATEST(ports.last_seen, EXCLUDED.last_seen)
		RETURNING id, ip_id, project_id, port, protocol, banner, source, fingerprint_hash, first_seen, last_seen
	`, in.ID, in.IPID, in.ProjectID, in.Port, in.Protocol, in.Banner, in.Source, in.FingerprintHash, in.FirstSeen, in.LastSeen)

	var out asset.Port
	if err := row.Scan(&out.ID, &out.IPID, &out.ProjectID, &out.Port, &out.Protocol, &out.Banner, &out.Source, &out.FingerprintHash, &out.FirstSeen, &out.LastSeen); err != nil {
		return nil, apierr.TransientBackend(err)
	}
	return &out, nil
}

func (s *AssetStore) UpsertWebAsset(ctx context.Context, in asset.WebAsset) (*asset.WebAsset, error) {
	tech, err := marshalJSON(in.Technologies)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO web_assets (id, project_id, normalized_url, title, status_code, technologies, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (project_id, normalized_url) DO UPDATE SET
			title = EXCLUDED.title,
			status_code = EXCLUDED.status_code,
			technologies = EXCLUDED.technologies,
			source = EXCLUDED.source,
			last_seen = GREATEST(web_assets.last_seen, EXCLUDED.last_seen)
		RETURNING id, project_id, normalized_url, title, status_code, technologies, source, fingerprint_hash, first_seen, last_seen
	`, in.ID, in.ProjectID, in.NormalizedURL, in.Title, in.StatusCode, tech, in.Source, in.FingerprintHash, in.FirstSeen, in.LastSeen)

	var out asset.WebAsset
	var techOut []byte
	if err := row.Scan(&out.ID, &out.ProjectID, &out.NormalizedURL, &out.Title, &out.StatusCode, &techOut, &out.Source, &out.FingerprintHash, &out.FirstSeen, &out.LastSeen); err != nil {
		return nil, apierr.TransientBackend(err)
	}
	if err := json.Unmarshal(techOut, &out.Technologies); err != nil {
		return nil, apierr.Internal(err)
	}
	return &out, nil
}

func (s *AssetStore) UpsertJSAsset(ctx context.Context, in asset.JSAsset) (*asset.JSAsset, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO js_assets (id, project_id, web_asset_id, script_url, content_hash, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project_id, script_url, content_hash) DO UPDATE SET
			source = EXCLUDED.source,
			last_seen = GREATEST(js_assets.last_seen, EXCLUDED.last_seen)
		RETURNING id, project_id, COALESCE(web_asset_id::text, ''), script_url, content_hash, source, fingerprint_hash, first_seen, last_seen
	`, in.ID, in.ProjectID, in.WebAssetID, in.ScriptURL, in.ContentHash, in.Source, in.FingerprintHash, in.FirstSeen, in.LastSeen)

	var out asset.JSAsset
	if err := row.Scan(&out.ID, &out.ProjectID, &out.WebAssetID, &out.ScriptURL, &out.ContentHash, &out.Source, &out.FingerprintHash, &out.FirstSeen, &out.LastSeen); err != nil {
		return nil, apierr.TransientBackend(err)
	}
	return &out, nil
}

func (s *AssetStore) UpsertAPIEndpoint(ctx context.Context, in asset.APIEndpoint) (*asset.APIEndpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO api_endpoints (id, project_id, endpoint, method, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, endpoint, method) DO UPDATE SET
			source = EXCLUDED.source,
			last_seen = GREATEST(api_endpoints.last_seen, EXCLUDED.last_seen)
		RETURNING id, project_id, endpoint, method, source, fingerprint_hash, first_seen, last_seen
	`, in.ID, in.ProjectID, in.Endpoint, in.Method, in.Source, in.FingerprintHash, in.FirstSeen, in.LastSeen)

	var out asset.APIEndpoint
	if err := row.Scan(&out.ID, &out.ProjectID, &out.Endpoint, &out.Method, &out.Source, &out.FingerprintHash, &out.FirstSeen, &out.LastSeen); err != nil {
		return nil, apierr.TransientBackend(err)
	}
	return &out, nil
}

func (s *AssetStore) UpsertVulnerability(ctx context.Context, in asset.Vulnerability) (*asset.Vulnerability, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO vulnerabilities (id, project_id, target_url, template_id, severity, description, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (project_id, target_url, template_id) DO UPDATE SET
			severity = EXCLUDED.severity,
			description = EXCLUDED.description,
			source = EXCLUDED.source,
			last_seen = GREATEST(vulnerabilities.last_seen, EXCLUDED.last_seen)
		RETURNING id, project_id, target_url, template_id, severity, description, source, fingerprint_hash, first_seen, last_seen
	`, in.ID, in.ProjectID, in.TargetURL, in.TemplateID, in.Severity, in.Description, in.Source, in.FingerprintHash, in.FirstSeen, in.LastSeen)

	var out asset.Vulnerability
	if err := row.Scan(&out.ID, &out.ProjectID, &out.TargetURL, &out.TemplateID, &out.Severity, &out.Description, &out.Source, &out.FingerprintHash, &out.FirstSeen, &out.LastSeen); err != nil {
		return nil, apierr.TransientBackend(err)
	}
	return &out, nil
}

func (s *AssetStore) UpsertAPIRiskFinding(ctx context.Context, in asset.APIRiskFinding) (*asset.APIRiskFinding, error) {
	history, err := marshalJSON(in.StatusHistory)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO api_risk_findings (id, project_id, endpoint_id, rule_name, severity, status_history, source, fingerprint_hash, first_seen, last_seen)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (project_id, endpoint_id, rule_name) DO UPDATE SET
			severity = EXCLUDED.severity,
			source = EXCLUDED.source,
			last_seen = GREATEST(api_risk_findings.last_seen, EXCLUDED.last_seen)
		RETURNING id, project_id, COALESCE(endpoint_id::text, ''), rule_name, severity, status_history, source, fingerprint_hash, first_seen, last_seen
	`, in.ID, in.ProjectID, in.EndpointID, in.RuleName, in.Severity, history, in.Source, in.FingerprintHash, in.FirstSeen, in.LastSeen)

	var out asset.APIRiskFinding
	var historyOut []byte
	if err := row.Scan(&out.ID, &out.ProjectID, &out.EndpointID, &out.RuleName, &out.Severity, &historyOut, &out.Source, &out.FingerprintHash, &out.FirstSeen, &out.LastSeen); err != nil {
		return nil, apierr.TransientBackend(err)
	}
	if err := json.Unmarshal(historyOut, &out.StatusHistory); err != nil {
		return nil, apierr.Internal(err)
	}
	return &out, nil
}

// BulkImportAssets implements spec §4.1's single-batch upsert: one INSERT
// built from unnest()'d columns, ON CONFLICT (project_id, asset_type, value)
// DO NOTHING. Postgres resolves duplicate natural keys within the same
// VALUES/unnest set the same way it resolves a conflict against an existing
// row, so in-batch duplicates collapse without any app-side pre-dedup.
func (s *AssetStore) BulkImportAssets(ctx context.Context, in []asset.AssetEntity) ([]*asset.AssetEntity, int, int, error) {
	total := len(in)
	if total == 0 {
		return nil, 0, 0, nil
	}

	ids := make(pq.StringArray, total)
	projectIDs := make(pq.StringArray, total)
	assetTypes := make(pq.StringArray, total)
	values := make(pq.StringArray, total)
	sources := make(pq.StringArray, total)
	fingerprints := make(pq.StringArray, total)
	now := time.Now()
	for i, e := range in {
		ids[i] = e.ID
		projectIDs[i] = e.ProjectID
		assetTypes[i] = e.AssetType
		values[i] = e.Value
		sources[i] = e.Source
		fingerprints[i] = asset.FingerprintHash(e.ProjectID, "asset_entity", e.AssetType+":"+e.Value)
	}

	rows, err := s.db.QueryContext(ctx, `
		INSERT INTO asset_entities (id, project_id, asset_type, value, source, fingerprint_hash, first_seen, last_seen)
		SELECT unnest($1::uuid[]), unnest($2::uuid[]), unnest($3::text[]), unnest($4::text[]),
		       unnest($5::text[]), unnest($6::text[]), $7, $7
		ON CONFLICT (project_id, asset_type, value) DO NOTHING
		RETURNING id, project_id, asset_type, value, source, fingerprint_hash, first_seen, last_seen
	`, ids, projectIDs, assetTypes, values, sources, fingerprints, now)
	if err != nil {
		return nil, 0, 0, apierr.TransientBackend(err)
	}
	defer rows.Close()

	var inserted []*asset.AssetEntity
	for rows.Next() {
		var r asset.AssetEntity
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.AssetType, &r.Value, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, 0, 0, apierr.TransientBackend(err)
		}
		inserted = append(inserted, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, apierr.TransientBackend(err)
	}
	skipped := total - len(inserted)
	return inserted, skipped, total, nil
}

func (s *AssetStore) ListSubdomains(ctx context.Context, projectID string) ([]*asset.Subdomain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, subdomain, ip_addresses, source, fingerprint_hash, first_seen, last_seen
		FROM subdomains WHERE project_id = $1 ORDER BY first_seen
	`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*asset.Subdomain
	for rows.Next() {
		var r asset.Subdomain
		var ips []byte
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Subdomain, &ips, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		if err := json.Unmarshal(ips, &r.IPAddresses); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *AssetStore) ListIPAddresses(ctx context.Context, projectID string) ([]*asset.IPAddress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, ip, source, fingerprint_hash, first_seen, last_seen
		FROM ip_addresses WHERE project_id = $1 ORDER BY first_seen
	`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*asset.IPAddress
	for rows.Next() {
		var r asset.IPAddress
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.IP, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *AssetStore) ListPorts(ctx context.Context, projectID string) ([]*asset.Port, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ip_id, project_id, port, protocol, banner, source, fingerprint_hash, first_seen, last_seen
		FROM ports WHERE project_id = $1 ORDER BY first_seen
	`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*asset.Port
	for rows.Next() {
		var r asset.Port
		if err := rows.Scan(&r.ID, &r.IPID, &r.ProjectID, &r.Port, &r.Protocol, &r.Banner, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *AssetStore) ListWebAssets(ctx context.Context, projectID string) ([]*asset.WebAsset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, normalized_url, title, status_code, technologies, source, fingerprint_hash, first_seen, last_seen
		FROM web_assets WHERE project_id = $1 ORDER BY first_seen
	`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*asset.WebAsset
	for rows.Next() {
		var r asset.WebAsset
		var tech []byte
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.NormalizedURL, &r.Title, &r.StatusCode, &tech, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		if err := json.Unmarshal(tech, &r.Technologies); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *AssetStore) ListJSAssets(ctx context.Context, projectID string) ([]*asset.JSAsset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, COALESCE(web_asset_id::text, ''), script_url, content_hash, source, fingerprint_hash, first_seen, last_seen
		FROM js_assets WHERE project_id = $1 ORDER BY first_seen
	`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*asset.JSAsset
	for rows.Next() {
		var r asset.JSAsset
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.WebAssetID, &r.ScriptURL, &r.ContentHash, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *AssetStore) ListAPIEndpoints(ctx context.Context, projectID string) ([]*asset.APIEndpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, endpoint, method, source, fingerprint_hash, first_seen, last_seen
		FROM api_endpoints WHERE project_id = $1 ORDER BY first_seen
	`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*asset.APIEndpoint
	for rows.Next() {
		var r asset.APIEndpoint
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Endpoint, &r.Method, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *AssetStore) ListVulnerabilities(ctx context.Context, projectID string) ([]*asset.Vulnerability, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, target_url, template_id, severity, description, source, fingerprint_hash, first_seen, last_seen
		FROM vulnerabilities WHERE project_id = $1 ORDER BY first_seen
	`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*asset.Vulnerability
	for rows.Next() {
		var r asset.Vulnerability
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.TargetURL, &r.TemplateID, &r.Severity, &r.Description, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *AssetStore) ListAPIRiskFindings(ctx context.Context, projectID string) ([]*asset.APIRiskFinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, COALESCE(endpoint_id::text, ''), rule_name, severity, status_history, source, fingerprint_hash, first_seen, last_seen
		FROM api_risk_findings WHERE project_id = $1 ORDER BY first_seen
	`, projectID)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()
	var out []*asset.APIRiskFinding
	for rows.Next() {
		var r asset.APIRiskFinding
		var history []byte
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.EndpointID, &r.RuleName, &r.Severity, &history, &r.Source, &r.FingerprintHash, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		if err := json.Unmarshal(history, &r.StatusHistory); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// MergeDuplicateSubdomains implements spec §4.1: rows sharing a
// fingerprint_hash within a project are merged, keeping the greater
// last_seen and the union of ip_addresses, and the losers are deleted.
func (s *AssetStore) MergeDuplicateSubdomains(ctx context.Context, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT fingerprint_hash, array_agg(id ORDER BY last_seen DESC)
		FROM subdomains WHERE project_id = $1
		GROUP BY fingerprint_hash HAVING count(*) > 1
	`, projectID)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	var groups [][]string
	for rows.Next() {
		var hash string
		var ids pq.StringArray
		if err := rows.Scan(&hash, &ids); err != nil {
			rows.Close()
			return apierr.TransientBackend(err)
		}
		groups = append(groups, ids)
	}
	rows.Close()

	for _, ids := range groups {
		keeper := ids[0]
		losers := ids[1:]
		if _, err := tx.ExecContext(ctx, `
			UPDATE subdomains SET ip_addresses = (
				SELECT to_jsonb(array(SELECT DISTINCT unnest(
					array(SELECT jsonb_array_elements_text(ip_addresses)) ||
					(SELECT array_agg(DISTINCT x) FROM subdomains s2, jsonb_array_elements_text(s2.ip_addresses) x WHERE s2.id = ANY($2))
				)))
			) WHERE id = $1
		`, keeper, pq.StringArray(losers)); err != nil {
			return apierr.TransientBackend(err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM subdomains WHERE id = ANY($1)`, pq.StringArray(losers)); err != nil {
			return apierr.TransientBackend(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apierr.TransientBackend(err)
	}
	return nil
}

// DeleteProjectCascade removes every project-scoped row in asset.CascadeOrder
// in one transaction. The project row itself is left for ProjectStore.Delete.
func (s *AssetStore) DeleteProjectCascade(ctx context.Context, projectID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	defer tx.Rollback()

	for _, table := range asset.CascadeOrder {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE project_id = $1`, projectID); err != nil {
			return apierr.TransientBackend(err)
		}
	}
	return tx.Commit()
}
