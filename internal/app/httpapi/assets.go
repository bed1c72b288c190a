package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/riftwatch/easm/domain/asset"
	"github.com/riftwatch/easm/infrastructure/httputil"
)

// importAssetEntry is one element of importAssetsRequest.Assets.
type importAssetEntry struct {
	AssetType string `json:"asset_type"`
	Value     string `json:"value"`
	Source    string `json:"source,omitempty"`
}

// importAssetsRequest is the bulk-import payload of spec §4.1/§6/§8
// scenario 1: a flat list of (asset_type, value) observations.
type importAssetsRequest struct {
	Assets []importAssetEntry `json:"assets"`
}

// importAssetsResponse mirrors bulk_import_assets' literal return shape.
type importAssetsResponse struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Total    int `json:"total"`
}

// importAssets implements POST /projects/{id}/assets/import (spec §4.1,
// §6, §8 scenario 1): the request is deduped by (asset_type, value) and
// upserted into the generic AssetEntity store in a single batch, then
// newly inserted domain/ip/url values are fanned out into the typed
// Subdomain/IPAddress/WebAsset graph. Exactly one asset_created event is
// emitted for the whole batch, carrying every distinct domain and ip
// observed by this call.
func (s *Service) importAssets(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")

	var req importAssetsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	now := time.Now()

	entities := make([]asset.AssetEntity, 0, len(req.Assets))
	for _, a := range req.Assets {
		assetType := strings.ToLower(strings.TrimSpace(a.AssetType))
		value := strings.TrimSpace(a.Value)
		if assetType == "" || value == "" {
			continue
		}
		if assetType == "domain" {
			value = strings.ToLower(value)
		}
		entities = append(entities, asset.AssetEntity{
			Observation: asset.Observation{ProjectID: projectID, Source: a.Source},
			AssetType:   assetType,
			Value:       value,
		})
	}

	inserted, skipped, total, err := s.app.Stores.Assets.BulkImportAssets(ctx, entities)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}

	var domains, ips []string
	for _, e := range inserted {
		switch e.AssetType {
		case "domain":
			if _, err := s.app.Stores.Assets.UpsertSubdomain(ctx, asset.Subdomain{
				Observation: asset.Observation{
					ProjectID:       projectID,
					Source:          e.Source,
					FingerprintHash: asset.FingerprintHash(projectID, "subdomain", e.Value),
					FirstSeen:       now,
					LastSeen:        now,
				},
				Subdomain: e.Value,
			}); err != nil {
				httputil.HandleError(w, r, s.log, err)
				return
			}
			domains = append(domains, e.Value)
		case "ip":
			if net.ParseIP(e.Value) == nil {
				continue
			}
			if _, err := s.app.Stores.Assets.UpsertIPAddress(ctx, asset.IPAddress{
				Observation: asset.Observation{
					ProjectID:       projectID,
					Source:          e.Source,
					FingerprintHash: asset.FingerprintHash(projectID, "ip", e.Value),
					FirstSeen:       now,
					LastSeen:        now,
				},
				IP: e.Value,
			}); err != nil {
				httputil.HandleError(w, r, s.log, err)
				return
			}
			ips = append(ips, e.Value)
		case "url":
			normalized, err := asset.NormalizeURL(e.Value)
			if err != nil {
				continue
			}
			if _, err := s.app.Stores.Assets.UpsertWebAsset(ctx, asset.WebAsset{
				Observation: asset.Observation{
					ProjectID:       projectID,
					Source:          e.Source,
					FingerprintHash: asset.FingerprintHash(projectID, "web_asset", normalized),
					FirstSeen:       now,
					LastSeen:        now,
				},
				NormalizedURL: normalized,
			}); err != nil {
				httputil.HandleError(w, r, s.log, err)
				return
			}
		}
	}

	if len(domains) > 0 || len(ips) > 0 {
		s.emitAssetCreated(ctx, projectID, domains, ips)
	}

	httputil.WriteJSON(w, http.StatusOK, importAssetsResponse{
		Inserted: len(inserted),
		Skipped:  skipped,
		Total:    total,
	})
}

// emitAssetCreated fires one asset_created event per import batch so
// event-triggered DAGs (spec §4.6) pick up newly discovered assets.
// Emission failures are logged but never fail the import itself.
func (s *Service) emitAssetCreated(ctx context.Context, projectID string, domains, ips []string) {
	var domain string
	if len(domains) > 0 {
		domain = domains[0]
	}
	if err := s.app.EventRouter.Emit(ctx, projectID, "asset_created", map[string]any{
		"domain":  domain,
		"domains": domains,
		"ips":     ips,
	}); err != nil && s.log != nil {
		s.log.WithField("project_id", projectID).WithError(err).Warn("asset_created event emit failed")
	}
}

func (s *Service) listSubdomains(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Assets.ListSubdomains(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) listIPAddresses(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Assets.ListIPAddresses(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) listPorts(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Assets.ListPorts(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) listWebAssets(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Assets.ListWebAssets(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) listJSAssets(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Assets.ListJSAssets(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) listAPIEndpoints(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Assets.ListAPIEndpoints(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) listVulnerabilities(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Assets.ListVulnerabilities(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) listAPIRiskFindings(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Assets.ListAPIRiskFindings(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) listRiskScores(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Risk.ListScores(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
