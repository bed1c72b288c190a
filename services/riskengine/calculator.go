// Package riskengine computes per-asset risk scores (spec §4.7): a weighted
// combination of built-in vulnerability/exposure factors plus optional
// project-defined custom factors, each evaluated in a sandboxed goja VM.
package riskengine

import (
	"context"
	"time"

	"github.com/riftwatch/easm/domain/asset"
	"github.com/riftwatch/easm/domain/risk"
	"github.com/riftwatch/easm/internal/platform/apierr"
	"github.com/riftwatch/easm/pkg/logger"
	"github.com/riftwatch/easm/storage"
)

type Calculator struct {
	risk   storage.RiskStore
	assets storage.AssetStore
	idgen  func() string
	log    *logger.Logger
}

func New(riskStore storage.RiskStore, assets storage.AssetStore, idgen func() string, log *logger.Logger) *Calculator {
	return &Calculator{risk: riskStore, assets: assets, idgen: idgen, log: log}
}

// Input is the fixed, numeric-only binding set every factor — built-in or
// custom — is evaluated against. It is computed once per asset and never
// carries request-controlled strings (spec §11.1).
type Input struct {
	CriticalVulns int
	HighVulns     int
	MediumVulns   int
	LowVulns      int
	OpenPorts     int
	HighRiskPorts int
}

// RecomputeWebAssetScore computes and upserts the AssetScore for a web asset
// identified by its normalized URL, summing vulnerabilities whose
// target_url matches.
func (c *Calculator) RecomputeWebAssetScore(ctx context.Context, projectID, normalizedURL string) (*risk.AssetScore, error) {
	vulns, err := c.assets.ListVulnerabilities(ctx, projectID)
	if err != nil {
		return nil, err
	}
	in := Input{}
	for _, v := range vulns {
		if v.TargetURL != normalizedURL {
			continue
		}
		switch v.Severity {
		case "critical":
			in.CriticalVulns++
		case "high":
			in.HighVulns++
		case "medium":
			in.MediumVulns++
		case "low":
			in.LowVulns++
		}
	}
	return c.recompute(ctx, projectID, "web_asset", normalizedURL, in)
}

// RecomputeIPScore computes and upserts the AssetScore for an ip_address
// asset, combining its open-port exposure with vulnerabilities observed
// against any web asset hosted on it is out of scope here — exposure only,
// per spec §4.7's factor split.
func (c *Calculator) RecomputeIPScore(ctx context.Context, projectID, ipID string) (*risk.AssetScore, error) {
	ports, err := c.assets.ListPorts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	in := Input{}
	for _, p := range ports {
		if p.IPID != ipID {
			continue
		}
		in.OpenPorts++
		if asset.HighRiskPorts[p.Port] {
			in.HighRiskPorts++
		}
	}
	return c.recompute(ctx, projectID, "ip_address", ipID, in)
}

func (c *Calculator) recompute(ctx context.Context, projectID, assetType, assetID string, in Input) (*risk.AssetScore, error) {
	factors, err := c.risk.ListFactors(ctx, projectID)
	if err != nil {
		return nil, err
	}

	scores := map[string]float64{}
	weights := map[string]float64{}
	builtins := map[string]float64{
		"vulnerability": risk.VulnerabilityScore(in.CriticalVulns, in.HighVulns, in.MediumVulns, in.LowVulns),
		"exposure":      risk.ExposureScore(in.OpenPorts, in.HighRiskPorts),
	}

	usedBuiltin := map[string]bool{}
	for _, f := range factors {
		if !f.Enabled {
			continue
		}
		switch f.Kind {
		case risk.FactorVulnerability:
			scores[f.Name] = builtins["vulnerability"]
			usedBuiltin["vulnerability"] = true
		case risk.FactorExposure:
			scores[f.Name] = builtins["exposure"]
			usedBuiltin["exposure"] = true
		case risk.FactorCustom:
			v, err := evaluateCustomFactor(f.CalculationRule, in)
			if err != nil {
				if c.log != nil {
					c.log.WithField("factor", f.Name).WithError(err).Warn("custom risk factor evaluation failed, scoring 0")
				}
				v = 0
			}
			scores[f.Name] = v
		default:
			continue
		}
		weights[f.Name] = f.Weight
	}

	// If no project factors are configured, fall back to the built-in
	// pair at equal weight so new projects still get a usable score.
	if len(factors) == 0 {
		scores["vulnerability"] = builtins["vulnerability"]
		weights["vulnerability"] = 1
		scores["exposure"] = builtins["exposure"]
		weights["exposure"] = 1
	}

	if c.idgen == nil {
		return nil, apierr.Internal(nil)
	}
	existing, err := c.risk.GetScore(ctx, projectID, assetType, assetID)
	id := c.idgen()
	if err == nil && existing != nil {
		id = existing.ID
	}

	score := risk.NewAssetScore(id, projectID, assetType, assetID, scores, weights)
	if err := c.risk.UpsertScore(ctx, score); err != nil {
		return nil, err
	}
	return score, nil
}

// Expired reports whether a previously computed score needs refreshing.
func Expired(s *risk.AssetScore) bool {
	return s == nil || time.Now().After(s.ExpiresAt)
}
