// Package risk implements the weighted per-asset risk score (spec §4.7).
package risk

import "time"

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// rank orders severities from most to least severe for threshold
// comparisons (spec §4.8 "severity < severity_threshold").
var rank = map[Severity]int{
	SeverityCritical: 5,
	SeverityHigh:     4,
	SeverityMedium:   3,
	SeverityLow:      2,
	SeverityInfo:     1,
}

// AtLeast reports whether s is at least as severe as threshold.
func AtLeast(s, threshold Severity) bool {
	return rank[s] >= rank[threshold]
}

// SeverityForScore buckets a [0,100] total score into its band (spec §4.7).
func SeverityForScore(score float64) Severity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	case score >= 40:
		return SeverityMedium
	case score >= 20:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

type FactorKind string

const (
	FactorVulnerability FactorKind = "vulnerability"
	FactorExposure      FactorKind = "exposure"
	FactorCustom        FactorKind = "custom"
)

type Factor struct {
	ID              string         `json:"id"`
	ProjectID       string         `json:"project_id,omitempty"`
	Name            string         `json:"name"`
	Kind            FactorKind     `json:"kind"`
	Weight          float64        `json:"weight"`
	CalculationRule map[string]any `json:"calculation_rule,omitempty"`
	Enabled         bool           `json:"enabled"`
	CreatedAt       time.Time      `json:"created_at"`
}

// VulnerabilityScore implements spec §4.7: 40*critical + 20*high + 10*medium
// + 5*low, capped at 100.
func VulnerabilityScore(critical, high, medium, low int) float64 {
	score := float64(40*critical + 20*high + 10*medium + 5*low)
	if score > 100 {
		score = 100
	}
	return score
}

// ExposureScore implements spec §4.7: min(openPorts*2, 40) + 10*highRiskPorts.
func ExposureScore(openPorts, highRiskPorts int) float64 {
	portScore := float64(openPorts * 2)
	if portScore > 40 {
		portScore = 40
	}
	return portScore + float64(10*highRiskPorts)
}

// WeightedTotal computes Σ(score*weight)/Σ(weight), clipped to [0,100]. An
// empty factor set scores 0.
func WeightedTotal(scores map[string]float64, weights map[string]float64) float64 {
	var num, den float64
	for name, score := range scores {
		w := weights[name]
		num += score * w
		den += w
	}
	if den == 0 {
		return 0
	}
	total := num / den
	if total < 0 {
		return 0
	}
	if total > 100 {
		return 100
	}
	return total
}

type AssetScore struct {
	ID            string             `json:"id"`
	ProjectID     string             `json:"project_id"`
	AssetType     string             `json:"asset_type"`
	AssetID       string             `json:"asset_id"`
	TotalScore    float64            `json:"total_score"`
	SeverityLevel Severity           `json:"severity_level"`
	FactorScores  map[string]float64 `json:"factor_scores"`
	RiskSummary   string             `json:"risk_summary"`
	ComputedAt    time.Time          `json:"computed_at"`
	ExpiresAt     time.Time          `json:"expires_at"`
}

// NewAssetScore builds the record to upsert, expiring 24h from now per
// spec §4.7.
func NewAssetScore(id, projectID, assetType, assetID string, factorScores, weights map[string]float64) *AssetScore {
	total := WeightedTotal(factorScores, weights)
	now := time.Now()
	return &AssetScore{
		ID:            id,
		ProjectID:     projectID,
		AssetType:     assetType,
		AssetID:       assetID,
		TotalScore:    total,
		SeverityLevel: SeverityForScore(total),
		FactorScores:  factorScores,
		ComputedAt:    now,
		ExpiresAt:     now.Add(24 * time.Hour),
	}
}
