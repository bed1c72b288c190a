package riskengine

import (
	"context"
	"testing"

	"github.com/riftwatch/easm/domain/asset"
	"github.com/riftwatch/easm/domain/risk"
	"github.com/riftwatch/easm/storage/memory"
	"github.com/stretchr/testify/require"
)

func TestRecomputeWebAssetScoreUsesBuiltinFactorsWhenNoneConfigured(t *testing.T) {
	ctx := context.Background()
	riskStore := memory.NewRiskStore()
	idgen := func() string { return "score-1" }
	assets := memory.NewAssetStore(func() string { return "a" })

	_, err := assets.UpsertVulnerability(ctx, asset.Vulnerability{
		Observation: asset.Observation{ProjectID: "proj-1"},
		TargetURL:   "https://example.com/",
		TemplateID:  "cve-1",
		Severity:    "critical",
	})
	require.NoError(t, err)

	calc := New(riskStore, assets, idgen, nil)
	score, err := calc.RecomputeWebAssetScore(ctx, "proj-1", "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, risk.SeverityCritical, score.SeverityLevel)
	require.InDelta(t, 40.0, score.TotalScore, 0.01)
}

func TestRecomputeUsesCustomFactorExpression(t *testing.T) {
	ctx := context.Background()
	riskStore := memory.NewRiskStore()
	assets := memory.NewAssetStore(func() string { return "a" })
	idgen := func() string { return "score-2" }

	riskStore.SeedFactor(&risk.Factor{
		ID:        "f1",
		ProjectID: "proj-1",
		Name:      "custom",
		Kind:      risk.FactorCustom,
		Weight:    1,
		Enabled:   true,
		CalculationRule: map[string]any{
			"expression": "open_ports * 5 + high_risk_ports * 10",
		},
	})

	_, err := assets.UpsertPort(ctx, asset.Port{
		Observation: asset.Observation{ProjectID: "proj-1"},
		IPID:        "ip-1",
		Port:        6379,
		Protocol:    "tcp",
	})
	require.NoError(t, err)

	calc := New(riskStore, assets, idgen, nil)
	score, err := calc.RecomputeIPScore(ctx, "proj-1", "ip-1")
	require.NoError(t, err)
	require.InDelta(t, 15.0, score.FactorScores["custom"], 0.01)
}

func TestEvaluateCustomFactorRejectsMissingExpression(t *testing.T) {
	_, err := evaluateCustomFactor(map[string]any{}, Input{})
	require.Error(t, err)
}
