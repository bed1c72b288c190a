package memory

import (
	"context"
	"sync"

	"github.com/riftwatch/easm/domain/risk"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type RiskStore struct {
	mu      sync.Mutex
	factors map[string]*risk.Factor
	scores  map[string]*risk.AssetScore // key: projectID|assetType|assetID
}

func NewRiskStore() *RiskStore {
	return &RiskStore{
		factors: make(map[string]*risk.Factor),
		scores:  make(map[string]*risk.AssetScore),
	}
}

// SeedFactor is a test/bootstrap helper; production factor CRUD would route
// through the httpapi layer same as everything else.
func (s *RiskStore) SeedFactor(f *risk.Factor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.factors[f.ID] = &cp
}

func (s *RiskStore) ListFactors(_ context.Context, projectID string) ([]*risk.Factor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*risk.Factor
	for _, f := range s.factors {
		if f.ProjectID == projectID || f.ProjectID == "" {
			cp := *f
			out = append(out, &cp)
		}
	}
	return out, nil
}

func scoreKey(projectID, assetType, assetID string) string {
	return projectID + "|" + assetType + "|" + assetID
}

func (s *RiskStore) UpsertScore(_ context.Context, sc *risk.AssetScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sc
	s.scores[scoreKey(sc.ProjectID, sc.AssetType, sc.AssetID)] = &cp
	return nil
}

func (s *RiskStore) GetScore(_ context.Context, projectID, assetType, assetID string) (*risk.AssetScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scores[scoreKey(projectID, assetType, assetID)]
	if !ok {
		return nil, apierr.NotFound("asset_risk_score", assetID)
	}
	cp := *sc
	return &cp, nil
}

func (s *RiskStore) ListScores(_ context.Context, projectID string) ([]*risk.AssetScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*risk.AssetScore
	for _, sc := range s.scores {
		if sc.ProjectID == projectID {
			cp := *sc
			out = append(out, &cp)
		}
	}
	return out, nil
}
