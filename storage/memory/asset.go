package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/riftwatch/easm/domain/asset"
)

// AssetStore implements storage.AssetStore with one map per entity type,
// keyed by natural key, under a single mutex (upserts across entity types
// never need cross-table atomicity in this engine).
type AssetStore struct {
	mu sync.Mutex

	subdomains   map[string]*asset.Subdomain
	ips          map[string]*asset.IPAddress
	ports        map[string]*asset.Port
	webAssets    map[string]*asset.WebAsset
	jsAssets     map[string]*asset.JSAsset
	apiEndpoints map[string]*asset.APIEndpoint
	vulns        map[string]*asset.Vulnerability
	riskFindings map[string]*asset.APIRiskFinding
	entities     map[string]*asset.AssetEntity

	idgen func() string
}

// NewAssetStore constructs an empty store. idgen generates new row ids on
// insert (injected so tests can make ids deterministic).
func NewAssetStore(idgen func() string) *AssetStore {
	return &AssetStore{
		subdomains:   make(map[string]*asset.Subdomain),
		ips:          make(map[string]*asset.IPAddress),
		ports:        make(map[string]*asset.Port),
		webAssets:    make(map[string]*asset.WebAsset),
		jsAssets:     make(map[string]*asset.JSAsset),
		apiEndpoints: make(map[string]*asset.APIEndpoint),
		vulns:        make(map[string]*asset.Vulnerability),
		riskFindings: make(map[string]*asset.APIRiskFinding),
		entities:     make(map[string]*asset.AssetEntity),
		idgen:        idgen,
	}
}

// BulkImportAssets implements spec §4.1: in is deduped by (asset_type,
// value), both against duplicates within the batch and against rows already
// present, via on-conflict-do-nothing against the natural-key index.
func (s *AssetStore) BulkImportAssets(_ context.Context, in []asset.AssetEntity) ([]*asset.AssetEntity, int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(in)
	now := time.Now()
	seenInBatch := make(map[string]bool, total)
	var inserted []*asset.AssetEntity
	for _, e := range in {
		key := e.NaturalKey()
		if seenInBatch[key] {
			continue
		}
		seenInBatch[key] = true
		if _, exists := s.entities[key]; exists {
			continue
		}
		e.ID = s.idgen()
		e.FingerprintHash = asset.FingerprintHash(e.ProjectID, "asset_entity", e.AssetType+":"+e.Value)
		e.FirstSeen, e.LastSeen = now, now
		cp := e
		s.entities[key] = &cp
		out := cp
		inserted = append(inserted, &out)
	}
	skipped := total - len(inserted)
	return inserted, skipped, total, nil
}

func (s *AssetStore) UpsertSubdomain(_ context.Context, in asset.Subdomain) (*asset.Subdomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	key := in.NaturalKey()
	if existing, ok := s.subdomains[key]; ok {
		if len(in.IPAddresses) > 0 {
			existing.IPAddresses = unionStrings(existing.IPAddresses, in.IPAddresses)
		}
		if in.Source != "" {
			existing.Source = in.Source
		}
		existing.LastSeen = now
		cp := *existing
		return &cp, nil
	}
	in.ID = s.idgen()
	in.FingerprintHash = asset.FingerprintHash(in.ProjectID, "subdomain", in.Subdomain)
	in.FirstSeen, in.LastSeen = now, now
	cp := in
	s.subdomains[key] = &cp
	out := cp
	return &out, nil
}

func (s *AssetStore) UpsertIPAddress(_ context.Context, in asset.IPAddress) (*asset.IPAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	key := in.NaturalKey()
	if existing, ok := s.ips[key]; ok {
		if in.Source != "" {
			existing.Source = in.Source
		}
		existing.LastSeen = now
		cp := *existing
		return &cp, nil
	}
	in.ID = s.idgen()
	in.FingerprintHash = asset.FingerprintHash(in.ProjectID, "ip", in.IP)
	in.FirstSeen, in.LastSeen = now, now
	cp := in
	s.ips[key] = &cp
	out := cp
	return &out, nil
}

func (s *AssetStore) UpsertPort(_ context.Context, in asset.Port) (*asset.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	key := in.NaturalKey()
	if existing, ok := s.ports[key]; ok {
		if in.Banner != "" {
			existing.Banner = in.Banner
		}
		if in.Source != "" {
			existing.Source = in.Source
		}
		existing.LastSeen = now
		cp := *existing
		return &cp, nil
	}
	in.ID = s.idgen()
	in.FingerprintHash = asset.FingerprintHash(in.ProjectID, "port", key)
	in.FirstSeen, in.LastSeen = now, now
	cp := in
	s.ports[key] = &cp
	out := cp
	return &out, nil
}

func (s *AssetStore) UpsertWebAsset(_ context.Context, in asset.WebAsset) (*asset.WebAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	key := in.NaturalKey()
	if existing, ok := s.webAssets[key]; ok {
		if in.Title != "" {
			existing.Title = in.Title
		}
		if in.StatusCode != 0 {
			existing.StatusCode = in.StatusCode
		}
		if len(in.Technologies) > 0 {
			existing.Technologies = unionStrings(existing.Technologies, in.Technologies)
		}
		if in.Source != "" {
			existing.Source = in.Source
		}
		existing.LastSeen = now
		cp := *existing
		return &cp, nil
	}
	in.ID = s.idgen()
	in.FingerprintHash = asset.FingerprintHash(in.ProjectID, "web_asset", in.NormalizedURL)
	in.FirstSeen, in.LastSeen = now, now
	cp := in
	s.webAssets[key] = &cp
	out := cp
	return &out, nil
}

func (s *AssetStore) UpsertJSAsset(_ context.Context, in asset.JSAsset) (*asset.JSAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	key := in.NaturalKey()
	if existing, ok := s.jsAssets[key]; ok {
		if in.Source != "" {
			existing.Source = in.Source
		}
		existing.LastSeen = now
		cp := *existing
		return &cp, nil
	}
	in.ID = s.idgen()
	in.FingerprintHash = asset.FingerprintHash(in.ProjectID, "js_asset", in.ScriptURL+":"+in.ContentHash)
	in.FirstSeen, in.LastSeen = now, now
	cp := in
	s.jsAssets[key] = &cp
	out := cp
	return &out, nil
}

func (s *AssetStore) UpsertAPIEndpoint(_ context.Context, in asset.APIEndpoint) (*asset.APIEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	key := in.NaturalKey()
	if existing, ok := s.apiEndpoints[key]; ok {
		if in.Source != "" {
			existing.Source = in.Source
		}
		existing.LastSeen = now
		cp := *existing
		return &cp, nil
	}
	in.ID = s.idgen()
	in.FingerprintHash = asset.FingerprintHash(in.ProjectID, "api_endpoint", in.Endpoint+":"+in.Method)
	in.FirstSeen, in.LastSeen = now, now
	cp := in
	s.apiEndpoints[key] = &cp
	out := cp
	return &out, nil
}

func (s *AssetStore) UpsertVulnerability(_ context.Context, in asset.Vulnerability) (*asset.Vulnerability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	key := in.NaturalKey()
	if existing, ok := s.vulns[key]; ok {
		if in.Severity != "" {
			existing.Severity = in.Severity
		}
		if in.Description != "" {
			existing.Description = in.Description
		}
		if in.Source != "" {
			existing.Source = in.Source
		}
		existing.LastSeen = now
		cp := *existing
		return &cp, nil
	}
	in.ID = s.idgen()
	in.FingerprintHash = asset.FingerprintHash(in.ProjectID, "vulnerability", in.TargetURL+":"+in.TemplateID)
	in.FirstSeen, in.LastSeen = now, now
	cp := in
	s.vulns[key] = &cp
	out := cp
	return &out, nil
}

func (s *AssetStore) UpsertAPIRiskFinding(_ context.Context, in asset.APIRiskFinding) (*asset.APIRiskFinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	key := in.NaturalKey()
	if existing, ok := s.riskFindings[key]; ok {
		if in.Severity != "" {
			existing.Severity = in.Severity
		}
		if len(in.StatusHistory) > 0 {
			existing.StatusHistory = append(existing.StatusHistory, in.StatusHistory...)
		}
		if in.Source != "" {
			existing.Source = in.Source
		}
		existing.LastSeen = now
		cp := *existing
		return &cp, nil
	}
	in.ID = s.idgen()
	in.FingerprintHash = asset.FingerprintHash(in.ProjectID, "api_risk_finding", in.EndpointID+":"+in.RuleName)
	in.FirstSeen, in.LastSeen = now, now
	cp := in
	s.riskFindings[key] = &cp
	out := cp
	return &out, nil
}

func (s *AssetStore) ListSubdomains(_ context.Context, projectID string) ([]*asset.Subdomain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*asset.Subdomain
	for _, v := range s.subdomains {
		if v.ProjectID == projectID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subdomain < out[j].Subdomain })
	return out, nil
}

func (s *AssetStore) ListIPAddresses(_ context.Context, projectID string) ([]*asset.IPAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*asset.IPAddress
	for _, v := range s.ips {
		if v.ProjectID == projectID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

func (s *AssetStore) ListPorts(_ context.Context, projectID string) ([]*asset.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*asset.Port
	for _, v := range s.ports {
		if v.ProjectID == projectID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *AssetStore) ListWebAssets(_ context.Context, projectID string) ([]*asset.WebAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*asset.WebAsset
	for _, v := range s.webAssets {
		if v.ProjectID == projectID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *AssetStore) ListJSAssets(_ context.Context, projectID string) ([]*asset.JSAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*asset.JSAsset
	for _, v := range s.jsAssets {
		if v.ProjectID == projectID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *AssetStore) ListAPIEndpoints(_ context.Context, projectID string) ([]*asset.APIEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*asset.APIEndpoint
	for _, v := range s.apiEndpoints {
		if v.ProjectID == projectID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *AssetStore) ListVulnerabilities(_ context.Context, projectID string) ([]*asset.Vulnerability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*asset.Vulnerability
	for _, v := range s.vulns {
		if v.ProjectID == projectID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *AssetStore) ListAPIRiskFindings(_ context.Context, projectID string) ([]*asset.APIRiskFinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*asset.APIRiskFinding
	for _, v := range s.riskFindings {
		if v.ProjectID == projectID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MergeDuplicateSubdomains implements spec §4.1's duplicate-merging edge
// case: rows sharing a fingerprint_hash are collapsed into the one with the
// greatest last_seen, unioning ip_addresses, losers deleted in one pass.
func (s *AssetStore) MergeDuplicateSubdomains(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byHash := make(map[string][]string) // fingerprint -> natural keys
	for key, v := range s.subdomains {
		if v.ProjectID != projectID {
			continue
		}
		byHash[v.FingerprintHash] = append(byHash[v.FingerprintHash], key)
	}

	for _, keys := range byHash {
		if len(keys) < 2 {
			continue
		}
		var winner *asset.Subdomain
		for _, k := range keys {
			row := s.subdomains[k]
			if winner == nil || row.LastSeen.After(winner.LastSeen) {
				winner = row
			}
		}
		merged := append([]string{}, winner.IPAddresses...)
		for _, k := range keys {
			row := s.subdomains[k]
			if row == winner {
				continue
			}
			merged = unionStrings(merged, row.IPAddresses)
			delete(s.subdomains, k)
		}
		winner.IPAddresses = merged
	}
	return nil
}

func (s *AssetStore) DeleteProjectCascade(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.riskFindings {
		if v.ProjectID == projectID {
			delete(s.riskFindings, k)
		}
	}
	for k, v := range s.apiEndpoints {
		if v.ProjectID == projectID {
			delete(s.apiEndpoints, k)
		}
	}
	for k, v := range s.jsAssets {
		if v.ProjectID == projectID {
			delete(s.jsAssets, k)
		}
	}
	for k, v := range s.webAssets {
		if v.ProjectID == projectID {
			delete(s.webAssets, k)
		}
	}
	for k, v := range s.ports {
		if v.ProjectID == projectID {
			delete(s.ports, k)
		}
	}
	for k, v := range s.ips {
		if v.ProjectID == projectID {
			delete(s.ips, k)
		}
	}
	for k, v := range s.subdomains {
		if v.ProjectID == projectID {
			delete(s.subdomains, k)
		}
	}
	for k, v := range s.vulns {
		if v.ProjectID == projectID {
			delete(s.vulns, k)
		}
	}
	for k, v := range s.entities {
		if v.ProjectID == projectID {
			delete(s.entities, k)
		}
	}
	return nil
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
