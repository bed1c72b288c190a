package memory

import (
	"context"
	"sync"
	"time"

	"github.com/riftwatch/easm/domain/scan"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type ScanStore struct {
	mu       sync.Mutex
	tasks    map[string]*scan.Task
	policies map[string]*scan.Policy
}

func NewScanStore() *ScanStore {
	return &ScanStore{
		tasks:    make(map[string]*scan.Task),
		policies: make(map[string]*scan.Policy),
	}
}

func (s *ScanStore) CreateTask(_ context.Context, t *scan.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *ScanStore) GetTask(_ context.Context, id string) (*scan.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, apierr.NotFound("scan_task", id)
	}
	cp := *t
	return &cp, nil
}

func (s *ScanStore) ListTasks(_ context.Context, projectID string) ([]*scan.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*scan.Task
	for _, t := range s.tasks {
		if t.ProjectID == projectID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CompareAndSwapStatus is the serialization point of spec §4.3: the status
// field is read and written under the same critical section, so concurrent
// callers racing `start` on the same task see exactly one winner.
func (s *ScanStore) CompareAndSwapStatus(_ context.Context, id string, from, to scan.Status, mutate func(*scan.Task)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, apierr.NotFound("scan_task", id)
	}
	if t.Status != from {
		return false, nil
	}
	if !scan.CanTransition(from, to) {
		return false, scan.ErrIllegalTransition
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(t)
	}
	return true, nil
}

func (s *ScanStore) UpdateTask(_ context.Context, t *scan.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return apierr.NotFound("scan_task", t.ID)
	}
	cp := *t
	cp.UpdatedAt = time.Now()
	s.tasks[t.ID] = &cp
	return nil
}

func (s *ScanStore) CreatePolicy(_ context.Context, p *scan.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.IsDefault {
		for _, other := range s.policies {
			if other.ProjectID == p.ProjectID {
				other.IsDefault = false
			}
		}
	}
	cp := *p
	s.policies[p.ID] = &cp
	return nil
}

func (s *ScanStore) GetPolicy(_ context.Context, id string) (*scan.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, apierr.NotFound("scan_policy", id)
	}
	cp := *p
	return &cp, nil
}

func (s *ScanStore) GetDefaultPolicy(_ context.Context, projectID string) (*scan.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.policies {
		if p.ProjectID == projectID && p.IsDefault {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apierr.NotFound("scan_policy", "default")
}

func (s *ScanStore) ListPolicies(_ context.Context, projectID string) ([]*scan.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*scan.Policy
	for _, p := range s.policies {
		if p.ProjectID == projectID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SetDefaultPolicy implements spec §4.4's side effect: clearing is_default
// on every sibling in the same project before setting it on policyID, all
// under one lock so no reader observes two defaults.
func (s *ScanStore) SetDefaultPolicy(_ context.Context, projectID, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.policies[policyID]
	if !ok || target.ProjectID != projectID {
		return apierr.NotFound("scan_policy", policyID)
	}
	for _, p := range s.policies {
		if p.ProjectID == projectID {
			p.IsDefault = (p.ID == policyID)
		}
	}
	return nil
}

func (s *ScanStore) UpdatePolicy(_ context.Context, p *scan.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return apierr.NotFound("scan_policy", p.ID)
	}
	cp := *p
	s.policies[p.ID] = &cp
	return nil
}
