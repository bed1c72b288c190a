package memory

import (
	"context"
	"sync"
	"time"

	"github.com/riftwatch/easm/domain/alert"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type AlertStore struct {
	mu       sync.Mutex
	channels map[string]*alert.Channel
	policies map[string]*alert.Policy
	records  map[string]*alert.Record
}

func NewAlertStore() *AlertStore {
	return &AlertStore{
		channels: make(map[string]*alert.Channel),
		policies: make(map[string]*alert.Policy),
		records:  make(map[string]*alert.Record),
	}
}

func (s *AlertStore) CreateChannel(_ context.Context, c *alert.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.channels[c.ID] = &cp
	return nil
}

func (s *AlertStore) GetChannel(_ context.Context, id string) (*alert.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[id]
	if !ok {
		return nil, apierr.NotFound("notification_channel", id)
	}
	cp := *c
	return &cp, nil
}

func (s *AlertStore) ListChannels(_ context.Context, projectID string) ([]*alert.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*alert.Channel
	for _, c := range s.channels {
		if c.ProjectID == projectID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *AlertStore) UpdateChannel(_ context.Context, c *alert.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[c.ID]; !ok {
		return apierr.NotFound("notification_channel", c.ID)
	}
	cp := *c
	s.channels[c.ID] = &cp
	return nil
}

func (s *AlertStore) CreatePolicy(_ context.Context, p *alert.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.policies[p.ID] = &cp
	return nil
}

func (s *AlertStore) ListEnabledPolicies(_ context.Context, projectID string) ([]*alert.Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*alert.Policy
	for _, p := range s.policies {
		if p.ProjectID == projectID && p.Enabled {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *AlertStore) UpdatePolicy(_ context.Context, p *alert.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID]; !ok {
		return apierr.NotFound("alert_policy", p.ID)
	}
	cp := *p
	s.policies[p.ID] = &cp
	return nil
}

func (s *AlertStore) FindActiveByAggregationKey(_ context.Context, key string, since time.Time) (*alert.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *alert.Record
	for _, r := range s.records {
		if r.AggregationKey != key || r.Resolved() {
			continue
		}
		if r.CreatedAt.Before(since) {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, apierr.NotFound("alert_record", key)
	}
	cp := *best
	return &cp, nil
}

func (s *AlertStore) CountSince(_ context.Context, policyID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.AlertPolicyID == policyID && !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *AlertStore) CreateRecord(_ context.Context, r *alert.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.records[r.ID] = &cp
	return nil
}

func (s *AlertStore) IncrementAggregatedCount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return apierr.NotFound("alert_record", id)
	}
	r.AggregatedCount++
	r.UpdatedAt = time.Now()
	return nil
}

func (s *AlertStore) UpdateRecord(_ context.Context, r *alert.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; !ok {
		return apierr.NotFound("alert_record", r.ID)
	}
	cp := *r
	s.records[r.ID] = &cp
	return nil
}

func (s *AlertStore) GetRecord(_ context.Context, id string) (*alert.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, apierr.NotFound("alert_record", id)
	}
	cp := *r
	return &cp, nil
}

func (s *AlertStore) ListRecords(_ context.Context, projectID string) ([]*alert.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*alert.Record
	for _, r := range s.records {
		if r.ProjectID == projectID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}
