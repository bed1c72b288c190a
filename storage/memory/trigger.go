package memory

import (
	"context"
	"sync"
	"time"

	"github.com/riftwatch/easm/domain/trigger"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type TriggerStore struct {
	mu       sync.Mutex
	triggers map[string]*trigger.Trigger
}

func NewTriggerStore() *TriggerStore {
	return &TriggerStore{triggers: make(map[string]*trigger.Trigger)}
}

func (s *TriggerStore) Create(_ context.Context, t *trigger.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.triggers[t.ID] = &cp
	return nil
}

func (s *TriggerStore) Get(_ context.Context, id string) (*trigger.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return nil, apierr.NotFound("event_trigger", id)
	}
	cp := *t
	return &cp, nil
}

func (s *TriggerStore) ListEnabledByEventType(_ context.Context, projectID, eventType string) ([]*trigger.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*trigger.Trigger
	for _, t := range s.triggers {
		if t.ProjectID == projectID && t.EventType == eventType && t.Enabled {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *TriggerStore) List(_ context.Context, projectID string) ([]*trigger.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*trigger.Trigger
	for _, t := range s.triggers {
		if t.ProjectID == projectID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *TriggerStore) Update(_ context.Context, t *trigger.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[t.ID]; !ok {
		return apierr.NotFound("event_trigger", t.ID)
	}
	cp := *t
	s.triggers[t.ID] = &cp
	return nil
}

func (s *TriggerStore) IncrementCounters(_ context.Context, id string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return apierr.NotFound("event_trigger", id)
	}
	t.TriggerCount.Total++
	if success {
		t.TriggerCount.Success++
	} else {
		t.TriggerCount.Failed++
	}
	t.UpdatedAt = time.Now()
	return nil
}
