// Package memory implements storage.Stores entirely in-process, grounded on
// the teacher's hand-rolled in-memory fakes idiom: a mutex-guarded map per
// entity, used by unit tests and as a zero-dependency default store.
package memory

import (
	"context"
	"sync"

	"github.com/riftwatch/easm/domain/project"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type ProjectStore struct {
	mu   sync.RWMutex
	byID map[string]*project.Project
}

func NewProjectStore() *ProjectStore {
	return &ProjectStore{byID: make(map[string]*project.Project)}
}

func (s *ProjectStore) Create(_ context.Context, p *project.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.Name == p.Name {
			return apierr.Conflict("project name already exists")
		}
	}
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

func (s *ProjectStore) Get(_ context.Context, id string) (*project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, apierr.NotFound("project", id)
	}
	cp := *p
	return &cp, nil
}

func (s *ProjectStore) GetByName(_ context.Context, name string) (*project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.byID {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apierr.NotFound("project", name)
}

func (s *ProjectStore) List(_ context.Context) ([]*project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*project.Project, 0, len(s.byID))
	for _, p := range s.byID {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *ProjectStore) Update(_ context.Context, p *project.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[p.ID]; !ok {
		return apierr.NotFound("project", p.ID)
	}
	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

func (s *ProjectStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return apierr.NotFound("project", id)
	}
	delete(s.byID, id)
	return nil
}
