package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/riftwatch/easm/domain/project"
	"github.com/riftwatch/easm/infrastructure/httputil"
)

type createProjectRequest struct {
	Name            string                   `json:"name"`
	Description     string                   `json:"description"`
	RateLimitConfig *project.RateLimitConfig `json:"rate_limit_config,omitempty"`
}

func (s *Service) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	rl := project.DefaultRateLimitConfig()
	if req.RateLimitConfig != nil {
		rl = *req.RateLimitConfig
	}
	p := &project.Project{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Description:     req.Description,
		RateLimitConfig: rl,
	}
	if err := p.Validate(); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}

	if err := s.app.Stores.Projects.Create(r.Context(), p); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.RespondCreated(w, p)
}

func (s *Service) listProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.Stores.Projects.List(r.Context())
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

type updateProjectRequest struct {
	Description     *string                  `json:"description,omitempty"`
	RateLimitConfig *project.RateLimitConfig `json:"rate_limit_config,omitempty"`
}

func (s *Service) updateProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "project_id")

	var req updateProjectRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	p, err := s.app.Stores.Projects.Get(r.Context(), id)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.RateLimitConfig != nil {
		p.RateLimitConfig = *req.RateLimitConfig
	}
	if err := p.Validate(); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if err := s.app.Stores.Projects.Update(r.Context(), p); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (s *Service) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "project_id")
	if err := s.app.Stores.Assets.DeleteProjectCascade(r.Context(), id); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if err := s.app.Stores.Projects.Delete(r.Context(), id); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.RespondNoContent(w)
}
