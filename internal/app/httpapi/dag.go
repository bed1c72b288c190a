package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/riftwatch/easm/domain/dag"
	"github.com/riftwatch/easm/infrastructure/httputil"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type createDAGTemplateRequest struct {
	Name         string     `json:"name"`
	Nodes        []dag.Node `json:"nodes"`
	Enabled      bool       `json:"enabled"`
	ScheduleCron string     `json:"schedule_cron,omitempty"`
}

func (s *Service) createDAGTemplate(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")

	var req createDAGTemplateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.ScheduleCron != "" {
		if _, err := cron.ParseStandard(req.ScheduleCron); err != nil {
			httputil.HandleError(w, r, s.log, apierr.Validation("invalid schedule_cron: %v", err))
			return
		}
	}
	tmpl := &dag.Template{
		ID:           uuid.NewString(),
		ProjectID:    projectID,
		Name:         req.Name,
		Nodes:        req.Nodes,
		IsSystem:     false,
		Enabled:      req.Enabled,
		ScheduleCron: req.ScheduleCron,
	}
	if err := tmpl.Validate(); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if err := s.app.Stores.DAGs.CreateTemplate(r.Context(), tmpl); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.RespondCreated(w, tmpl)
}

func (s *Service) listDAGTemplates(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.DAGs.ListTemplates(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type updateDAGTemplateRequest struct {
	Name         *string    `json:"name,omitempty"`
	Nodes        []dag.Node `json:"nodes,omitempty"`
	Enabled      *bool      `json:"enabled,omitempty"`
	ScheduleCron *string    `json:"schedule_cron,omitempty"`
}

// updateDAGTemplate rejects edits to system templates per spec §6 ("system
// templates are read-only").
func (s *Service) updateDAGTemplate(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "template_id")
	ctx := r.Context()

	var req updateDAGTemplateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	tmpl, err := s.app.Stores.DAGs.GetTemplate(ctx, templateID)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if tmpl.IsSystem {
		httputil.HandleError(w, r, s.log, apierr.Forbidden("system dag templates are read-only"))
		return
	}
	if req.Name != nil {
		tmpl.Name = *req.Name
	}
	if req.Nodes != nil {
		tmpl.Nodes = req.Nodes
	}
	if req.Enabled != nil {
		tmpl.Enabled = *req.Enabled
	}
	if req.ScheduleCron != nil {
		if *req.ScheduleCron != "" {
			if _, err := cron.ParseStandard(*req.ScheduleCron); err != nil {
				httputil.HandleError(w, r, s.log, apierr.Validation("invalid schedule_cron: %v", err))
				return
			}
		}
		tmpl.ScheduleCron = *req.ScheduleCron
	}
	if err := tmpl.Validate(); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if err := s.app.Stores.DAGs.UpdateTemplate(ctx, tmpl); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tmpl)
}

type createDAGExecutionRequest struct {
	DAGTemplateID string         `json:"dag_template_id"`
	InputConfig   map[string]any `json:"input_config,omitempty"`
}

func (s *Service) createDAGExecution(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	ctx := r.Context()

	var req createDAGExecutionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	tmpl, err := s.app.Stores.DAGs.GetTemplate(ctx, req.DAGTemplateID)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	exec, err := s.app.DAGExecutor.Create(ctx, tmpl, projectID, dag.TriggerManual, nil, req.InputConfig)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.RespondCreated(w, exec)
}

func (s *Service) listDAGExecutions(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.DAGs.ListExecutions(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) startDAGExecution(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "execution_id")
	if err := s.app.DAGExecutor.Start(r.Context(), executionID); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	exec, err := s.app.Stores.DAGs.GetExecution(r.Context(), executionID)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, exec)
}

func (s *Service) cancelDAGExecution(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "execution_id")
	if err := s.app.DAGExecutor.Cancel(r.Context(), executionID); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	exec, err := s.app.Stores.DAGs.GetExecution(r.Context(), executionID)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exec)
}
