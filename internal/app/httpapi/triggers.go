package httpapi

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/riftwatch/easm/domain/trigger"
	"github.com/riftwatch/easm/infrastructure/httputil"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

type createTriggerRequest struct {
	EventType     string         `json:"event_type"`
	FilterConfig  map[string]any `json:"filter_config,omitempty"`
	DAGTemplateID string         `json:"dag_template_id"`
	DAGConfig     map[string]any `json:"dag_config,omitempty"`
	Enabled       bool           `json:"enabled"`
}

func (s *Service) createTrigger(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")

	var req createTriggerRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	t := &trigger.Trigger{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		EventType:     req.EventType,
		FilterConfig:  req.FilterConfig,
		DAGTemplateID: req.DAGTemplateID,
		DAGConfig:     req.DAGConfig,
		Enabled:       req.Enabled,
	}
	if err := s.app.Stores.Triggers.Create(r.Context(), t); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.RespondCreated(w, t)
}

func (s *Service) listTriggers(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Triggers.List(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type updateTriggerRequest struct {
	FilterConfig map[string]any `json:"filter_config,omitempty"`
	DAGConfig    map[string]any `json:"dag_config,omitempty"`
	Enabled      *bool          `json:"enabled,omitempty"`
}

func (s *Service) updateTrigger(w http.ResponseWriter, r *http.Request) {
	triggerID := chi.URLParam(r, "trigger_id")
	ctx := r.Context()

	var req updateTriggerRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	t, err := s.app.Stores.Triggers.Get(ctx, triggerID)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if req.FilterConfig != nil {
		t.FilterConfig = req.FilterConfig
	}
	if req.DAGConfig != nil {
		t.DAGConfig = req.DAGConfig
	}
	if req.Enabled != nil {
		t.Enabled = *req.Enabled
	}
	if err := s.app.Stores.Triggers.Update(ctx, t); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

type emitEventRequest struct {
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data,omitempty"`
}

func (s *Service) emitEvent(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")

	var req emitEventRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.app.EventRouter.Emit(r.Context(), projectID, req.EventType, req.EventData); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.RespondNoContent(w)
}

// emitRawEvent implements the unstructured-body ingestion path of spec
// §4.6: a webhook-originated caller posts an arbitrary JSON object (its
// shape dictated by the upstream scanner/tool, not by this API) rather than
// the {event_type,event_data} envelope emitEvent expects. event_type comes
// from the query string since the body is consumed whole as event_data.
func (s *Service) emitRawEvent(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	eventType := r.URL.Query().Get("event_type")
	if eventType == "" {
		httputil.HandleError(w, r, s.log, apierr.Validation("event_type query parameter is required"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httputil.HandleError(w, r, s.log, apierr.Validation("failed to read request body: %v", err))
		return
	}

	if err := s.app.EventRouter.EmitRawJSON(r.Context(), projectID, eventType, body); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.RespondNoContent(w)
}
