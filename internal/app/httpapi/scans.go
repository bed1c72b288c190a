package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/riftwatch/easm/domain/scan"
	"github.com/riftwatch/easm/infrastructure/httputil"
	"github.com/riftwatch/easm/internal/platform/apierr"
	"github.com/riftwatch/easm/services/taskqueue"
)

type createScanTaskRequest struct {
	TaskType     scan.TaskType  `json:"task_type"`
	ScanPolicyID string         `json:"scan_policy_id,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

// createScanTask implements spec §4.4's policy-resolved scan creation: when
// scan_policy_id is set, the task's effective config is the policy's
// scan_config overlaid by the caller's config.
func (s *Service) createScanTask(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")

	var req createScanTaskRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.TaskType == "" {
		httputil.HandleError(w, r, s.log, apierr.Validation("task_type is required"))
		return
	}

	ctx := r.Context()
	config := req.Config
	priority := req.Priority

	if req.ScanPolicyID != "" {
		policy, err := s.app.Stores.Scans.GetPolicy(ctx, req.ScanPolicyID)
		if err != nil {
			httputil.HandleError(w, r, s.log, err)
			return
		}
		config = scan.MergeConfig(policy.ScanConfig, req.Config)
	}

	task := scan.NewTask(uuid.NewString(), projectID, req.TaskType, priority, config)
	task.ScanPolicyID = req.ScanPolicyID
	if err := s.app.Stores.Scans.CreateTask(ctx, task); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.RespondCreated(w, task)
}

func (s *Service) listScanTasks(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Scans.ListTasks(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// startScanTask performs the pending->running transition synchronously
// (spec §4.3/§8 scenario 4): CompareAndSwapStatus is the serialization
// point, so of two concurrent callers racing `start` on the same task
// exactly one observes ok=true and dispatches, the other gets 409. The
// worker pool only runs the tool and drives the terminal transition.
func (s *Service) startScanTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	ctx := r.Context()

	task, err := s.app.Stores.Scans.GetTask(ctx, taskID)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if !scan.CanTransition(task.Status, scan.StatusRunning) {
		httputil.HandleError(w, r, s.log, scan.ErrIllegalTransition)
		return
	}

	ok, err := s.app.Stores.Scans.CompareAndSwapStatus(ctx, taskID, scan.StatusPending, scan.StatusRunning, func(t *scan.Task) {
		now := time.Now()
		t.StartedAt = &now
	})
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if !ok {
		httputil.HandleError(w, r, s.log, apierr.Conflict("scan task already started"))
		return
	}

	updated, err := s.app.Stores.Scans.GetTask(ctx, taskID)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}

	s.app.Queue.Push(taskqueue.ClassScan, &taskqueue.Job{
		ID:       updated.ID,
		Priority: taskqueue.NormalizePriority(updated.Priority),
		Payload:  updated,
	})
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (s *Service) pauseScanTask(w http.ResponseWriter, r *http.Request) {
	s.transitionScanTask(w, r, scan.StatusPaused)
}

func (s *Service) resumeScanTask(w http.ResponseWriter, r *http.Request) {
	s.transitionScanTask(w, r, scan.StatusPending)
}

func (s *Service) cancelScanTask(w http.ResponseWriter, r *http.Request) {
	s.transitionScanTask(w, r, scan.StatusCancelled)
}

func (s *Service) transitionScanTask(w http.ResponseWriter, r *http.Request, to scan.Status) {
	taskID := chi.URLParam(r, "task_id")
	ctx := r.Context()

	task, err := s.app.Stores.Scans.GetTask(ctx, taskID)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if !scan.CanTransition(task.Status, to) {
		httputil.HandleError(w, r, s.log, scan.ErrIllegalTransition)
		return
	}

	ok, err := s.app.Stores.Scans.CompareAndSwapStatus(ctx, taskID, task.Status, to, func(t *scan.Task) {})
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if !ok {
		httputil.HandleError(w, r, s.log, scan.ErrIllegalTransition)
		return
	}

	updated, err := s.app.Stores.Scans.GetTask(ctx, taskID)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

type createPolicyRequest struct {
	Name          string         `json:"name"`
	ScanConfig    map[string]any `json:"scan_config"`
	DAGTemplateID string         `json:"dag_template_id,omitempty"`
	IsDefault     bool           `json:"is_default"`
	Enabled       bool           `json:"enabled"`
}

func (s *Service) createPolicy(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")

	var req createPolicyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	policy := &scan.Policy{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Name:          req.Name,
		ScanConfig:    req.ScanConfig,
		DAGTemplateID: req.DAGTemplateID,
		IsDefault:     req.IsDefault,
		Enabled:       req.Enabled,
	}
	if err := s.app.Stores.Scans.CreatePolicy(r.Context(), policy); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if policy.IsDefault {
		if err := s.app.Stores.Scans.SetDefaultPolicy(r.Context(), projectID, policy.ID); err != nil {
			httputil.HandleError(w, r, s.log, err)
			return
		}
	}
	httputil.RespondCreated(w, policy)
}

func (s *Service) listPolicies(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Scans.ListPolicies(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) getDefaultPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.app.Stores.Scans.GetDefaultPolicy(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, policy)
}

type updatePolicyRequest struct {
	Name          *string        `json:"name,omitempty"`
	ScanConfig    map[string]any `json:"scan_config,omitempty"`
	DAGTemplateID *string        `json:"dag_template_id,omitempty"`
	Enabled       *bool          `json:"enabled,omitempty"`
}

func (s *Service) updatePolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "policy_id")
	ctx := r.Context()

	var req updatePolicyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	policy, err := s.app.Stores.Scans.GetPolicy(ctx, policyID)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if req.Name != nil {
		policy.Name = *req.Name
	}
	if req.ScanConfig != nil {
		policy.ScanConfig = req.ScanConfig
	}
	if req.DAGTemplateID != nil {
		policy.DAGTemplateID = *req.DAGTemplateID
	}
	if req.Enabled != nil {
		policy.Enabled = *req.Enabled
	}
	if err := s.app.Stores.Scans.UpdatePolicy(ctx, policy); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, policy)
}

func (s *Service) setDefaultPolicy(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	policyID := chi.URLParam(r, "policy_id")
	if err := s.app.Stores.Scans.SetDefaultPolicy(r.Context(), projectID, policyID); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.RespondNoContent(w)
}
