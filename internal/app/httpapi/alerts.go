package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/riftwatch/easm/domain/alert"
	"github.com/riftwatch/easm/infrastructure/httputil"
	"github.com/riftwatch/easm/infrastructure/redaction"
)

// maskedChannel returns a copy of c with its Config masked per spec §6
// (first 4 chars + "****", recursive, on keys containing a secret marker).
func maskedChannel(c *alert.Channel) *alert.Channel {
	cp := *c
	cp.Config = redaction.MaskChannelConfig(c.Config)
	return &cp
}

type createChannelRequest struct {
	Name        string            `json:"name"`
	ChannelType alert.ChannelType `json:"channel_type"`
	Config      map[string]any    `json:"config"`
	Enabled     bool              `json:"enabled"`
}

func (s *Service) createChannel(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")

	var req createChannelRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	c := &alert.Channel{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Name:        req.Name,
		ChannelType: req.ChannelType,
		Config:      req.Config,
		Enabled:     req.Enabled,
	}
	if err := s.app.Stores.Alerts.CreateChannel(r.Context(), c); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.RespondCreated(w, maskedChannel(c))
}

func (s *Service) listChannels(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.Stores.Alerts.ListChannels(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	out := make([]*alert.Channel, len(list))
	for i, c := range list {
		out[i] = maskedChannel(c)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type updateChannelRequest struct {
	Name    *string        `json:"name,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
	Enabled *bool          `json:"enabled,omitempty"`
}

func (s *Service) updateChannel(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channel_id")
	ctx := r.Context()

	var req updateChannelRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	c, err := s.app.Stores.Alerts.GetChannel(ctx, channelID)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Config != nil {
		c.Config = req.Config
	}
	if req.Enabled != nil {
		c.Enabled = *req.Enabled
	}
	if err := s.app.Stores.Alerts.UpdateChannel(ctx, c); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, maskedChannel(c))
}

type createAlertPolicyRequest struct {
	Name                 string   `json:"name"`
	SeverityThreshold    string   `json:"severity_threshold"`
	AggregationWindowMin int      `json:"aggregation_window_min"`
	CooldownMin          int      `json:"cooldown_min"`
	MaxAlertsPerHour     int      `json:"max_alerts_per_hour"`
	ChannelIDs           []string `json:"channel_ids"`
	MessageTemplate      string   `json:"message_template,omitempty"`
	Enabled              bool     `json:"enabled"`
}

func (s *Service) createAlertPolicy(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")

	var req createAlertPolicyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	p := &alert.Policy{
		ID:                   uuid.NewString(),
		ProjectID:            projectID,
		Name:                 req.Name,
		SeverityThreshold:    req.SeverityThreshold,
		AggregationWindowMin: req.AggregationWindowMin,
		CooldownMin:          req.CooldownMin,
		MaxAlertsPerHour:     req.MaxAlertsPerHour,
		ChannelIDs:           req.ChannelIDs,
		MessageTemplate:      req.MessageTemplate,
		Enabled:              req.Enabled,
	}
	if err := s.app.Stores.Alerts.CreatePolicy(r.Context(), p); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.RespondCreated(w, p)
}

func (s *Service) listAlertPolicies(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Alerts.ListEnabledPolicies(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type updateAlertPolicyRequest struct {
	SeverityThreshold    *string  `json:"severity_threshold,omitempty"`
	AggregationWindowMin *int     `json:"aggregation_window_min,omitempty"`
	CooldownMin          *int     `json:"cooldown_min,omitempty"`
	MaxAlertsPerHour     *int     `json:"max_alerts_per_hour,omitempty"`
	ChannelIDs           []string `json:"channel_ids,omitempty"`
	MessageTemplate      *string  `json:"message_template,omitempty"`
	Enabled              *bool    `json:"enabled,omitempty"`
}

func (s *Service) updateAlertPolicy(w http.ResponseWriter, r *http.Request) {
	// AlertStore exposes no single-policy getter, so updates are applied to
	// the policy found within the project's enabled set; a policy the
	// caller just disabled must be re-enabled before it can be edited again.
	policyID := chi.URLParam(r, "policy_id")
	projectID := chi.URLParam(r, "project_id")
	ctx := r.Context()

	var req updateAlertPolicyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	policies, err := s.app.Stores.Alerts.ListEnabledPolicies(ctx, projectID)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	var p *alert.Policy
	for _, candidate := range policies {
		if candidate.ID == policyID {
			p = candidate
			break
		}
	}
	if p == nil {
		httputil.NotFound(w, "alert policy not found or disabled")
		return
	}

	if req.SeverityThreshold != nil {
		p.SeverityThreshold = *req.SeverityThreshold
	}
	if req.AggregationWindowMin != nil {
		p.AggregationWindowMin = *req.AggregationWindowMin
	}
	if req.CooldownMin != nil {
		p.CooldownMin = *req.CooldownMin
	}
	if req.MaxAlertsPerHour != nil {
		p.MaxAlertsPerHour = *req.MaxAlertsPerHour
	}
	if req.ChannelIDs != nil {
		p.ChannelIDs = req.ChannelIDs
	}
	if req.MessageTemplate != nil {
		p.MessageTemplate = *req.MessageTemplate
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}
	if err := s.app.Stores.Alerts.UpdatePolicy(ctx, p); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (s *Service) listAlertRecords(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Stores.Alerts.ListRecords(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Service) getAlertRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.app.Stores.Alerts.GetRecord(r.Context(), chi.URLParam(r, "record_id"))
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func (s *Service) ackAlertRecord(w http.ResponseWriter, r *http.Request) {
	s.setAlertRecordStatus(w, r, alert.RecordAcked)
}

func (s *Service) resolveAlertRecord(w http.ResponseWriter, r *http.Request) {
	s.setAlertRecordStatus(w, r, alert.RecordResolved)
}

func (s *Service) setAlertRecordStatus(w http.ResponseWriter, r *http.Request, status alert.RecordStatus) {
	recordID := chi.URLParam(r, "record_id")
	ctx := r.Context()

	record, err := s.app.Stores.Alerts.GetRecord(ctx, recordID)
	if err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	record.Status = status
	now := time.Now()
	switch status {
	case alert.RecordAcked:
		record.AckedAt = &now
	case alert.RecordResolved:
		record.ResolvedAt = &now
	}
	if err := s.app.Stores.Alerts.UpdateRecord(ctx, record); err != nil {
		httputil.HandleError(w, r, s.log, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}
