// Package alerting implements the Alerter and Notifier of spec §4.8:
// threshold/aggregation/cooldown evaluation against incoming vulnerability
// events, and channel dispatch with an SSRF guard.
package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/riftwatch/easm/domain/alert"
	"github.com/riftwatch/easm/domain/risk"
	"github.com/riftwatch/easm/internal/platform/apierr"
	"github.com/riftwatch/easm/pkg/logger"
	"github.com/riftwatch/easm/storage"
)

type Alerter struct {
	alerts   storage.AlertStore
	notifier *Notifier
	idgen    func() string
	log      *logger.Logger
	now      func() time.Time
}

func NewAlerter(alerts storage.AlertStore, notifier *Notifier, idgen func() string, log *logger.Logger) *Alerter {
	return &Alerter{alerts: alerts, notifier: notifier, idgen: idgen, log: log, now: time.Now}
}

// Event is the minimal shape the alerter needs out of a vuln_found (or
// similar) domain event; callers build it from whatever event_data their
// emitter produced.
type Event struct {
	TargetType string
	TargetID   string
	Severity   string
	AlertType  string
	Message    string
}

// Evaluate implements spec §4.8's pipeline for a single AlertPolicy: skip
// below threshold, merge into an active aggregation window if one exists,
// otherwise create a new AlertRecord and notify every configured channel —
// unless the policy's hourly cap has already been hit.
func (a *Alerter) Evaluate(ctx context.Context, policy *alert.Policy, ev Event) error {
	if !risk.AtLeast(risk.Severity(ev.Severity), risk.Severity(policy.SeverityThreshold)) {
		return nil
	}

	now := a.now()
	key := alert.AggregationKey(policy.ProjectID, ev.TargetType, ev.Severity, ev.AlertType)
	windowStart := now.Add(-time.Duration(policy.AggregationWindowMin) * time.Minute)

	active, err := findActive(ctx, a.alerts, key, windowStart)
	if err != nil {
		return err
	}
	if active != nil {
		return a.alerts.IncrementAggregatedCount(ctx, active.ID)
	}

	cooldownStart := now.Add(-time.Duration(policy.CooldownMin) * time.Minute)
	records, err := a.alerts.ListRecords(ctx, policy.ProjectID)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.AggregationKey == key && !r.CreatedAt.Before(cooldownStart) {
			return nil // still within cooldown from a previous (now possibly resolved) record
		}
	}

	if policy.MaxAlertsPerHour > 0 {
		count, err := a.alerts.CountSince(ctx, policy.ID, now.Add(-time.Hour))
		if err != nil {
			return err
		}
		if count >= policy.MaxAlertsPerHour {
			if a.log != nil {
				a.log.WithField("policy_id", policy.ID).Warn("alert policy hourly cap reached, dropping")
			}
			return nil
		}
	}

	record := &alert.Record{
		ID:                  a.idgen(),
		ProjectID:           policy.ProjectID,
		AlertPolicyID:       policy.ID,
		AggregationKey:      key,
		AlertType:           ev.AlertType,
		TargetType:          ev.TargetType,
		Severity:            ev.Severity,
		Status:              alert.RecordPending,
		AggregatedCount:     1,
		Message:             renderMessage(policy.MessageTemplate, ev),
		NotificationResults: map[string]alert.ChannelResult{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := a.alerts.CreateRecord(ctx, record); err != nil {
		return err
	}

	if a.notifier != nil {
		a.notifier.Dispatch(ctx, policy, record)
	}
	return nil
}

// findActive wraps FindActiveByAggregationKey's NotFound-as-no-match
// contract into a (nil, nil) result, so callers only handle genuine
// backend errors.
func findActive(ctx context.Context, store storage.AlertStore, key string, since time.Time) (*alert.Record, error) {
	record, err := store.FindActiveByAggregationKey(ctx, key, since)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// renderMessage uses the policy's message_template if set and it parses
// (i.e. is a plain string with our placeholder tokens), else falls back to
// a default summary (spec §4.8 "use per-policy template if it parses, else
// default").
func renderMessage(template string, ev Event) string {
	if template == "" {
		return fmt.Sprintf("%s alert on %s (%s)", ev.Severity, ev.TargetID, ev.AlertType)
	}
	r := strings.NewReplacer("{target_id}", ev.TargetID, "{severity}", ev.Severity, "{alert_type}", ev.AlertType)
	return r.Replace(template)
}
