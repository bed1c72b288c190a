// Package eventrouter maps domain events to matching EventTriggers and
// starts new DAG executions (spec §4.6).
package eventrouter

import (
	"context"

	"github.com/riftwatch/easm/domain/dag"
	"github.com/riftwatch/easm/domain/trigger"
	"github.com/riftwatch/easm/internal/platform/apierr"
	"github.com/riftwatch/easm/pkg/logger"
	"github.com/riftwatch/easm/storage"
	"github.com/tidwall/gjson"
)

type DAGStarter interface {
	Create(ctx context.Context, tmpl *dagTemplateView, projectID string, triggerType dag.TriggerType, triggerEvent, inputConfig map[string]any) (*dag.Execution, error)
	Start(ctx context.Context, executionID string) error
}

// dagTemplateView avoids an import cycle with services/dagengine by
// accepting the concrete *dag.Template directly; the alias keeps the
// DAGStarter interface readable.
type dagTemplateView = dag.Template

type Router struct {
	triggers storage.TriggerStore
	dags     storage.DAGStore
	executor DAGStarter
	log      *logger.Logger
}

func New(triggers storage.TriggerStore, dags storage.DAGStore, executor DAGStarter, log *logger.Logger) *Router {
	return &Router{triggers: triggers, dags: dags, executor: executor, log: log}
}

// Emit implements spec §4.6: load enabled triggers matching event_type,
// filter by filter_config, and start a new DAGExecution per match.
func (r *Router) Emit(ctx context.Context, projectID, eventType string, eventData map[string]any) error {
	matches, err := r.triggers.ListEnabledByEventType(ctx, projectID, eventType)
	if err != nil {
		return err
	}

	for _, t := range matches {
		if !trigger.MatchFilter(t.FilterConfig, eventData) {
			continue
		}
		if err := r.fire(ctx, t, eventData); err != nil && r.log != nil {
			r.log.WithField("trigger_id", t.ID).WithError(err).Warn("event trigger fire failed")
		}
	}
	return nil
}

// EmitRawJSON parses a raw JSON event payload with gjson before delegating
// to Emit, used by ingestion paths that receive unstructured event bodies
// (e.g. webhook-originated events) rather than an already-decoded map.
func (r *Router) EmitRawJSON(ctx context.Context, projectID, eventType string, rawJSON []byte) error {
	data := make(map[string]any)
	gjson.ParseBytes(rawJSON).ForEach(func(key, value gjson.Result) bool {
		data[key.String()] = value.Value()
		return true
	})
	return r.Emit(ctx, projectID, eventType, data)
}

func (r *Router) fire(ctx context.Context, t *trigger.Trigger, eventData map[string]any) error {
	tmpl, err := r.dags.GetTemplate(ctx, t.DAGTemplateID)
	if err != nil || !tmpl.Enabled {
		_ = r.triggers.IncrementCounters(ctx, t.ID, false)
		if err != nil {
			return err
		}
		return apierr.PreconditionFailed("dag template disabled")
	}

	inputConfig := trigger.InputConfig(eventData, t.DAGConfig)
	execution, err := r.executor.Create(ctx, tmpl, t.ProjectID, dag.TriggerEvent, eventData, inputConfig)
	if err != nil {
		_ = r.triggers.IncrementCounters(ctx, t.ID, false)
		return err
	}
	if err := r.executor.Start(ctx, execution.ID); err != nil {
		_ = r.triggers.IncrementCounters(ctx, t.ID, false)
		return err
	}
	return r.triggers.IncrementCounters(ctx, t.ID, true)
}
