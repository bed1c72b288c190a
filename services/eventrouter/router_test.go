package eventrouter

import (
	"context"
	"fmt"
	"testing"

	"github.com/riftwatch/easm/domain/dag"
	"github.com/riftwatch/easm/domain/trigger"
	"github.com/riftwatch/easm/services/dagengine"
	"github.com/riftwatch/easm/services/taskqueue"
	"github.com/riftwatch/easm/storage/memory"
	"github.com/stretchr/testify/require"
)

func newTestRouter() (*Router, *memory.DAGStore, *memory.TriggerStore) {
	dagStore := memory.NewDAGStore()
	triggerStore := memory.NewTriggerStore()
	scanStore := memory.NewScanStore()
	n := 0
	idgen := func() string { n++; return fmt.Sprintf("id-%d", n) }
	executor := dagengine.New(dagStore, scanStore, taskqueue.New(), idgen, nil)
	return New(triggerStore, dagStore, executor, nil), dagStore, triggerStore
}

func TestEmitMatchingTriggerStartsExecution(t *testing.T) {
	ctx := context.Background()
	router, dagStore, triggerStore := newTestRouter()

	tmpl := &dag.Template{
		ID:      "tmpl-1",
		Enabled: true,
		Nodes:   []dag.Node{{ID: "a", TaskType: "subdomain_scan"}},
	}
	require.NoError(t, dagStore.CreateTemplate(ctx, tmpl))

	trig := &trigger.Trigger{
		ID:            "trig-1",
		ProjectID:     "proj-1",
		EventType:     "asset_created",
		FilterConfig:  map[string]any{"asset_type": "domain"},
		DAGTemplateID: tmpl.ID,
		Enabled:       true,
	}
	require.NoError(t, triggerStore.Create(ctx, trig))

	err := router.Emit(ctx, "proj-1", "asset_created", map[string]any{"asset_type": "domain"})
	require.NoError(t, err)

	executions, err := dagStore.ListExecutions(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	require.Equal(t, dag.TriggerEvent, executions[0].TriggerType)
	require.Equal(t, dag.NodeRunning, executions[0].NodeStates["a"])

	got, err := triggerStore.Get(ctx, trig.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.TriggerCount.Total)
	require.Equal(t, 1, got.TriggerCount.Success)
}

func TestEmitFilterMismatchDoesNotFire(t *testing.T) {
	ctx := context.Background()
	router, dagStore, triggerStore := newTestRouter()

	tmpl := &dag.Template{ID: "tmpl-2", Enabled: true, Nodes: []dag.Node{{ID: "a"}}}
	require.NoError(t, dagStore.CreateTemplate(ctx, tmpl))

	trig := &trigger.Trigger{
		ID:            "trig-2",
		ProjectID:     "proj-1",
		EventType:     "asset_created",
		FilterConfig:  map[string]any{"asset_type": "ip"},
		DAGTemplateID: tmpl.ID,
		Enabled:       true,
	}
	require.NoError(t, triggerStore.Create(ctx, trig))

	require.NoError(t, router.Emit(ctx, "proj-1", "asset_created", map[string]any{"asset_type": "domain"}))

	executions, err := dagStore.ListExecutions(ctx, "proj-1")
	require.NoError(t, err)
	require.Empty(t, executions)
}

func TestEmitDisabledTemplateIncrementsFailure(t *testing.T) {
	ctx := context.Background()
	router, dagStore, triggerStore := newTestRouter()

	tmpl := &dag.Template{ID: "tmpl-3", Enabled: false, Nodes: []dag.Node{{ID: "a"}}}
	require.NoError(t, dagStore.CreateTemplate(ctx, tmpl))

	trig := &trigger.Trigger{
		ID:            "trig-3",
		ProjectID:     "proj-1",
		EventType:     "scan_completed",
		DAGTemplateID: tmpl.ID,
		Enabled:       true,
	}
	require.NoError(t, triggerStore.Create(ctx, trig))

	require.NoError(t, router.Emit(ctx, "proj-1", "scan_completed", nil))

	got, err := triggerStore.Get(ctx, trig.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.TriggerCount.Total)
	require.Equal(t, 1, got.TriggerCount.Failed)
}

func TestEmitRawJSONParsesBodyAndFires(t *testing.T) {
	ctx := context.Background()
	router, dagStore, triggerStore := newTestRouter()

	tmpl := &dag.Template{ID: "tmpl-4", Enabled: true, Nodes: []dag.Node{{ID: "a"}}}
	require.NoError(t, dagStore.CreateTemplate(ctx, tmpl))

	trig := &trigger.Trigger{
		ID:            "trig-4",
		ProjectID:     "proj-1",
		EventType:     "vuln_found",
		FilterConfig:  map[string]any{"severity": "critical"},
		DAGTemplateID: tmpl.ID,
		Enabled:       true,
	}
	require.NoError(t, triggerStore.Create(ctx, trig))

	raw := []byte(`{"severity":"critical","asset_id":"asset-1","nested":{"ignored":true}}`)
	require.NoError(t, router.EmitRawJSON(ctx, "proj-1", "vuln_found", raw))

	executions, err := dagStore.ListExecutions(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	require.Equal(t, "asset-1", executions[0].InputConfig["asset_id"])
}
