package dagengine

import (
	"context"
	"fmt"
	"testing"

	"github.com/riftwatch/easm/domain/dag"
	"github.com/riftwatch/easm/services/taskqueue"
	"github.com/riftwatch/easm/storage/memory"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() (*Executor, *memory.DAGStore) {
	dagStore := memory.NewDAGStore()
	scanStore := memory.NewScanStore()
	n := 0
	idgen := func() string { n++; return fmt.Sprintf("id-%d", n) }
	return New(dagStore, scanStore, taskqueue.New(), idgen, nil), dagStore
}

func TestLinearChainAdvancesNodeByNode(t *testing.T) {
	ctx := context.Background()
	exec, store := newTestExecutor()

	tmpl := &dag.Template{
		ID: "tmpl-1",
		Nodes: []dag.Node{
			{ID: "a", TaskType: "subdomain_scan"},
			{ID: "b", TaskType: "dns_resolve", DependsOn: []string{"a"}},
			{ID: "c", TaskType: "port_scan", DependsOn: []string{"b"}},
		},
	}
	require.NoError(t, store.CreateTemplate(ctx, tmpl))

	execution, err := exec.Create(ctx, tmpl, "proj-1", dag.TriggerManual, nil, nil)
	require.NoError(t, err)
	require.NoError(t, exec.Start(ctx, execution.ID))

	got, err := store.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Equal(t, dag.NodeRunning, got.NodeStates["a"])
	require.Equal(t, dag.NodePending, got.NodeStates["b"])

	require.NoError(t, exec.OnNodeCompleted(ctx, execution.ID, "a", true))
	got, _ = store.GetExecution(ctx, execution.ID)
	require.Equal(t, dag.NodeCompleted, got.NodeStates["a"])
	require.Equal(t, dag.NodeRunning, got.NodeStates["b"])

	require.NoError(t, exec.OnNodeCompleted(ctx, execution.ID, "b", true))
	require.NoError(t, exec.OnNodeCompleted(ctx, execution.ID, "c", true))

	got, _ = store.GetExecution(ctx, execution.ID)
	require.Equal(t, dag.ExecCompleted, got.Status)
	require.Equal(t, dag.NodeCompleted, got.NodeStates["c"])
}

func TestDiamondWithFailureSkipsDependent(t *testing.T) {
	ctx := context.Background()
	exec, store := newTestExecutor()

	tmpl := &dag.Template{
		ID: "tmpl-2",
		Nodes: []dag.Node{
			{ID: "a", TaskType: "subdomain_scan"},
			{ID: "b", TaskType: "dns_resolve", DependsOn: []string{"a"}},
			{ID: "c", TaskType: "port_scan", DependsOn: []string{"a"}},
			{ID: "d", TaskType: "http_probe", DependsOn: []string{"b", "c"}},
		},
	}
	require.NoError(t, store.CreateTemplate(ctx, tmpl))

	execution, err := exec.Create(ctx, tmpl, "proj-1", dag.TriggerManual, nil, nil)
	require.NoError(t, err)
	require.NoError(t, exec.Start(ctx, execution.ID))
	require.NoError(t, exec.OnNodeCompleted(ctx, execution.ID, "a", true))
	require.NoError(t, exec.OnNodeCompleted(ctx, execution.ID, "b", true))
	require.NoError(t, exec.OnNodeCompleted(ctx, execution.ID, "c", false))

	got, err := store.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Equal(t, dag.NodeSkipped, got.NodeStates["d"])
	require.Equal(t, dag.ExecFailed, got.Status)
}

func TestTemplateWithCycleRejectedOnCreate(t *testing.T) {
	ctx := context.Background()
	exec, _ := newTestExecutor()

	tmpl := &dag.Template{
		ID: "tmpl-3",
		Nodes: []dag.Node{
			{ID: "a", DependsOn: []string{"b"}},
			{ID: "b", DependsOn: []string{"a"}},
		},
	}
	_, err := exec.Create(ctx, tmpl, "proj-1", dag.TriggerManual, nil, nil)
	require.Error(t, err)
}
