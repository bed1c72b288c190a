package scanrunner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riftwatch/easm/domain/scan"
	"github.com/riftwatch/easm/storage/memory"
	"github.com/stretchr/testify/require"
)

func newTestRunner() (*Runner, *memory.ScanStore, *memory.AssetStore) {
	n := 0
	idgen := func() string { n++; return "id" }
	scans := memory.NewScanStore()
	assets := memory.NewAssetStore(idgen)
	return New(scans, assets, nil, nil, nil, nil, idgen, nil, ""), scans, assets
}

func TestDNSResolveCompletesAndUpsertsAssets(t *testing.T) {
	ctx := context.Background()
	runner, scans, assets := newTestRunner()

	task := scan.NewTask("t1", "proj-1", scan.TaskDNSResolve, 5, map[string]any{"host": "localhost"})
	require.NoError(t, scans.CreateTask(ctx, task))

	require.NoError(t, runner.Run(ctx, task))

	got, err := scans.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, scan.StatusCompleted, got.Status)

	subs, err := assets.ListSubdomains(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "localhost", subs[0].Subdomain)
}

func TestRunRejectsInvalidDomain(t *testing.T) {
	ctx := context.Background()
	runner, scans, _ := newTestRunner()

	task := scan.NewTask("t1", "proj-1", scan.TaskDNSResolve, 5, map[string]any{"host": "not a domain!!"})
	require.NoError(t, scans.CreateTask(ctx, task))

	require.NoError(t, runner.Run(ctx, task))

	got, err := scans.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, scan.StatusFailed, got.Status)
	require.NotEmpty(t, got.ErrorMessage)
}

// TestConcurrentRunOnlyStartsOnce covers spec §8 scenario 4: two workers
// race to start the same pending task; exactly one observes the
// pending->running transition succeed.
func TestConcurrentRunOnlyStartsOnce(t *testing.T) {
	ctx := context.Background()
	scans := memory.NewScanStore()
	task := scan.NewTask("race-1", "proj-1", scan.TaskDNSResolve, 5, map[string]any{"host": "localhost"})
	require.NoError(t, scans.CreateTask(ctx, task))

	var started int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := scans.CompareAndSwapStatus(ctx, task.ID, scan.StatusPending, scan.StatusRunning, nil)
			require.NoError(t, err)
			if ok {
				atomic.AddInt32(&started, 1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, started)
}

func TestNucleiArgValidationRejectsTraversalAndBadSeverity(t *testing.T) {
	require.Error(t, validateNucleiArgs("../../etc/passwd", "critical"))
	require.Error(t, validateNucleiArgs("cves/cve-2021.yaml", "extreme"))
	require.NoError(t, validateNucleiArgs("cves/cve-2021.yaml", "critical"))
}

func TestXrayPluginValidationRejectsUnlisted(t *testing.T) {
	require.NoError(t, validateXrayPlugins([]string{"xss", "sqldet"}))
	require.Error(t, validateXrayPlugins([]string{"not-a-real-plugin"}))
}

func TestPortScanFallsBackWithoutNmap(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// 127.0.0.1 with no binary on PATH named "nmap" in the test sandbox
	// exercises the pure-Go TCP-connect fallback path.
	_, fellBack, err := portScan(ctx, "127.0.0.1")
	require.NoError(t, err)
	require.True(t, fellBack)
}
