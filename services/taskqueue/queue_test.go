package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPullReturnsHighestPriorityFirst(t *testing.T) {
	q := New()
	q.Push(ClassScan, &Job{ID: "low", Priority: 2})
	q.Push(ClassScan, &Job{ID: "high", Priority: 8})
	q.Push(ClassScan, &Job{ID: "mid", Priority: 5})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	job, _, ok := q.Pull(ctx)
	require.True(t, ok)
	require.Equal(t, "high", job.ID)
}

func TestPullPrefersOrchestrationOverScan(t *testing.T) {
	q := New()
	q.Push(ClassScan, &Job{ID: "scan-job", Priority: 9})
	q.Push(ClassOrchestration, &Job{ID: "dag-job", Priority: 1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	job, class, ok := q.Pull(ctx)
	require.True(t, ok)
	require.Equal(t, "dag-job", job.ID)
	require.Equal(t, ClassOrchestration, class)
}

func TestNormalizePriorityMapsAPIRangeToQueueRange(t *testing.T) {
	require.Equal(t, 0, NormalizePriority(1))
	require.Equal(t, 4, NormalizePriority(5))
	require.Equal(t, 9, NormalizePriority(10))
}

func TestPullBlocksUntilContextCancelled(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, ok := q.Pull(ctx)
	require.False(t, ok)
}
