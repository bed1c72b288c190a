package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/riftwatch/easm/domain/alert"
	"github.com/riftwatch/easm/storage/memory"
	"github.com/stretchr/testify/require"
)

// TestAggregationAndCooldown implements spec §8 scenario 6: an AlertPolicy
// with a 5-minute aggregation window and a 60-minute cooldown. Three
// critical vuln_found events inside a 1-minute span must produce exactly
// one AlertRecord with aggregated_count=3; a further matching event within
// the cooldown must create no new record.
func TestAggregationAndCooldown(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAlertStore()
	n := 0
	idgen := func() string { n++; return "rec-" + itoa(n) }
	alerter := NewAlerter(store, nil, idgen, nil)

	policy := &alert.Policy{
		ID:                   "policy-1",
		ProjectID:            "proj-1",
		SeverityThreshold:    "high",
		AggregationWindowMin: 5,
		CooldownMin:          60,
		MaxAlertsPerHour:     100,
	}

	ev := Event{TargetType: "web_asset", TargetID: "https://example.com/", Severity: "critical", AlertType: "vuln_found"}

	for i := 0; i < 3; i++ {
		require.NoError(t, alerter.Evaluate(ctx, policy, ev))
	}

	records, err := store.ListRecords(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 3, records[0].AggregatedCount)

	// Advance past the 5-minute aggregation window but stay inside the
	// 60-minute cooldown; a further matching event must still create no
	// new record, and must not bump aggregated_count either.
	base := alerter.now()
	alerter.now = func() time.Time { return base.Add(6 * time.Minute) }

	require.NoError(t, alerter.Evaluate(ctx, policy, ev))
	records, err = store.ListRecords(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, records, 1, "a matching event within the cooldown window must not create a new record")
	require.Equal(t, 3, records[0].AggregatedCount)
}

func TestEvaluateSkipsBelowThreshold(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAlertStore()
	alerter := NewAlerter(store, nil, func() string { return "rec-1" }, nil)

	policy := &alert.Policy{ID: "p1", ProjectID: "proj-1", SeverityThreshold: "critical", AggregationWindowMin: 5, CooldownMin: 60}
	ev := Event{TargetType: "web_asset", TargetID: "x", Severity: "medium", AlertType: "vuln_found"}

	require.NoError(t, alerter.Evaluate(ctx, policy, ev))
	records, err := store.ListRecords(ctx, "proj-1")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestRenderMessageFallsBackOnEmptyTemplate(t *testing.T) {
	msg := renderMessage("", Event{TargetID: "x", Severity: "high", AlertType: "vuln_found"})
	require.Contains(t, msg, "high")
	require.Contains(t, msg, "x")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
