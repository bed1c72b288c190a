package alerting

import (
	"context"
	"testing"

	"github.com/riftwatch/easm/domain/alert"
	"github.com/riftwatch/easm/storage/memory"
	"github.com/stretchr/testify/require"
)

func TestDispatchBlocksSSRFAndRecordsResult(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAlertStore()
	require.NoError(t, store.CreateChannel(ctx, &alert.Channel{
		ID:          "chan-1",
		ProjectID:   "proj-1",
		ChannelType: alert.ChannelWebhook,
		Config:      map[string]any{"url": "http://169.254.169.254/latest/meta-data/"},
		Enabled:     true,
	}))

	notifier := NewNotifier(store, nil)
	record := &alert.Record{
		ID:                  "rec-1",
		ProjectID:           "proj-1",
		NotificationResults: map[string]alert.ChannelResult{},
	}
	policy := &alert.Policy{ChannelIDs: []string{"chan-1"}}

	notifier.Dispatch(ctx, policy, record)

	require.False(t, record.NotificationResults["chan-1"].Success)
	require.Contains(t, record.NotificationResults["chan-1"].Error, "blocked")
	require.NotEqual(t, alert.RecordSent, record.Status)
}

func TestDispatchSkipsDisabledChannel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAlertStore()
	require.NoError(t, store.CreateChannel(ctx, &alert.Channel{
		ID: "chan-2", ProjectID: "proj-1", Enabled: false,
		Config: map[string]any{"url": "https://example.com/hook"},
	}))

	notifier := NewNotifier(store, nil)
	record := &alert.Record{ID: "rec-2", ProjectID: "proj-1", NotificationResults: map[string]alert.ChannelResult{}}
	policy := &alert.Policy{ChannelIDs: []string{"chan-2"}}

	notifier.Dispatch(ctx, policy, record)
	require.False(t, record.NotificationResults["chan-2"].Success)
}
