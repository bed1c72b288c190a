package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/riftwatch/easm/domain/alert"
	"github.com/riftwatch/easm/infrastructure/httputil"
	"github.com/riftwatch/easm/pkg/logger"
	"github.com/riftwatch/easm/storage"
	"golang.org/x/time/rate"
)

// Notifier dispatches an AlertRecord to every channel attached to its
// policy. Channel configs are always fetched fresh from the store by id —
// never trusted from the caller — per spec §4.8.
type Notifier struct {
	channels storage.AlertStore
	client   *http.Client
	limiter  *rate.Limiter
	log      *logger.Logger
}

// NewNotifier builds a Notifier whose outbound HTTP client enforces TLS 1.2+
// (infrastructure/httputil.DefaultTransportWithMinTLS12) and is throttled by
// a local token bucket independent of the Redis-backed per-project limiter.
func NewNotifier(channels storage.AlertStore, log *logger.Logger) *Notifier {
	return &Notifier{
		channels: channels,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: httputil.DefaultTransportWithMinTLS12(),
		},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		log:     log,
	}
}

// Dispatch sends record to every channel in policy.ChannelIDs, records each
// outcome into record.NotificationResults, and marks the record sent once
// any channel succeeds. Errors are logged, not returned — alert delivery
// failures must never block the caller that raised the event.
func (n *Notifier) Dispatch(ctx context.Context, policy *alert.Policy, record *alert.Record) {
	anySuccess := false
	for _, channelID := range policy.ChannelIDs {
		result := n.send(ctx, channelID, record)
		record.NotificationResults[channelID] = result
		if result.Success {
			anySuccess = true
		}
	}
	if anySuccess {
		record.Status = alert.RecordSent
	}
	record.UpdatedAt = time.Now()
	if err := n.channels.UpdateRecord(ctx, record); err != nil && n.log != nil {
		n.log.WithField("record_id", record.ID).WithError(err).Warn("failed to persist notification results")
	}
}

func (n *Notifier) send(ctx context.Context, channelID string, record *alert.Record) alert.ChannelResult {
	now := time.Now()
	channel, err := n.channels.GetChannel(ctx, channelID)
	if err != nil {
		return alert.ChannelResult{Success: false, Error: err.Error(), SentAt: now}
	}
	if !channel.Enabled {
		return alert.ChannelResult{Success: false, Error: "channel disabled", SentAt: now}
	}

	url, _ := channel.Config["url"].(string)
	safe, reason := alert.IsSafeURL(url, nil)
	if !safe {
		if n.log != nil {
			n.log.WithField("channel_id", channelID).WithField("reason", reason).Warn("notification blocked by SSRF guard")
		}
		return alert.ChannelResult{Success: false, Error: "blocked: " + reason, SentAt: now}
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return alert.ChannelResult{Success: false, Error: err.Error(), SentAt: now}
	}

	payload, _ := json.Marshal(map[string]any{
		"alert_type":  record.AlertType,
		"target_type": record.TargetType,
		"severity":    record.Severity,
		"message":     record.Message,
		"count":       record.AggregatedCount,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return alert.ChannelResult{Success: false, Error: err.Error(), SentAt: now}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return alert.ChannelResult{Success: false, Error: err.Error(), SentAt: now}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return alert.ChannelResult{Success: false, Error: resp.Status, SentAt: now}
	}
	return alert.ChannelResult{Success: true, SentAt: now}
}
