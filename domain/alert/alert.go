// Package alert implements AlertPolicy/AlertRecord aggregation, cooldown,
// and the notifier's SSRF guard (spec §4.8).
package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// AggregationKey returns the 16-hex-char dedup key from spec §GLOSSARY.
func AggregationKey(projectID, targetType, severity, alertType string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%s", projectID, targetType, severity, alertType)))
	return hex.EncodeToString(sum[:])[:16]
}

type ChannelType string

const (
	ChannelEmail    ChannelType = "email"
	ChannelWebhook  ChannelType = "webhook"
	ChannelDingTalk ChannelType = "dingtalk"
	ChannelFeishu   ChannelType = "feishu"
	ChannelWeChat   ChannelType = "wechat"
)

type Channel struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Name        string         `json:"name"`
	ChannelType ChannelType    `json:"channel_type"`
	Config      map[string]any `json:"config"`
	Enabled     bool           `json:"enabled"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type Policy struct {
	ID                   string    `json:"id"`
	ProjectID            string    `json:"project_id"`
	Name                 string    `json:"name"`
	SeverityThreshold    string    `json:"severity_threshold"`
	AggregationWindowMin int       `json:"aggregation_window_min"`
	CooldownMin          int       `json:"cooldown_min"`
	MaxAlertsPerHour     int       `json:"max_alerts_per_hour"`
	ChannelIDs           []string  `json:"channel_ids"`
	MessageTemplate      string    `json:"message_template"`
	Enabled              bool      `json:"enabled"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type RecordStatus string

const (
	RecordPending  RecordStatus = "pending"
	RecordSent     RecordStatus = "sent"
	RecordAcked    RecordStatus = "acked"
	RecordResolved RecordStatus = "resolved"
)

// ChannelResult is recorded per dispatched channel into
// Record.NotificationResults (spec §4.8, §7).
type ChannelResult struct {
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

type Record struct {
	ID                  string                   `json:"id"`
	ProjectID           string                   `json:"project_id"`
	AlertPolicyID       string                   `json:"alert_policy_id"`
	AggregationKey      string                   `json:"aggregation_key"`
	AlertType           string                   `json:"alert_type"`
	TargetType          string                   `json:"target_type"`
	Severity            string                   `json:"severity"`
	Status              RecordStatus             `json:"status"`
	AggregatedCount     int                      `json:"aggregated_count"`
	Message             string                   `json:"message"`
	NotificationResults map[string]ChannelResult `json:"notification_results"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
	AckedAt             *time.Time               `json:"acked_at,omitempty"`
	ResolvedAt          *time.Time               `json:"resolved_at,omitempty"`
}

// Resolved reports whether the record is no longer eligible for
// aggregation (spec §4.8 "non-resolved AlertRecord").
func (r *Record) Resolved() bool {
	return r.Status == RecordResolved
}
