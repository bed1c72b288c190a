package asset

import "time"

// Observation is the set of fields every asset-graph entity carries,
// embedded by value into each typed record.
type Observation struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	Source          string    `json:"source"`
	FingerprintHash string    `json:"fingerprint_hash"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

type Subdomain struct {
	Observation
	Subdomain   string   `json:"subdomain"`
	IPAddresses []string `json:"ip_addresses"`
}

func (s Subdomain) NaturalKey() string { return s.ProjectID + "|" + s.Subdomain }

type IPAddress struct {
	Observation
	IP string `json:"ip"`
}

func (ip IPAddress) NaturalKey() string { return ip.ProjectID + "|" + ip.IP }

type Port struct {
	Observation
	IPID     string `json:"ip_id"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Banner   string `json:"banner"`
}

func (p Port) NaturalKey() string {
	return p.IPID + "|" + itoa(p.Port) + "|" + p.Protocol
}

type WebAsset struct {
	Observation
	NormalizedURL string   `json:"normalized_url"`
	Title         string   `json:"title"`
	StatusCode    int      `json:"status_code"`
	Technologies  []string `json:"technologies"`
}

func (w WebAsset) NaturalKey() string { return w.ProjectID + "|" + w.NormalizedURL }

type JSAsset struct {
	Observation
	WebAssetID  string `json:"web_asset_id,omitempty"`
	ScriptURL   string `json:"script_url"`
	ContentHash string `json:"content_hash"`
}

func (j JSAsset) NaturalKey() string {
	return j.ProjectID + "|" + j.ScriptURL + "|" + j.ContentHash
}

type APIEndpoint struct {
	Observation
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
}

func (a APIEndpoint) NaturalKey() string { return a.ProjectID + "|" + a.Endpoint + "|" + a.Method }

type Vulnerability struct {
	Observation
	TargetURL   string `json:"target_url"`
	TemplateID  string `json:"template_id"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

func (v Vulnerability) NaturalKey() string {
	return v.ProjectID + "|" + v.TargetURL + "|" + v.TemplateID
}

// StatusHistoryEntry records a manual status change against an
// APIRiskFinding, surfaced to operators per spec §7.
type StatusHistoryEntry struct {
	Status string    `json:"status"`
	Notes  string    `json:"notes"`
	At     time.Time `json:"at"`
}

type APIRiskFinding struct {
	Observation
	EndpointID    string               `json:"endpoint_id,omitempty"`
	RuleName      string               `json:"rule_name"`
	Severity      string               `json:"severity"`
	StatusHistory []StatusHistoryEntry `json:"status_history"`
}

func (f APIRiskFinding) NaturalKey() string {
	return f.ProjectID + "|" + f.EndpointID + "|" + f.RuleName
}

// AssetEntity is the generic (asset_type, value) observation behind bulk
// asset import (spec §3, §4.1): raw input deduped and upserted before any
// typed fan-out into Subdomain/IPAddress/WebAsset.
type AssetEntity struct {
	Observation
	AssetType string `json:"asset_type"`
	Value     string `json:"value"`
}

func (e AssetEntity) NaturalKey() string { return e.ProjectID + "|" + e.AssetType + "|" + e.Value }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// HighRiskPorts is the constant set consulted by the risk calculator's
// exposure factor (spec §4.7).
var HighRiskPorts = map[int]bool{
	21: true, 23: true, 25: true, 135: true, 139: true,
	445: true, 1433: true, 3306: true, 3389: true, 5432: true,
	6379: true, 9200: true, 27017: true,
}

// CascadeOrder is the fixed leaves-before-roots deletion order for a project
// delete (spec §4.1). Callers delete each table's rows scoped to the project
// in this order before deleting the project row itself.
var CascadeOrder = []string{
	"api_risk_findings",
	"api_endpoints",
	"js_assets",
	"web_assets",
	"ports",
	"ip_addresses",
	"subdomains",
	"vulnerabilities",
	"scan_tasks",
	"scan_policies",
	"asset_entities",
	"alert_records",
	"alert_policies",
	"notification_channels",
	"asset_risk_scores",
	"risk_factors",
	"dag_executions",
	"event_triggers",
	"dag_templates",
}
