package scanrunner

import (
	"context"
	"regexp"
	"strings"

	"github.com/riftwatch/easm/domain/asset"
	"github.com/riftwatch/easm/domain/scan"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

// dispatch routes a task to its handler and returns a result_summary. Each
// discovery branch upserts its findings into the asset graph before
// returning; the screenshot branch only reports its capture results.
func (r *Runner) dispatch(ctx context.Context, task *scan.Task) (map[string]any, error) {
	switch task.TaskType {
	case scan.TaskSubdomainScan:
		return r.runSubdomainScan(ctx, task)
	case scan.TaskDNSResolve:
		return r.runDNSResolve(ctx, task)
	case scan.TaskPortScan:
		return r.runPortScan(ctx, task)
	case scan.TaskHTTPProbe:
		return r.runHTTPProbe(ctx, task)
	case scan.TaskFingerprint:
		return r.runFingerprint(ctx, task)
	case scan.TaskScreenshot:
		return r.runScreenshot(ctx, task)
	case scan.TaskNucleiScan:
		return r.runNucleiScan(ctx, task)
	case scan.TaskXrayScan:
		return r.runXrayScan(ctx, task)
	case scan.TaskJSAPIDiscovery:
		return r.runJSAPIDiscovery(ctx, task)
	default:
		return nil, apierr.Validation("unknown task_type %q", task.TaskType)
	}
}

func configString(config map[string]any, key string) string {
	v, _ := config[key].(string)
	return v
}

func configStrings(config map[string]any, key string) []string {
	raw, ok := config[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *Runner) runSubdomainScan(ctx context.Context, task *scan.Task) (map[string]any, error) {
	domain := configString(task.Config, "domain")
	if err := validateDomain(domain); err != nil {
		return nil, err
	}
	hosts, fellBack, err := subfinderEnumerate(ctx, domain)
	if err != nil {
		return nil, err
	}
	for _, host := range hosts {
		in := asset.Subdomain{
			Observation: asset.Observation{ProjectID: task.ProjectID, Source: toolSource("subfinder", fellBack)},
			Subdomain:   host,
		}
		if _, err := r.assets.UpsertSubdomain(ctx, in); err != nil {
			return nil, err
		}
	}
	return map[string]any{"found": len(hosts), "fallback": fellBack}, nil
}

func (r *Runner) runDNSResolve(ctx context.Context, task *scan.Task) (map[string]any, error) {
	host := configString(task.Config, "host")
	if err := validateDomain(host); err != nil {
		return nil, err
	}
	ips, err := dnsResolve(host)
	if err != nil {
		return nil, err
	}
	if _, err := r.assets.UpsertSubdomain(ctx, asset.Subdomain{
		Observation: asset.Observation{ProjectID: task.ProjectID, Source: "dns_resolve"},
		Subdomain:   host,
		IPAddresses: ips,
	}); err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if _, err := r.assets.UpsertIPAddress(ctx, asset.IPAddress{
			Observation: asset.Observation{ProjectID: task.ProjectID, Source: "dns_resolve"},
			IP:          ip,
		}); err != nil {
			return nil, err
		}
	}
	return map[string]any{"resolved": len(ips)}, nil
}

func (r *Runner) runPortScan(ctx context.Context, task *scan.Task) (map[string]any, error) {
	target := configString(task.Config, "ip")
	ipRecord, err := r.assets.UpsertIPAddress(ctx, asset.IPAddress{
		Observation: asset.Observation{ProjectID: task.ProjectID, Source: "port_scan"},
		IP:          target,
	})
	if err != nil {
		return nil, err
	}
	ports, fellBack, err := portScan(ctx, target)
	if err != nil {
		return nil, err
	}
	for _, p := range ports {
		if _, err := r.assets.UpsertPort(ctx, asset.Port{
			Observation: asset.Observation{ProjectID: task.ProjectID, Source: toolSource("nmap", fellBack)},
			IPID:        ipRecord.ID,
			Port:        p.Port,
			Protocol:    p.Protocol,
			Banner:      p.Banner,
		}); err != nil {
			return nil, err
		}
	}
	return map[string]any{"open_ports": len(ports), "fallback": fellBack}, nil
}

func (r *Runner) runHTTPProbe(ctx context.Context, task *scan.Task) (map[string]any, error) {
	rawURL := configString(task.Config, "url")
	normalized, err := asset.NormalizeURL(rawURL)
	if err != nil {
		return nil, apierr.Validation("invalid probe url: %v", err)
	}
	status, title, _, fellBack, err := httpProbe(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if _, err := r.assets.UpsertWebAsset(ctx, asset.WebAsset{
		Observation:   asset.Observation{ProjectID: task.ProjectID, Source: toolSource("httpx", fellBack)},
		NormalizedURL: normalized,
		Title:         title,
		StatusCode:    status,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"status_code": status}, nil
}

func (r *Runner) runFingerprint(ctx context.Context, task *scan.Task) (map[string]any, error) {
	rawURL := configString(task.Config, "url")
	normalized, err := asset.NormalizeURL(rawURL)
	if err != nil {
		return nil, apierr.Validation("invalid fingerprint url: %v", err)
	}
	status, _, headers, _, err := httpProbe(ctx, normalized)
	if err != nil {
		return nil, err
	}
	var techs []string
	if r.fp != nil {
		techs = r.fp.Fingerprint(ctx, normalized, headers, nil)
	}
	if _, err := r.assets.UpsertWebAsset(ctx, asset.WebAsset{
		Observation:   asset.Observation{ProjectID: task.ProjectID, Source: "fingerprint"},
		NormalizedURL: normalized,
		StatusCode:    status,
		Technologies:  techs,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"technologies": techs}, nil
}

func (r *Runner) runScreenshot(ctx context.Context, task *scan.Task) (map[string]any, error) {
	rawURL := configString(task.Config, "url")
	normalized, err := asset.NormalizeURL(rawURL)
	if err != nil {
		return nil, apierr.Validation("invalid screenshot url: %v", err)
	}
	path, skipped, err := screenshot(ctx, normalized, r.screenshotDir)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": path, "skipped": skipped}, nil
}

func (r *Runner) runNucleiScan(ctx context.Context, task *scan.Task) (map[string]any, error) {
	target := configString(task.Config, "target")
	templatePath := configString(task.Config, "template_path")
	severity := configString(task.Config, "severity")
	if err := validateNucleiArgs(templatePath, severity); err != nil {
		return nil, err
	}
	findings, err := nucleiScan(ctx, target, templatePath, severity)
	if err != nil {
		return nil, err
	}
	if err := r.upsertVulnFindings(ctx, task.ProjectID, target, findings); err != nil {
		return nil, err
	}
	return map[string]any{"findings": len(findings)}, nil
}

func (r *Runner) runXrayScan(ctx context.Context, task *scan.Task) (map[string]any, error) {
	target := configString(task.Config, "target")
	plugins := configStrings(task.Config, "plugins")
	if err := validateXrayPlugins(plugins); err != nil {
		return nil, err
	}
	findings, err := xrayScan(ctx, target, plugins)
	if err != nil {
		return nil, err
	}
	if err := r.upsertVulnFindings(ctx, task.ProjectID, target, findings); err != nil {
		return nil, err
	}
	return map[string]any{"findings": len(findings)}, nil
}

func (r *Runner) upsertVulnFindings(ctx context.Context, projectID, target string, findings []nucleiFinding) error {
	for _, f := range findings {
		if _, err := r.assets.UpsertVulnerability(ctx, asset.Vulnerability{
			Observation: asset.Observation{ProjectID: projectID, Source: "scanner"},
			TargetURL:   target,
			TemplateID:  f.TemplateID,
			Severity:    f.Severity,
		}); err != nil {
			return err
		}
	}
	return nil
}

var endpointPathRe = regexp.MustCompile(`["'](/[a-zA-Z0-9_\-/{}.]{1,200})["']`)

// runJSAPIDiscovery is always pure Go: it fetches script content and
// regex-greps for path-like string literals, per spec §3's js_api_discovery
// task type (not one of the opaque subprocess tools).
func (r *Runner) runJSAPIDiscovery(ctx context.Context, task *scan.Task) (map[string]any, error) {
	scriptURL := configString(task.Config, "script_url")
	normalized, err := asset.NormalizeURL(scriptURL)
	if err != nil {
		return nil, apierr.Validation("invalid script url: %v", err)
	}
	_, _, _, _, err = httpProbe(ctx, normalized)
	if err != nil {
		return nil, err
	}

	body, err := fetchBody(ctx, normalized)
	if err != nil {
		return nil, err
	}

	jsAsset, err := r.assets.UpsertJSAsset(ctx, asset.JSAsset{
		Observation: asset.Observation{ProjectID: task.ProjectID, Source: "js_api_discovery"},
		ScriptURL:   normalized,
		ContentHash: contentHash(body),
	})
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	count := 0
	for _, m := range endpointPathRe.FindAllStringSubmatch(string(body), -1) {
		path := m[1]
		if seen[path] || !looksLikeAPIPath(path) {
			continue
		}
		seen[path] = true
		if _, err := r.assets.UpsertAPIEndpoint(ctx, asset.APIEndpoint{
			Observation: asset.Observation{ProjectID: task.ProjectID, Source: "js_api_discovery: " + jsAsset.ID},
			Endpoint:    path,
			Method:      "GET",
		}); err != nil {
			return nil, err
		}
		count++
	}
	return map[string]any{"endpoints_found": count}, nil
}

func looksLikeAPIPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "/api/") || strings.Contains(lower, "/v1/") || strings.Contains(lower, "/v2/")
}

func toolSource(tool string, fellBack bool) string {
	if fellBack {
		return tool + "_fallback"
	}
	return tool
}
