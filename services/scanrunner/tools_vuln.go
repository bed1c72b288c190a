package scanrunner

import (
	"context"
	"strings"
	"time"

	"github.com/riftwatch/easm/internal/platform/apierr"
)

type nucleiFinding struct {
	TemplateID string
	Severity   string
	Matched    string
}

// nucleiScan has no pure-Go fallback (spec §5's fallback set covers only
// port scan, HTTP probe, and subdomain enumeration); if nuclei is absent
// from PATH the caller surfaces ToolUnavailable and the task fails.
func nucleiScan(ctx context.Context, target, templatePath, severity string) ([]nucleiFinding, error) {
	bin := toolPath("nuclei")
	if bin == "" {
		return nil, apierr.ToolUnavailable("nuclei", nil)
	}
	args := []string{"-silent", "-jsonl", "-target", target}
	if templatePath != "" {
		args = append(args, "-t", templatePath)
	}
	if severity != "" {
		args = append(args, "-severity", severity)
	}
	out, err := runTool(ctx, 600*time.Second, bin, args...)
	if err != nil {
		return nil, err
	}
	return parseNucleiLines(out), nil
}

func parseNucleiLines(out string) []nucleiFinding {
	var findings []nucleiFinding
	for _, line := range splitLines(out) {
		f := nucleiFinding{}
		if v := jsonField(line, "template-id"); v != "" {
			f.TemplateID = v
		} else if v := jsonField(line, "templateID"); v != "" {
			f.TemplateID = v
		}
		f.Severity = jsonField(line, "severity")
		f.Matched = jsonField(line, "matched-at")
		if f.Matched == "" {
			f.Matched = jsonField(line, "matched")
		}
		if f.TemplateID != "" {
			findings = append(findings, f)
		}
	}
	return findings
}

// xrayScan has no pure-Go fallback, matching nucleiScan's ToolUnavailable
// contract.
func xrayScan(ctx context.Context, target string, plugins []string) ([]nucleiFinding, error) {
	bin := toolPath("xray")
	if bin == "" {
		return nil, apierr.ToolUnavailable("xray", nil)
	}
	args := []string{"webscan", "--url", target}
	if len(plugins) > 0 {
		args = append(args, "--plugins", strings.Join(plugins, ","))
	}
	out, err := runTool(ctx, 300*time.Second, bin, args...)
	if err != nil {
		return nil, err
	}
	return parseNucleiLines(out), nil
}

// screenshot runs gowitness if present; absent a binary it degrades to a
// no-op that still lets the task complete (spec §5: "never fail the task
// silently for tool absence" — here the WebAsset record itself, produced by
// the http_probe node, is the substantive output; the screenshot is
// best-effort).
func screenshot(ctx context.Context, url, outputDir string) (path string, skipped bool, err error) {
	bin := toolPath("gowitness")
	if bin == "" {
		return "", true, nil
	}
	if _, err := runTool(ctx, 30*time.Second, bin, "single", "--url", url, "--screenshot-path", outputDir, "-q"); err != nil {
		return "", false, err
	}
	return outputDir, false, nil
}

// jsonField extracts a top-level string value for key from a single JSON
// line without pulling in a full decode; tool output here is produced by
// trusted local subprocesses, not user input.
func jsonField(line, key string) string {
	needle := `"` + key + `":"`
	idx := strings.Index(line, needle)
	if idx < 0 {
		return ""
	}
	rest := line[idx+len(needle):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	return rest[:end]
}
