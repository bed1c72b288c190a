package scanrunner

import (
	"regexp"

	"github.com/riftwatch/easm/internal/platform/apierr"
)

// dnsLabelRe enforces "strict DNS-label" domain inputs (spec §5).
var dnsLabelRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// templatePathRe is the nuclei `-t` path pattern; `..` is rejected
// separately so a path like "a..b" (no slash) still passes the regex but
// fails the traversal check.
var templatePathRe = regexp.MustCompile(`^[\w\-./]+$`)

var nucleiSeverities = map[string]bool{
	"info": true, "low": true, "medium": true, "high": true, "critical": true,
}

// xrayPluginAllowlist is the static set of xray plugin names the runner will
// pass through; anything else is rejected before the subprocess is built.
var xrayPluginAllowlist = map[string]bool{
	"sqldet": true, "xss": true, "cmd-injection": true, "dirscan": true,
	"path-traversal": true, "baseline": true, "ssrf": true, "xxe": true,
}

func validateDomain(domain string) error {
	if !dnsLabelRe.MatchString(domain) {
		return apierr.Validation("invalid domain %q", domain)
	}
	return nil
}

func validateNucleiArgs(templatePath, severity string) error {
	if severity != "" && !nucleiSeverities[severity] {
		return apierr.Validation("invalid nuclei severity %q", severity)
	}
	if templatePath == "" {
		return nil
	}
	if containsDotDot(templatePath) {
		return apierr.Validation("nuclei template path must not contain ..")
	}
	if !templatePathRe.MatchString(templatePath) {
		return apierr.Validation("invalid nuclei template path %q", templatePath)
	}
	return nil
}

func validateXrayPlugins(plugins []string) error {
	for _, p := range plugins {
		if !xrayPluginAllowlist[p] {
			return apierr.Validation("xray plugin %q is not in the allowlist", p)
		}
	}
	return nil
}

func containsDotDot(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '.' && s[i+1] == '.' {
			return true
		}
	}
	return false
}
