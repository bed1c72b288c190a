package fingerprint

import "regexp"

// Rule matches a technology by header pattern or body pattern. FaviconMD5
// is carried on the rule, but Engine.Fingerprint does not match favicon
// hashes.
type Rule struct {
	Name        string
	HeaderKey   string
	HeaderMatch *regexp.Regexp
	BodyMatch   *regexp.Regexp
	FaviconMD5  []string
}

// DefaultRules is a small, illustrative signature set; a production
// deployment loads a much larger ruleset (spec's EASM_FINGERPRINT_DB path)
// at startup instead of hardcoding it.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "nginx", HeaderKey: "Server", HeaderMatch: regexp.MustCompile(`(?i)nginx`)},
		{Name: "apache", HeaderKey: "Server", HeaderMatch: regexp.MustCompile(`(?i)apache`)},
		{Name: "iis", HeaderKey: "Server", HeaderMatch: regexp.MustCompile(`(?i)microsoft-iis`)},
		{Name: "cloudflare", HeaderKey: "Server", HeaderMatch: regexp.MustCompile(`(?i)cloudflare`)},
		{Name: "php", HeaderKey: "X-Powered-By", HeaderMatch: regexp.MustCompile(`(?i)php`)},
		{Name: "express", HeaderKey: "X-Powered-By", HeaderMatch: regexp.MustCompile(`(?i)express`)},
		{Name: "wordpress", BodyMatch: regexp.MustCompile(`(?i)wp-content|wp-includes`)},
		{Name: "react", BodyMatch: regexp.MustCompile(`(?i)data-reactroot|__next_f|react-dom`)},
		{Name: "jquery", BodyMatch: regexp.MustCompile(`(?i)jquery(\.min)?\.js`)},
		{Name: "bootstrap", BodyMatch: regexp.MustCompile(`(?i)bootstrap(\.min)?\.css`)},
	}
}
