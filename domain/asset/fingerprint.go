package asset

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// FingerprintHash returns the 32-hex-char stable dedup key for an
// observation: truncated SHA-256 of "{project_id}:{kind}:{normalized_value}".
// Fingerprints are intentionally not project-transferable — the project_id
// is baked into the hash input.
func FingerprintHash(projectID, kind, normalizedValue string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", projectID, kind, normalizedValue)))
	return hex.EncodeToString(sum[:])[:32]
}

// NormalizeURL lowercases scheme and host, strips the default port for the
// scheme (":80" on http, ":443" on https), and strips a trailing "/" unless
// the path is already just "/". It is idempotent: NormalizeURL(NormalizeURL(u)) == NormalizeURL(u).
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url missing scheme or host: %q", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()

	switch {
	case scheme == "http" && port == "80":
		port = ""
	case scheme == "https" && port == "443":
		port = ""
	}

	authority := host
	if port != "" {
		authority = host + ":" + port
	}

	path := u.Path
	if path == "" {
		path = "/"
	} else if path != "/" {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}

	out := scheme + "://" + authority + path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out, nil
}
