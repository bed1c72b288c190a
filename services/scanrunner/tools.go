package scanrunner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/riftwatch/easm/internal/platform/apierr"
)

// commonPorts is the pure-Go port-scan fallback's target set, used only
// when nmap is absent from PATH (spec §5 "Fallbacks").
var commonPorts = []int{21, 22, 23, 25, 53, 80, 110, 143, 443, 445, 993, 995,
	1433, 1521, 3000, 3306, 3389, 5432, 5900, 6379, 8000, 8080, 8443, 9200, 27017}

// seedSubdomains backs the subdomain-enumeration fallback when subfinder is
// unavailable: a small, deliberately short, conventional label list.
var seedSubdomains = []string{"www", "api", "dev", "staging", "admin", "mail",
	"vpn", "portal", "app", "cdn", "static", "test", "beta", "m", "blog"}

// toolPath looks up name on PATH, returning "" if absent so callers can
// select the pure-Go fallback instead of failing the task.
func toolPath(name string) string {
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	return path
}

// runTool executes name with args under a timeout, returning combined
// stdout. Never routes args through a shell — exec.CommandContext passes
// argv directly, so there is no interpolation surface.
func runTool(ctx context.Context, timeout time.Duration, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", apierr.Timeout(name)
		}
		return "", apierr.ToolFailure(name, err)
	}
	return out.String(), nil
}

// subfinderEnumerate runs subfinder if present, else falls back to
// resolving a fixed seed list of conventional labels under the domain.
func subfinderEnumerate(ctx context.Context, domain string) ([]string, bool, error) {
	if bin := toolPath("subfinder"); bin != "" {
		out, err := runTool(ctx, 300*time.Second, bin, "-d", domain, "-silent")
		if err != nil {
			return nil, false, err
		}
		return splitLines(out), false, nil
	}

	var found []string
	for _, label := range seedSubdomains {
		host := label + "." + domain
		if _, err := net.LookupHost(host); err == nil {
			found = append(found, host)
		}
	}
	return found, true, nil
}

// dnsResolve is always pure Go: it is not one of the opaque subprocess
// tools listed in spec §3.
func dnsResolve(host string) ([]string, error) {
	ips, err := net.LookupHost(host)
	if err != nil {
		return nil, apierr.ToolFailure("dns_resolve", err)
	}
	return ips, nil
}

// portScan runs nmap if present, else a pure-Go TCP connect scan over
// commonPorts (spec §5 "socket connect for port scan").
func portScan(ctx context.Context, target string) ([]openPort, bool, error) {
	if bin := toolPath("nmap"); bin != "" {
		out, err := runTool(ctx, 120*time.Second, bin, "-p-", "-T4", "-oG", "-", target)
		if err != nil {
			return nil, false, err
		}
		return parseNmapGrepable(out), false, nil
	}

	var open []openPort
	for _, port := range commonPorts {
		addr := fmt.Sprintf("%s:%d", target, port)
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err != nil {
			continue
		}
		conn.Close()
		open = append(open, openPort{Port: port, Protocol: "tcp"})
	}
	return open, true, nil
}

type openPort struct {
	Port     int
	Protocol string
	Banner   string
}

// parseNmapGrepable extracts open ports from `nmap -oG -` output lines of
// the form "Ports: 80/open/tcp//http///, 443/open/tcp//https///".
func parseNmapGrepable(out string) []openPort {
	var ports []openPort
	for _, line := range splitLines(out) {
		idx := strings.Index(line, "Ports: ")
		if idx < 0 {
			continue
		}
		for _, field := range strings.Split(line[idx+len("Ports: "):], ", ") {
			parts := strings.Split(field, "/")
			if len(parts) < 3 || parts[1] != "open" {
				continue
			}
			var port int
			fmt.Sscanf(parts[0], "%d", &port)
			if port > 0 {
				ports = append(ports, openPort{Port: port, Protocol: parts[2]})
			}
		}
	}
	return ports
}

// httpProbe runs httpx if present, else a pure-Go net/http GET (spec §5
// "urllib for HTTP probe").
func httpProbe(ctx context.Context, url string) (status int, title string, headers http.Header, fallback bool, err error) {
	if bin := toolPath("httpx"); bin != "" {
		out, runErr := runTool(ctx, 15*time.Second, bin, "-json", "-u", url)
		if runErr != nil {
			return 0, "", nil, false, runErr
		}
		st, ttl := parseHTTPXLine(out)
		return st, ttl, nil, false, nil
	}

	client := &http.Client{Timeout: 10 * time.Second}
	req, reqErr := httpGetRequest(ctx, url)
	if reqErr != nil {
		return 0, "", nil, true, apierr.Validation("invalid probe url: %v", reqErr)
	}
	resp, doErr := client.Do(req)
	if doErr != nil {
		return 0, "", nil, true, apierr.ToolFailure("http_probe", doErr)
	}
	defer resp.Body.Close()
	return resp.StatusCode, extractTitle(resp), resp.Header, true, nil
}

// parseHTTPXLine is a minimal extractor over httpx's JSON-lines output; a
// production build would use encoding/json against httpx's full schema.
func parseHTTPXLine(out string) (status int, title string) {
	line := strings.TrimSpace(firstLine(out))
	if line == "" {
		return 0, ""
	}
	if idx := strings.Index(line, `"status_code":`); idx >= 0 {
		fmt.Sscanf(line[idx+len(`"status_code":`):], "%d", &status)
	}
	if idx := strings.Index(line, `"title":"`); idx >= 0 {
		rest := line[idx+len(`"title":"`):]
		if end := strings.IndexByte(rest, '"'); end >= 0 {
			title = rest[:end]
		}
	}
	return status, title
}

func splitLines(s string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
