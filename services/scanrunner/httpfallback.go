package scanrunner

import (
	"context"
	"io"
	"net/http"
	"regexp"
)

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

func httpGetRequest(ctx context.Context, url string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
}

// extractTitle reads up to 64KB of the response body looking for a <title>
// tag; it never buffers the whole body to bound memory on large pages.
func extractTitle(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	m := titleRe.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return string(m[1])
}
