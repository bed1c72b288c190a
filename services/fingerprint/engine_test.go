package fingerprint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFingerprintMatchesHeaderAndBodyRules(t *testing.T) {
	ResetForTest()
	e := New(DefaultRules())

	headers := map[string][]string{"Server": {"nginx/1.21.0"}}
	body := []byte(`<html><script src="/wp-content/themes/x/app.js"></script></html>`)

	techs := e.Fingerprint(context.Background(), "https://example.com", headers, body)
	require.Contains(t, techs, "nginx")
	require.Contains(t, techs, "wordpress")
}

func TestFingerprintCachesByURL(t *testing.T) {
	ResetForTest()
	e := New(DefaultRules())
	ctx := context.Background()

	first := e.Fingerprint(ctx, "https://example.com", map[string][]string{"Server": {"Apache"}}, nil)
	require.Contains(t, first, "apache")

	// A second call with different headers for the same URL must return the
	// cached result, not re-match against the new headers.
	second := e.Fingerprint(ctx, "https://example.com", map[string][]string{"Server": {"nginx"}}, nil)
	require.Equal(t, first, second)
}

func TestInitIsIdempotentAndResettable(t *testing.T) {
	ResetForTest()
	a := Init(DefaultRules())
	b := Init(nil)
	require.Same(t, a, b)

	ResetForTest()
	c := Get()
	require.NotSame(t, a, c)
}
