// Package fingerprint implements the technology-detection engine of spec §5:
// a rule-based matcher over HTTP response headers and bodies, backed by a
// process-wide TTL cache so repeated probes of the same normalized URL don't
// re-run every rule.
package fingerprint

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/riftwatch/easm/infrastructure/cache"
)

type Engine struct {
	rules []Rule
	cache *cache.TTLCache
}

var (
	initOnce sync.Once
	instance *Engine
	mu       sync.Mutex
)

// Init lazily constructs the process-wide engine singleton with rules. It is
// idempotent: calling it again with the engine already built is a no-op, so
// multiple Application wiring paths can call it safely (spec §5 "lazily
// initialized; their init is idempotent and thread-safe").
func Init(rules []Rule) *Engine {
	mu.Lock()
	defer mu.Unlock()
	initOnce.Do(func() {
		instance = New(rules)
	})
	return instance
}

// Get returns the singleton, lazily initializing it with DefaultRules if no
// caller has called Init yet.
func Get() *Engine {
	mu.Lock()
	if instance != nil {
		defer mu.Unlock()
		return instance
	}
	mu.Unlock()
	return Init(DefaultRules())
}

// ResetForTest tears down the singleton so tests can re-initialize it with a
// fresh rule set and an empty cache (spec §5 "support explicit reset for
// tests").
func ResetForTest() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	initOnce = sync.Once{}
}

func New(rules []Rule) *Engine {
	return &Engine{rules: rules, cache: cache.NewTTLCache(10 * time.Minute)}
}

// Fingerprint implements services/scanrunner.Fingerprinter. Results are
// cached per normalized URL for the engine's TTL.
func (e *Engine) Fingerprint(ctx context.Context, url string, headers map[string][]string, body []byte) []string {
	if cached, ok := e.cache.Get(ctx, url); ok {
		if techs, ok := cached.([]string); ok {
			return techs
		}
	}

	found := map[string]bool{}
	for _, rule := range e.rules {
		if rule.HeaderMatch != nil {
			// headers may arrive either http.Header-canonicalized or as a
			// plain map, so match the key case-insensitively.
			for k, vs := range headers {
				if !strings.EqualFold(k, rule.HeaderKey) {
					continue
				}
				for _, v := range vs {
					if rule.HeaderMatch.MatchString(v) {
						found[rule.Name] = true
					}
				}
			}
		}
		if rule.BodyMatch != nil && len(body) > 0 && rule.BodyMatch.Match(body) {
			found[rule.Name] = true
		}
	}

	techs := make([]string, 0, len(found))
	for name := range found {
		techs = append(techs, name)
	}
	sort.Strings(techs)

	e.cache.Set(ctx, url, techs)
	return techs
}
