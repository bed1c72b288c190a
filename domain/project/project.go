// Package project defines the root tenancy scope every other EASM entity is
// scoped under.
package project

import "time"

// RateLimitConfig bounds how aggressively scans may run against a project's
// targets. Both fields are merged with a per-task override in the rate
// limiter (scan §4.2).
type RateLimitConfig struct {
	MaxRequestsPerSecond int `json:"max_requests_per_second"`
	MaxConcurrentScans   int `json:"max_concurrent_scans"`
}

// DefaultRateLimitConfig is applied to a project created without an explicit
// rate_limit_config.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{MaxRequestsPerSecond: 5, MaxConcurrentScans: 3}
}

// Project is the root tenancy scope. Name is unique across the store;
// deleting a Project cascades through every project-scoped entity in the
// order fixed by the asset graph store (leaves before roots).
type Project struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	RateLimitConfig RateLimitConfig `json:"rate_limit_config"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Validate enforces the invariants a Project must hold before being
// persisted: a non-empty, reasonably bounded name and a sane rate-limit
// config.
func (p *Project) Validate() error {
	if p.Name == "" {
		return errEmptyName
	}
	if len(p.Name) > 255 {
		return errNameTooLong
	}
	if p.RateLimitConfig.MaxRequestsPerSecond < 1 {
		return errBadRateLimit
	}
	if p.RateLimitConfig.MaxConcurrentScans < 1 {
		return errBadRateLimit
	}
	return nil
}
