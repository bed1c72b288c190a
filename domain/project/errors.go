package project

import "github.com/riftwatch/easm/internal/platform/apierr"

var (
	errEmptyName    = apierr.Validation("project name must not be empty")
	errNameTooLong  = apierr.Validation("project name exceeds 255 characters")
	errBadRateLimit = apierr.Validation("rate_limit_config values must be >= 1")
)
