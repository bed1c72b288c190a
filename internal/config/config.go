// Package config loads EASM_-prefixed environment configuration, matching
// the teacher's internal/config idiom: a typed struct, small getEnv/
// getIntEnv/getBoolEnv/getDurationEnv helpers, and a Validate() that enforces
// boot-time invariants before the application wires any service.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/riftwatch/easm/pkg/logger"
)

// Config is the complete set of EASM_-prefixed environment knobs.
type Config struct {
	DatabaseURL string
	RedisURL    string

	AuthEnabled bool
	APIKeys     []string
	// APIKeyProjectMap is the per-key project ACL of spec §6: each API key
	// maps to a list of project UUIDs it may access, or ["*"] for all
	// projects.
	APIKeyProjectMap map[string][]string

	ScanVerifyTLS bool
	CORSOrigins   []string
	ScreenshotDir string
	FingerprintDB string

	ServerAddr     string
	ServerTimeout  time.Duration
	WorkerPoolSize int

	Logging logger.LoggingConfig
}

// Load reads a .env file (if present) then populates Config from the
// process environment, applying defaults for anything unset.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile) // optional; missing .env is not an error

	cfg := &Config{
		DatabaseURL:    getEnv("EASM_DATABASE_URL", ""),
		RedisURL:       getEnv("EASM_REDIS_URL", "redis://localhost:6379/0"),
		AuthEnabled:    getBoolEnv("EASM_AUTH_ENABLED", true),
		APIKeys:        splitCSV(getEnv("EASM_API_KEYS", "")),
		ScanVerifyTLS:  getBoolEnv("EASM_SCAN_VERIFY_TLS", true),
		CORSOrigins:    splitCSV(getEnv("EASM_CORS_ORIGINS", "*")),
		ScreenshotDir:  getEnv("EASM_SCREENSHOT_DIR", "./screenshots"),
		FingerprintDB:  getEnv("EASM_FINGERPRINT_DB", ""),
		ServerAddr:     getEnv("EASM_SERVER_ADDR", ":8080"),
		ServerTimeout:  getDurationEnv("EASM_SERVER_TIMEOUT", 30*time.Second),
		WorkerPoolSize: getIntEnv("EASM_WORKER_POOL_SIZE", 8),
		Logging: logger.LoggingConfig{
			Level:      getEnv("EASM_LOG_LEVEL", "info"),
			Format:     getEnv("EASM_LOG_FORMAT", "text"),
			Output:     getEnv("EASM_LOG_OUTPUT", "stdout"),
			FilePrefix: getEnv("EASM_LOG_FILE_PREFIX", "easm"),
		},
	}

	raw := getEnv("EASM_API_KEY_PROJECT_MAP", "")
	if raw != "" {
		var m map[string][]string
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("parse EASM_API_KEY_PROJECT_MAP: %w", err)
		}
		cfg.APIKeyProjectMap = m
	} else {
		cfg.APIKeyProjectMap = map[string][]string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the boot-time invariants of spec §6's validate_runtime:
// auth enabled demands at least one non-empty API key, the project map must
// be well-formed JSON (already checked in Load), and a Redis host of
// "redis" (the docker-compose service name) must use the canonical port.
func (c *Config) Validate() error {
	if c.AuthEnabled {
		if len(c.APIKeys) == 0 {
			return fmt.Errorf("EASM_AUTH_ENABLED is true but EASM_API_KEYS is empty")
		}
		for _, k := range c.APIKeys {
			if strings.TrimSpace(k) == "" {
				return fmt.Errorf("EASM_API_KEYS contains an empty key")
			}
		}
	}

	u, err := url.Parse(c.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid EASM_REDIS_URL: %w", err)
	}
	if u.Hostname() == "redis" && u.Port() != "" && u.Port() != "6379" {
		return fmt.Errorf("EASM_REDIS_URL host %q must use port 6379, got %q", u.Hostname(), u.Port())
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getBoolEnv(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
