package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EASM_DATABASE_URL", "")
	t.Setenv("EASM_REDIS_URL", "")
	t.Setenv("EASM_AUTH_ENABLED", "false")
	t.Setenv("EASM_API_KEYS", "")
	t.Setenv("EASM_API_KEY_PROJECT_MAP", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("expected default redis url, got %s", cfg.RedisURL)
	}
	if cfg.ServerAddr != ":8080" {
		t.Errorf("expected default server addr :8080, got %s", cfg.ServerAddr)
	}
	if cfg.WorkerPoolSize != 8 {
		t.Errorf("expected default worker pool size 8, got %d", cfg.WorkerPoolSize)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("expected default cors origins [*], got %v", cfg.CORSOrigins)
	}
}

func TestLoadParsesAPIKeyProjectMap(t *testing.T) {
	t.Setenv("EASM_AUTH_ENABLED", "true")
	t.Setenv("EASM_API_KEYS", "key-one,key-two")
	t.Setenv("EASM_API_KEY_PROJECT_MAP", `{"key-one":["*"],"key-two":["11111111-1111-1111-1111-111111111111"]}`)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("expected 2 api keys, got %d", len(cfg.APIKeys))
	}
	if acl := cfg.APIKeyProjectMap["key-one"]; len(acl) != 1 || acl[0] != "*" {
		t.Errorf("expected key-one ACL [*], got %v", acl)
	}
	if acl := cfg.APIKeyProjectMap["key-two"]; len(acl) != 1 || acl[0] != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("expected key-two scoped ACL, got %v", acl)
	}
}

func TestLoadRejectsMalformedAPIKeyProjectMap(t *testing.T) {
	t.Setenv("EASM_AUTH_ENABLED", "false")
	t.Setenv("EASM_API_KEY_PROJECT_MAP", `not-json`)

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for malformed EASM_API_KEY_PROJECT_MAP")
	}
}

func TestValidateRequiresAPIKeysWhenAuthEnabled(t *testing.T) {
	cfg := &Config{AuthEnabled: true, RedisURL: "redis://localhost:6379/0"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when auth is enabled with no API keys")
	}
}

func TestValidateRejectsNonCanonicalRedisPortForComposeHost(t *testing.T) {
	cfg := &Config{RedisURL: "redis://redis:6380/0"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-canonical redis port on the compose host")
	}
}

func TestValidateAcceptsCanonicalRedisPortForComposeHost(t *testing.T) {
	cfg := &Config{RedisURL: "redis://redis:6379/0"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
