package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/riftwatch/easm/infrastructure/testutil"
	"github.com/riftwatch/easm/internal/app"
	"github.com/riftwatch/easm/internal/config"
	"github.com/riftwatch/easm/pkg/logger"
)

func testApplication(t *testing.T) *app.Application {
	t.Helper()
	cfg := &config.Config{
		RedisURL:         "redis://127.0.0.1:6379/0",
		AuthEnabled:      true,
		APIKeys:          []string{"test-key"},
		APIKeyProjectMap: map[string][]string{"test-key": {"*"}},
		CORSOrigins:      []string{"*"},
		ServerAddr:       ":0",
		ServerTimeout:    5 * time.Second,
		WorkerPoolSize:   1,
		Logging:          logger.LoggingConfig{Level: "error", Format: "text", Output: "stdout"},
	}
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return a
}

func TestHealthzOverRealListener(t *testing.T) {
	a := testApplication(t)
	handler := NewService(a).routes()
	srv := testutil.NewHTTPTestServer(t, handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
}

func TestCreateAndListProjects(t *testing.T) {
	a := testApplication(t)
	handler := NewService(a).routes()

	body, _ := json.Marshal(map[string]any{"name": "acme-corp", "description": "demo tenant"})
	req := httptest.NewRequest(http.MethodPost, "/projects/", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "test-key")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: want 201, got %d body=%s", rec.Code, rec.Body.String())
	}

	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created project: %v", err)
	}
	if created["name"] != "acme-corp" {
		t.Fatalf("unexpected project name: %v", created["name"])
	}

	listReq := httptest.NewRequest(http.MethodGet, "/projects/", nil)
	listReq.Header.Set("X-API-Key", "test-key")
	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list projects: want 200, got %d", listRec.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(listRec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode project list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 project, got %d", len(list))
	}
}

func TestRequireAPIKey(t *testing.T) {
	a := testApplication(t)
	handler := NewService(a).routes()

	req := httptest.NewRequest(http.MethodGet, "/projects/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 without API key, got %d", rec.Code)
	}
}

func TestProjectACLForbidsUnlistedProject(t *testing.T) {
	a := testApplication(t)
	a.Config.APIKeyProjectMap = map[string][]string{"test-key": {"00000000-0000-0000-0000-000000000001"}}
	handler := NewService(a).routes()

	req := httptest.NewRequest(http.MethodPatch, "/projects/00000000-0000-0000-0000-000000000002/", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("want 403 for a project outside the key's ACL, got %d", rec.Code)
	}
}
