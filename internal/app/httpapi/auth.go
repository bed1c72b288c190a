package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/riftwatch/easm/infrastructure/httputil"
)

type ctxKey string

const ctxKeyAPIKey ctxKey = "api_key"

// apiKeyAuth implements spec §6's X-API-Key check: when auth is disabled
// every request passes; otherwise the header must match one of the
// configured keys. Per-project ACL enforcement happens in
// requireProjectAccess, once the project_id path param is known.
func (s *Service) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.app.Config.AuthEnabled {
			next.ServeHTTP(w, r)
			return
		}

		key := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if key == "" || !s.isKnownKey(key) {
			httputil.Unauthorized(w, "missing or invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAPIKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) isKnownKey(key string) bool {
	for _, k := range s.app.Config.APIKeys {
		if k == key {
			return true
		}
	}
	return false
}

// requireProjectAccess enforces the per-key project ACL of spec §6: the
// key's allow-list must contain "*" or the path's project_id.
func (s *Service) requireProjectAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.app.Config.AuthEnabled {
			next.ServeHTTP(w, r)
			return
		}

		projectID := chi.URLParam(r, "project_id")
		key, _ := r.Context().Value(ctxKeyAPIKey).(string)
		allowed, ok := s.app.Config.APIKeyProjectMap[key]

		if !ok || !aclAllows(allowed, projectID) {
			httputil.WriteErrorResponse(w, r, http.StatusForbidden, "forbidden", "API key is not permitted for this project", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func aclAllows(acl []string, projectID string) bool {
	for _, entry := range acl {
		if entry == "*" || entry == projectID {
			return true
		}
	}
	return false
}
