package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/riftwatch/easm/infrastructure/httputil"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// auditMiddleware records every request's outcome, independent of the
// structured application log, so access history survives a log-level change.
func (s *Service) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		key, _ := r.Context().Value(ctxKeyAPIKey).(string)
		s.audit.add(auditEntry{
			Time:       time.Now(),
			User:       key,
			Tenant:     chi.URLParam(r, "project_id"),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: httputil.ClientIP(r),
			UserAgent:  r.UserAgent(),
		})
	})
}
