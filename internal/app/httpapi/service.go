// Package httpapi is the REST adapter of spec §6: a chi router exposing
// every project-scoped resource over JSON, guarded by X-API-Key + per-key
// project ACL auth, wrapped in the teacher's ambient middleware stack.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/riftwatch/easm/infrastructure/middleware"
	"github.com/riftwatch/easm/infrastructure/utils"
	"github.com/riftwatch/easm/internal/app"
	core "github.com/riftwatch/easm/internal/app/core/service"
	"github.com/riftwatch/easm/pkg/logger"
	"github.com/riftwatch/easm/pkg/metrics"
)

// Service is the lifecycle-managed HTTP front end: it owns the listener and
// hands every request to the router built by routes().
type Service struct {
	app    *app.Application
	log    *logger.Logger
	addr   string
	srv    *http.Server
	audit  *auditLog
	health *middleware.HealthChecker
}

// NewService builds the router and wraps it in the ambient middleware
// stack (security headers, CORS, recovery, body limit, timeout).
func NewService(a *app.Application) *Service {
	sink, err := newFileAuditSink("")
	if err != nil {
		sink = nil
	}
	s := &Service{
		app:    a,
		log:    a.Log,
		addr:   a.Config.ServerAddr,
		audit:  newAuditLog(500, newPostgresAuditSink(a.DB)),
		health: middleware.NewHealthChecker("easm"),
	}
	if sink != nil {
		s.audit = newAuditLog(500, sink)
	}
	s.health.RegisterCheck("database", func() error {
		if a.DB == nil {
			return nil
		}
		return a.DB.Ping()
	})

	handler := s.routes()
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  a.Config.ServerTimeout,
		WriteTimeout: a.Config.ServerTimeout,
	}
	return s
}

func (s *Service) routes() http.Handler {
	r := chi.NewRouter()

	cors := middleware.NewCORSMiddleware(&middleware.CORSConfig{AllowedOrigins: s.app.Config.CORSOrigins})
	secHeaders := middleware.NewSecurityHeadersMiddleware(nil)
	recovery := middleware.NewRecoveryMiddleware(s.log)
	bodyLimit := middleware.NewBodyLimitMiddleware(2 << 20)
	reqTimeout := middleware.NewTimeoutMiddleware(s.app.Config.ServerTimeout)

	r.Use(secHeaders.Handler)
	r.Use(cors.Handler)
	r.Use(recovery.Handler)
	r.Use(bodyLimit.Handler)
	r.Use(reqTimeout.Handler)
	r.Use(metrics.InstrumentHandler)
	r.Use(s.auditMiddleware)

	r.Get("/healthz", s.health.Handler())
	r.Get("/livez", middleware.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(api chi.Router) {
		api.Use(s.apiKeyAuth)

		api.Route("/projects", func(pr chi.Router) {
			pr.Post("/", s.createProject)
			pr.Get("/", s.listProjects)

			pr.Route("/{project_id}", func(p chi.Router) {
				p.Use(s.requireProjectAccess)

				p.Patch("/", s.updateProject)
				p.Delete("/", s.deleteProject)

				p.Post("/assets/import", s.importAssets)
				p.Get("/subdomains", s.listSubdomains)
				p.Get("/ips", s.listIPAddresses)
				p.Get("/ports", s.listPorts)
				p.Get("/web-assets", s.listWebAssets)
				p.Get("/js-assets", s.listJSAssets)
				p.Get("/api-endpoints", s.listAPIEndpoints)
				p.Get("/vulnerabilities", s.listVulnerabilities)
				p.Get("/api-risks", s.listAPIRiskFindings)
				p.Get("/risk/scores", s.listRiskScores)

				p.Post("/scans", s.createScanTask)
				p.Get("/scans", s.listScanTasks)

				p.Post("/policies", s.createPolicy)
				p.Get("/policies", s.listPolicies)
				p.Get("/policies/default", s.getDefaultPolicy)
				p.Patch("/policies/{policy_id}", s.updatePolicy)
				p.Post("/policies/{policy_id}/set-default", s.setDefaultPolicy)

				p.Post("/dag-templates", s.createDAGTemplate)
				p.Get("/dag-templates", s.listDAGTemplates)
				p.Patch("/dag-templates/{template_id}", s.updateDAGTemplate)

				p.Post("/dag-executions", s.createDAGExecution)
				p.Get("/dag-executions", s.listDAGExecutions)

				p.Post("/event-triggers", s.createTrigger)
				p.Get("/event-triggers", s.listTriggers)
				p.Patch("/event-triggers/{trigger_id}", s.updateTrigger)
				p.Post("/events/emit", s.emitEvent)
				p.Post("/events/emit-raw", s.emitRawEvent)

				p.Post("/notification-channels", s.createChannel)
				p.Get("/notification-channels", s.listChannels)
				p.Patch("/notification-channels/{channel_id}", s.updateChannel)

				p.Post("/alerts/policies", s.createAlertPolicy)
				p.Get("/alerts/policies", s.listAlertPolicies)
				p.Patch("/alerts/policies/{policy_id}", s.updateAlertPolicy)

				p.Get("/alerts", s.listAlertRecords)
			})
		})

		api.Route("/scans/{task_id}", func(t chi.Router) {
			t.Post("/start", s.startScanTask)
			t.Post("/pause", s.pauseScanTask)
			t.Post("/resume", s.resumeScanTask)
			t.Post("/cancel", s.cancelScanTask)
		})

		api.Route("/executions/{execution_id}", func(e chi.Router) {
			e.Post("/start", s.startDAGExecution)
			e.Post("/cancel", s.cancelDAGExecution)
		})

		api.Route("/alerts/{record_id}", func(ar chi.Router) {
			ar.Get("/", s.getAlertRecord)
			ar.Post("/ack", s.ackAlertRecord)
			ar.Post("/resolve", s.resolveAlertRecord)
		})
	})

	return r
}

func (s *Service) Name() string { return "httpapi" }

func (s *Service) Start(ctx context.Context) error {
	utils.SafeGo(func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http server stopped unexpectedly")
		}
	}, func(err error) {
		s.log.WithError(err).Error("http server goroutine panicked")
	})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "httpapi",
		Domain: "rest-adapter",
		Layer:  core.LayerIngress,
	}.WithCapabilities("project-crud", "asset-import", "scan-control", "dag-control", "alerting")
}
