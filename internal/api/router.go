// Package api provides the HTTP API of the bulk importer.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/api/handler"
	"github.com/bulkimport/bulkimport/internal/api/middleware"
	"github.com/bulkimport/bulkimport/internal/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	// Reporter captures recovered panics. Optional.
	Reporter middleware.PanicReporter

	// Tasks is the import service behind the task endpoints.
	Tasks handler.TaskService
	// MaxSourceFileBytes bounds source file uploads.
	MaxSourceFileBytes int64

	// Token is the shared bearer token. Empty disables authentication.
	Token string
	// JWTSigningKey makes operators authenticate with signed tokens. The
	// token subject is recorded as the task owner.
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	// RequireTLS rejects plain HTTP requests forwarded by a load balancer.
	RequireTLS bool

	// Subsystems are pinged by the readiness and status checks.
	Subsystems map[string]handler.Pinger
	Origins    *resilience.Health
	Jobs       handler.JobStats
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "bulkimport-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))                 // Structured logging
	r.Use(middleware.Recovery(cfg.Logger, cfg.Reporter)) // Panic recovery
	r.Use(chimiddleware.RealIP)                          // Real IP extraction
	r.Use(middleware.SecurityHeaders)                    // Security headers
	r.Use(middleware.RequireTLS(cfg.RequireTLS))         // TLS enforcement
	r.Use(middleware.ContentTypeJSON)                    // JSON content type

	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:    cfg.Version,
		BuildTime:  cfg.BuildTime,
		Subsystems: cfg.Subsystems,
		Origins:    cfg.Origins,
		Jobs:       cfg.Jobs,
	})
	taskHandler := handler.NewTaskHandler(handler.TaskHandlerConfig{
		Service:            cfg.Tasks,
		MaxSourceFileBytes: cfg.MaxSourceFileBytes,
		Logger:             cfg.Logger.With().Str("component", "tasks").Logger(),
	})

	operator := middleware.Operator(middleware.OperatorConfig{
		Token:      cfg.Token,
		SigningKey: cfg.JWTSigningKey,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
	})

	uploadRateLimit := middleware.RateLimitByOperator(middleware.UploadRateLimit)     // 10 req/min
	controlRateLimit := middleware.RateLimitByOperator(middleware.ControlRateLimit)   // 30 req/min
	standardRateLimit := middleware.RateLimitByOperator(middleware.StandardRateLimit) // 120 req/min

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(operator).Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Use(operator)

			r.With(standardRateLimit).Get("/", taskHandler.ListTasks)
			r.With(controlRateLimit, middleware.RequireJSON).Post("/", taskHandler.CreateTask)

			r.Route("/{taskId}", func(r chi.Router) {
				r.With(standardRateLimit).Get("/", taskHandler.GetTask)
				r.With(uploadRateLimit).Put("/source-file", taskHandler.UploadSourceFile)
				r.With(uploadRateLimit).Put("/files/*", taskHandler.UploadTaskFile)
				r.With(standardRateLimit).Get("/files", taskHandler.ListTaskFiles)
				r.With(controlRateLimit, middleware.RequireJSON).Put("/options", taskHandler.UpdateOptions)

				r.Group(func(r chi.Router) {
					r.Use(controlRateLimit)
					r.Post("/validation", taskHandler.BeginValidation)
					r.Post("/import", taskHandler.BeginImport)
					r.Post("/recompute", taskHandler.RecomputeStatus)
					r.Post("/records/{recordId}/run", taskHandler.RunRecord)
				})

				r.With(standardRateLimit).Get("/records", taskHandler.ListRecords)
				r.With(standardRateLimit).Get("/records/{recordId}", taskHandler.GetRecord)
			})
		})

		r.With(operator, standardRateLimit).Get("/config/{recordType}", taskHandler.RecordTypeConfig)
	})

	return r
}
