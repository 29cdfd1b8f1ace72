// Package handler provides HTTP handlers for the import API.
package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/bulkimport/bulkimport/internal/api/models"
	"github.com/bulkimport/bulkimport/internal/api/response"
	"github.com/bulkimport/bulkimport/internal/resilience"
)

const pingTimeout = 2 * time.Second

// Pinger checks a backing subsystem such as the task store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JobStats reports job counters of the worker.
type JobStats interface {
	Snapshot() map[string]interface{}
}

// OpsHandlerConfig holds configuration for the ops handler.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string
	// Subsystems are pinged by the readiness and status checks.
	Subsystems map[string]Pinger
	// Origins tracks the outbound origins. Optional.
	Origins *resilience.Health
	// Jobs reports in-process job counters. Optional.
	Jobs JobStats
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version    string
	buildTime  string
	subsystems map[string]Pinger
	origins    *resilience.Health
	jobs       JobStats
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	return &OpsHandler{
		version:    cfg.Version,
		buildTime:  cfg.BuildTime,
		subsystems: cfg.Subsystems,
		origins:    cfg.Origins,
		jobs:       cfg.Jobs,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check. It fails
// while any subsystem does not answer a ping.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems := h.pingSubsystems(r.Context())

	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}
	for _, s := range subsystems {
		if s.Status != models.HealthStatusOK {
			health.Status = models.HealthStatusFail
			if health.Details == nil {
				health.Details = map[string]interface{}{}
			}
			health.Details[s.Name] = *s.Detail
		}
	}

	status := http.StatusOK
	if health.Status != models.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /v1/ops/status - subsystem, origin and job status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: h.pingSubsystems(r.Context()),
		Origins:    h.originStatuses(),
	}
	if h.jobs != nil {
		status.Jobs = h.jobs.Snapshot()
	}

	for _, s := range status.Subsystems {
		status.Status = worst(status.Status, s.Status)
	}
	for _, o := range status.Origins {
		// An open circuit degrades the service; subsystems decide failure.
		if o.Status != models.HealthStatusOK {
			status.Status = worst(status.Status, models.HealthStatusDegraded)
		}
	}
	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) pingSubsystems(ctx context.Context) []models.SubsystemStatus {
	names := make([]string, 0, len(h.subsystems))
	for name := range h.subsystems {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]models.SubsystemStatus, 0, len(names))
	for _, name := range names {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := h.subsystems[name].Ping(pingCtx)
		cancel()

		s := models.SubsystemStatus{Name: name, Status: models.HealthStatusOK}
		if err != nil {
			detail := err.Error()
			s.Status = models.HealthStatusFail
			s.Detail = &detail
		}
		out = append(out, s)
	}
	return out
}

func (h *OpsHandler) originStatuses() []models.OriginStatus {
	if h.origins == nil {
		return []models.OriginStatus{}
	}

	snapshot := h.origins.Snapshot()
	out := make([]models.OriginStatus, 0, len(snapshot))
	for _, o := range snapshot {
		s := models.OriginStatus{
			Origin:        o.Name,
			Status:        originHealth(o.State),
			CircuitState:  o.State,
			LastSuccessAt: timestamp(o.LastSuccessAt),
			LastFailureAt: timestamp(o.LastFailureAt),
		}
		if o.LastError != "" {
			msg := o.LastError
			s.Message = &msg
		}
		out = append(out, s)
	}
	return out
}

func originHealth(circuitState string) models.HealthStatus {
	switch circuitState {
	case "closed":
		return models.HealthStatusOK
	case "half-open":
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusFail
	}
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func timestamp(t *time.Time) *models.Timestamp {
	if t == nil {
		return nil
	}
	ts := models.Timestamp(*t)
	return &ts
}
