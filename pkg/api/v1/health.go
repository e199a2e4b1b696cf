package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/labfleet/repair-engine/internal/coordination"
	"github.com/labfleet/repair-engine/internal/rbac"
	"github.com/labfleet/repair-engine/pkg/models"
)

// HealthChecker is implemented by optional external services
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// breakerReporter is implemented by clients guarded by a circuit breaker
type breakerReporter interface {
	BreakerState() string
}

// AccessVerifier reports the Kubernetes permissions the inventory needs
type AccessVerifier interface {
	VerifyAll(ctx context.Context) []rbac.PermissionCheckResult
}

// HealthHandler handles health check requests
type HealthHandler struct {
	log       *logrus.Logger
	coord     *coordination.Coordinator
	power     HealthChecker
	access    AccessVerifier
	version   string
	startTime time.Time
	timeout   time.Duration
}

// NewHealthHandler creates a new health handler. power and access may be nil
// when the power service or the ConfigMap inventory are not in use.
func NewHealthHandler(log *logrus.Logger, coord *coordination.Coordinator, power HealthChecker, access AccessVerifier, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		log:       log,
		coord:     coord,
		power:     power,
		access:    access,
		version:   version,
		startTime: startTime,
		timeout:   5 * time.Second,
	}
}

// ServeHTTP handles GET /api/v1/health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	health := models.NewHealthResponse(h.version, h.startTime)
	for _, s := range h.coord.Strategies() {
		health.Strategies = append(health.Strategies, s.Name())
	}
	health.ActiveRuns = h.coord.ActiveRuns()

	health.AddDependency(h.checkInventory(ctx))
	if h.power != nil {
		health.AddDependency(h.checkPowerService(ctx))
	}
	if h.access != nil {
		health.SetAccessStatus(rbac.AccessStatus(h.access.VerifyAll(ctx)))
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == models.HealthStatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(health); err != nil {
		h.log.WithError(err).Error("Failed to encode health response")
	}
}

// checkInventory lists the inventory. Without it no host can be resolved.
func (h *HealthHandler) checkInventory(ctx context.Context) *models.DependencyHealth {
	start := time.Now()
	dep := &models.DependencyHealth{
		Name:      "inventory",
		Critical:  true,
		CheckedAt: start,
	}

	hosts, err := h.coord.Inventory().List(ctx)
	latency := time.Since(start).Milliseconds()
	dep.Latency = &latency

	if err != nil {
		dep.Status = models.ComponentStatusDown
		dep.Message = fmt.Sprintf("Failed to list hosts: %v", err)
		h.log.WithError(err).Warn("Inventory health check failed")
		return dep
	}
	dep.Status = models.ComponentStatusOK
	dep.Message = fmt.Sprintf("%d hosts", len(hosts))
	return dep
}

// checkPowerService pings the power service. Only rpm repairs need it.
func (h *HealthHandler) checkPowerService(ctx context.Context) *models.DependencyHealth {
	start := time.Now()
	dep := &models.DependencyHealth{
		Name:      "power_service",
		CheckedAt: start,
	}

	err := h.power.HealthCheck(ctx)
	latency := time.Since(start).Milliseconds()
	dep.Latency = &latency

	breaker := ""
	if br, ok := h.power.(breakerReporter); ok {
		breaker = br.BreakerState()
	}

	if err != nil {
		dep.Status = models.ComponentStatusDegraded
		dep.Message = fmt.Sprintf("Unreachable: %v", err)
		if breaker == "open" {
			dep.Message = fmt.Sprintf("Circuit breaker open: %v", err)
		}
		h.log.WithError(err).Debug("Power service health check failed (non-critical)")
		return dep
	}
	dep.Status = models.ComponentStatusOK
	dep.Message = "Connected"
	if breaker != "" && breaker != "closed" {
		dep.Message = fmt.Sprintf("Connected (circuit breaker %s)", breaker)
	}
	return dep
}
