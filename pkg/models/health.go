package models

import "time"

// HealthStatus represents the overall health status of the service
type HealthStatus string

const (
	// HealthStatusHealthy indicates all dependencies are operational
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded indicates a non-critical dependency has issues
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy indicates a critical dependency is down
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the status of an individual dependency
type ComponentStatus string

const (
	ComponentStatusOK       ComponentStatus = "ok"
	ComponentStatusDegraded ComponentStatus = "degraded"
	ComponentStatusDown     ComponentStatus = "down"
)

// DependencyHealth represents the health of an external dependency
type DependencyHealth struct {
	Name      string          `json:"name"`
	Status    ComponentStatus `json:"status"`
	Critical  bool            `json:"critical"`
	Message   string          `json:"message,omitempty"`
	Latency   *int64          `json:"latency_ms,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
}

// AccessStatus reports the Kubernetes permissions the inventory needs
type AccessStatus struct {
	Status     ComponentStatus `json:"status"`
	Checked    int             `json:"checked"`
	Denied     int             `json:"denied"`
	CriticalOK bool            `json:"critical_ok"`
	Message    string          `json:"message,omitempty"`
}

// HealthResponse is the service health check response
type HealthResponse struct {
	Status       HealthStatus                `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version"`
	Uptime       int64                       `json:"uptime_seconds"`
	Strategies   []string                    `json:"strategies"`
	ActiveRuns   int                         `json:"active_runs"`
	Dependencies map[string]DependencyHealth `json:"dependencies"`
	Access       *AccessStatus               `json:"access,omitempty"`
}

// NewHealthResponse creates a healthy response for the given build
func NewHealthResponse(version string, startTime time.Time) *HealthResponse {
	return &HealthResponse{
		Status:       HealthStatusHealthy,
		Timestamp:    time.Now(),
		Version:      version,
		Uptime:       int64(time.Since(startTime).Seconds()),
		Strategies:   []string{},
		Dependencies: make(map[string]DependencyHealth),
	}
}

// AddDependency records a dependency result and folds it into the overall status
func (h *HealthResponse) AddDependency(dep *DependencyHealth) {
	h.Dependencies[dep.Name] = *dep

	switch dep.Status {
	case ComponentStatusDown:
		if dep.Critical {
			h.Status = HealthStatusUnhealthy
		} else {
			h.degrade()
		}
	case ComponentStatusDegraded:
		h.degrade()
	}
}

// SetAccessStatus records the permission check and folds it into the overall status
func (h *HealthResponse) SetAccessStatus(access AccessStatus) {
	h.Access = &access

	if !access.CriticalOK {
		h.Status = HealthStatusUnhealthy
	} else if access.Denied > 0 {
		h.degrade()
	}
}

func (h *HealthResponse) degrade() {
	if h.Status == HealthStatusHealthy {
		h.Status = HealthStatusDegraded
	}
}
