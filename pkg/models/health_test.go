package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewHealthResponse(t *testing.T) {
	startTime := time.Now().Add(-5 * time.Minute)

	health := NewHealthResponse("1.0.0", startTime)

	assert.Equal(t, HealthStatusHealthy, health.Status)
	assert.Equal(t, "1.0.0", health.Version)
	assert.GreaterOrEqual(t, health.Uptime, int64(300))
	assert.NotNil(t, health.Dependencies)
	assert.Nil(t, health.Access)
}

func TestHealthResponse_AddDependency(t *testing.T) {
	tests := []struct {
		name     string
		dep      DependencyHealth
		expected HealthStatus
	}{
		{
			name:     "ok dependency keeps healthy",
			dep:      DependencyHealth{Name: "inventory", Status: ComponentStatusOK, Critical: true},
			expected: HealthStatusHealthy,
		},
		{
			name:     "degraded dependency degrades",
			dep:      DependencyHealth{Name: "power_service", Status: ComponentStatusDegraded},
			expected: HealthStatusDegraded,
		},
		{
			name:     "critical dependency down is unhealthy",
			dep:      DependencyHealth{Name: "inventory", Status: ComponentStatusDown, Critical: true},
			expected: HealthStatusUnhealthy,
		},
		{
			name:     "non-critical dependency down degrades",
			dep:      DependencyHealth{Name: "power_service", Status: ComponentStatusDown},
			expected: HealthStatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health := NewHealthResponse("1.0.0", time.Now())
			dep := tt.dep
			dep.CheckedAt = time.Now()

			health.AddDependency(&dep)

			assert.Equal(t, tt.expected, health.Status)
			assert.Contains(t, health.Dependencies, tt.dep.Name)
		})
	}
}

func TestHealthResponse_UnhealthyIsSticky(t *testing.T) {
	health := NewHealthResponse("1.0.0", time.Now())

	health.AddDependency(&DependencyHealth{Name: "inventory", Status: ComponentStatusDown, Critical: true})
	health.AddDependency(&DependencyHealth{Name: "power_service", Status: ComponentStatusDegraded})

	assert.Equal(t, HealthStatusUnhealthy, health.Status)
}

func TestHealthResponse_SetAccessStatus(t *testing.T) {
	health := NewHealthResponse("1.0.0", time.Now())
	health.SetAccessStatus(AccessStatus{Status: ComponentStatusOK, Checked: 2, CriticalOK: true})
	assert.Equal(t, HealthStatusHealthy, health.Status)
	assert.True(t, health.Access.CriticalOK)

	health = NewHealthResponse("1.0.0", time.Now())
	health.SetAccessStatus(AccessStatus{Status: ComponentStatusDown, Checked: 2, Denied: 2, CriticalOK: false})
	assert.Equal(t, HealthStatusUnhealthy, health.Status)

	health = NewHealthResponse("1.0.0", time.Now())
	health.SetAccessStatus(AccessStatus{Status: ComponentStatusDegraded, Checked: 3, Denied: 1, CriticalOK: true})
	assert.Equal(t, HealthStatusDegraded, health.Status)
}
