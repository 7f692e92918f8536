// Package health aggregates component liveness checks.
package health

import (
	"sync"

	"options_engine/internal/core"
)

// Monitor aggregates health status from registered components. Implements
// core.IHealthMonitor.
type Monitor struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewMonitor creates an empty health monitor.
func NewMonitor(logger core.ILogger) *Monitor {
	if logger == nil {
		return &Monitor{
			checks: make(map[string]func() error),
		}
	}
	return &Monitor{
		logger: logger.WithField("component", "health_monitor"),
		checks: make(map[string]func() error),
	}
}

// Register adds a health check for a component.
func (m *Monitor) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// GetStatus returns the current status of all registered components.
func (m *Monitor) GetStatus() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]string)
	for component, check := range m.checks {
		if err := check(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy returns true if every registered component passes its check.
func (m *Monitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, check := range m.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}
