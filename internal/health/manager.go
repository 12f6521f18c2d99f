// Package health aggregates component liveness checks for the control
// surface's /health endpoint.
package health

import (
	"sync"

	"p2pmaker/internal/core"
)

// Monitor implements the core.IHealthMonitor interface. Components
// register a check closure; checks run on demand when status is read.
type Monitor struct {
	logger core.ILogger

	mu     sync.RWMutex
	checks map[string]func() error
}

// NewMonitor creates an empty health monitor.
func NewMonitor(logger core.ILogger) *Monitor {
	m := &Monitor{
		checks: make(map[string]func() error),
	}
	if logger != nil {
		m.logger = logger.WithField("component", "health")
	}
	return m
}

// Register adds or replaces a component's check.
func (m *Monitor) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// GetStatus runs every check and reports a per-component verdict.
func (m *Monitor) GetStatus() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]string, len(m.checks))
	for component, check := range m.checks {
		if err := check(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
			if m.logger != nil {
				m.logger.Warn("Component unhealthy", "check", component, "error", err.Error())
			}
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy reports whether every registered check passes.
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
