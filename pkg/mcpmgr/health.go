package mcpmgr

import (
	"cmp"
	"fmt"
	"slices"
)

// HealthReport is the verdict returned by HealthCheck.
type HealthReport struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues"`
}

// HealthCheck aggregates connection state. A globally disabled manager is
// healthy with the single issue "disabled". Otherwise every enabled server
// that is not connected is an issue, as is a connection that still holds a
// transport while marked disconnected.
func (m *Manager) HealthCheck() HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.lifecycle {
	case lifecycleNew:
		return HealthReport{Healthy: false, Issues: []string{"not initialized"}}
	case lifecycleStopped:
		return HealthReport{Healthy: false, Issues: []string{"shut down"}}
	}
	if !m.cfg.Enabled {
		return HealthReport{Healthy: true, Issues: []string{"disabled"}}
	}

	enabled := m.enabledServersLocked()
	slices.SortFunc(enabled, func(a, b ServerDescriptor) int { return cmp.Compare(a.Name, b.Name) })

	issues := []string{}
	connected, _ := m.countsLocked()
	if connected == 0 && len(enabled) > 0 {
		issues = append(issues, "no servers connected")
	}
	for _, d := range enabled {
		conn, ok := m.conns[d.Name]
		if !ok {
			issues = append(issues, fmt.Sprintf("server %s: not connected", d.Name))
			continue
		}
		if conn.connected {
			continue
		}
		if conn.lastErr != nil {
			issues = append(issues, fmt.Sprintf("server %s: not connected: %v", d.Name, conn.lastErr))
		} else {
			issues = append(issues, fmt.Sprintf("server %s: not connected", d.Name))
		}
		if conn.transport != nil {
			issues = append(issues, fmt.Sprintf("server %s: stale connection", d.Name))
		}
	}
	return HealthReport{Healthy: len(issues) == 0, Issues: issues}
}
