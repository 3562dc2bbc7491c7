// Package health aggregates component liveness for the /health endpoint
package health

import (
	"slices"
	"sync"
	"time"
)

// Overall states reported in Status.Status
const (
	StateOK       = "ok"
	StateDegraded = "degraded"
)

// Status is the aggregated view served to clients
type Status struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Components    map[string]Check `json:"components"`
	Failing       []string         `json:"failing,omitempty"`
}

// Check is the last known state of one component
type Check struct {
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Probe reports the live state of a component when the status is read.
type Probe func() (healthy bool, message string)

// component holds either a pushed check or a probe. A probe wins.
type component struct {
	check Check
	probe Probe
}

// Checker tracks health of the capture, pipeline and telemetry legs
type Checker struct {
	version string
	started time.Time

	mu    sync.RWMutex
	parts map[string]component
}

// NewChecker creates a checker reporting the given build version
func NewChecker(version string) *Checker {
	return &Checker{
		version: version,
		started: time.Now(),
		parts:   make(map[string]component),
	}
}

// SetComponent records a pushed result for name. It has no effect on the
// reported state while a probe is registered under the same name.
func (c *Checker) SetComponent(name string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	part := c.parts[name]
	part.check = Check{Healthy: healthy, Message: message, LastCheck: time.Now()}
	c.parts[name] = part
}

// Register adds a probe evaluated on every status read.
func (c *Checker) Register(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()

	part := c.parts[name]
	part.probe = probe
	c.parts[name] = part
}

// snapshot evaluates probes outside the lock and folds every component into
// one Status. Failing names are sorted.
func (c *Checker) snapshot() Status {
	c.mu.RLock()
	parts := make(map[string]component, len(c.parts))
	for name, part := range c.parts {
		parts[name] = part
	}
	c.mu.RUnlock()

	now := time.Now()
	st := Status{
		Status:        StateOK,
		Version:       c.version,
		UptimeSeconds: int64(now.Sub(c.started).Seconds()),
		Components:    make(map[string]Check, len(parts)),
	}
	for name, part := range parts {
		check := part.check
		if part.probe != nil {
			healthy, msg := part.probe()
			check = Check{Healthy: healthy, Message: msg, LastCheck: now}
		}
		st.Components[name] = check
		if !check.Healthy {
			st.Failing = append(st.Failing, name)
		}
	}

	if len(st.Failing) > 0 {
		st.Status = StateDegraded
		slices.Sort(st.Failing)
	}
	return st
}

// GetStatus returns the overall health status
func (c *Checker) GetStatus() Status {
	return c.snapshot()
}

// IsHealthy reports whether no component is failing
func (c *Checker) IsHealthy() bool {
	return len(c.snapshot().Failing) == 0
}
