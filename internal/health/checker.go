// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ReadinessChecker is a dependency that can report whether it is ready.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// ReadinessFunc adapts a function to ReadinessChecker.
type ReadinessFunc func(ctx context.Context) error

// Ready calls f.
func (f ReadinessFunc) Ready(ctx context.Context) error { return f(ctx) }

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type namedCheck struct {
	name     string
	checker  ReadinessChecker
	optional bool
}

// Checker runs the registered readiness checks.
type Checker struct {
	timeout  time.Duration
	cacheTTL time.Duration

	mu           sync.RWMutex
	checks       []namedCheck
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a checker without checks. A checker without
// required checks reports ready.
func NewChecker() *Checker {
	return &Checker{
		timeout:  5 * time.Second,
		cacheTTL: time.Second,
	}
}

// Register adds a required check. A failing required check makes the
// service unready.
func (c *Checker) Register(name string, rc ReadinessChecker) {
	c.add(namedCheck{name: name, checker: rc})
}

// RegisterOptional adds a check that only degrades readiness.
func (c *Checker) RegisterOptional(name string, rc ReadinessChecker) {
	c.add(namedCheck{name: name, checker: rc, optional: true})
}

func (c *Checker) add(nc namedCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, nc)
	c.cachedReady = nil
}

// Liveness reports the process is alive. It does not touch dependencies.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness runs every check concurrently. Results are cached briefly so
// probes do not hammer the Docker daemon.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cachedReady != nil && time.Since(c.lastCheck) < c.cacheTTL {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, nc := range checks {
		g.Go(func() error {
			results[i] = c.run(gctx, nc.checker)
			return nil
		})
	}
	_ = g.Wait()

	response := &Response{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(checks))}
	for i, nc := range checks {
		res := results[i]
		if res.Status != StatusHealthy {
			switch {
			case !nc.optional:
				response.Status = StatusUnhealthy
			case response.Status == StatusHealthy:
				res.Status = StatusDegraded
				response.Status = StatusDegraded
			default:
				res.Status = StatusDegraded
			}
		}
		response.Checks[nc.name] = res
	}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) run(ctx context.Context, rc ReadinessChecker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := rc.Ready(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// Names returns the registered check names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for _, nc := range c.checks {
		names = append(names, nc.name)
	}
	sort.Strings(names)
	return names
}

// IsHealthy reports whether the service can take traffic. A degraded
// service still can.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy || r.Status == StatusDegraded
}

// SetShuttingDown makes readiness fail so load balancers stop routing
// traffic here.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
