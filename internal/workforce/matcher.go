// Package workforce keeps enough worker processes running across the
// app-container hosts to cover the current needs.
package workforce

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/debounce"
	"packagemanager/internal/worker"
	"packagemanager/pkg/circuitbreaker"
)

// Matcher defaults.
const (
	DefaultTickInterval = 10 * time.Second
	DefaultDebounce     = 500 * time.Millisecond
	DefaultAppType      = "worker"
	DefaultPoolSize     = 3
	DefaultHostFailures = 3
	DefaultHostCooldown = time.Minute
)

// App is a worker process running on a host.
type App struct {
	ID   string `json:"appId"`
	Type string `json:"appType"`
}

// Host is an app-container host able to run worker processes.
type Host interface {
	ID() string
	// Initialized reports whether the host is ready to spin up apps.
	Initialized() bool
	// AvailableApps lists the app types the host can spin up.
	AvailableApps() []string
	RunningApps(ctx context.Context) ([]App, error)
	SpinUp(ctx context.Context, appType string) (string, error)
	Kill(ctx context.Context, appID string) error
}

// Connector turns a running app into a worker the reconciliation loop can
// dispatch to. The transport to the app process lives behind it.
type Connector interface {
	Connect(ctx context.Context, hostID string, app App) (worker.Worker, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, hostID string, app App) (worker.Worker, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, hostID string, app App) (worker.Worker, error) {
	return f(ctx, hostID, app)
}

// Need is the demand for one worker of a type.
type Need struct {
	AppType string `json:"appType"`
}

// NeedsProvider computes the current needs.
type NeedsProvider interface {
	Needs() []Need
}

// PoolNeeds is a fixed-size pool per app type.
type PoolNeeds map[string]int

// Needs implements NeedsProvider. Types are listed in name order.
func (p PoolNeeds) Needs() []Need {
	var needs []Need
	for _, appType := range slices.Sorted(maps.Keys(p)) {
		for range p[appType] {
			needs = append(needs, Need{AppType: appType})
		}
	}
	return needs
}

// DefaultNeeds is a pool of three generic workers.
func DefaultNeeds() PoolNeeds {
	return PoolNeeds{DefaultAppType: DefaultPoolSize}
}

// PlannedWorker is the matcher's view of a worker process, spun up or
// discovered running. AppID is empty while its spin-up is in flight.
type PlannedWorker struct {
	HostID  string `json:"appContainerId"`
	AppType string `json:"appType"`
	AppID   string `json:"appId"`
	InUse   bool   `json:"isInUse"`
}

// HostInfo describes a registered host.
type HostInfo struct {
	ID            string               `json:"id"`
	Initialized   bool                 `json:"initialized"`
	AvailableApps []string             `json:"availableApps"`
	SpinUps       circuitbreaker.State `json:"spinUps"`
}

// Status is a read-only view of the matcher.
type Status struct {
	Hosts   []HostInfo      `json:"hosts"`
	Planned []PlannedWorker `json:"plannedWorkers"`
	Needs   int             `json:"needs"`
	Unmet   int             `json:"unmetNeeds"`
}

// MetricsRecorder is an optional interface for recording workforce metrics.
type MetricsRecorder interface {
	RecordSpinUp(ctx context.Context, appType string, success bool)
	RecordWorkforce(ctx context.Context, planned, unmet int)
}

// Config tunes the matcher.
type Config struct {
	TickInterval time.Duration // default 10s
	Debounce     time.Duration // default 500ms
	SpinUpRate   float64       // spin-ups per second, default 1
	SpinUpBurst  int           // default 3
	Needs        NeedsProvider // default DefaultNeeds()
	// A host whose spin-ups fail HostFailures times in a row is skipped
	// for HostCooldown.
	HostFailures int
	HostCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.SpinUpRate <= 0 {
		c.SpinUpRate = 1
	}
	if c.SpinUpBurst <= 0 {
		c.SpinUpBurst = 3
	}
	if c.Needs == nil {
		c.Needs = DefaultNeeds()
	}
	if c.HostFailures <= 0 {
		c.HostFailures = DefaultHostFailures
	}
	if c.HostCooldown <= 0 {
		c.HostCooldown = DefaultHostCooldown
	}
	return c
}

// Matcher matches needs to running workers and spins up the missing ones.
type Matcher struct {
	cfg      Config
	limiter  *rate.Limiter
	breakers *circuitbreaker.Registry
	metrics  MetricsRecorder
	logger   *slog.Logger

	mu      sync.Mutex
	hosts   []Host
	planned []*PlannedWorker
	needs   int
	unmet   int

	// passMu serializes update passes and guards the fields below it.
	passMu    sync.Mutex
	workers   *worker.Registry
	connector Connector
	connected map[string]string // appID -> worker id

	updater   *debounce.Debouncer
	stop      chan struct{}
	loopDone  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewMatcher creates a matcher. metrics may be nil.
func NewMatcher(cfg Config, metrics MetricsRecorder) *Matcher {
	cfg = cfg.withDefaults()
	m := &Matcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.SpinUpRate), cfg.SpinUpBurst),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: cfg.HostFailures,
			Cooldown:  cfg.HostCooldown,
		}),
		metrics:  metrics,
		logger:   slog.With("component", "workforce"),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),

		connected: make(map[string]string),
	}
	m.updater = debounce.New(cfg.Debounce, func(ctx context.Context) {
		m.Update(ctx)
	})
	return m
}

// Attach keeps registry in step with the planned workers: every pass
// connects running apps not yet registered, unregisters the workers of
// apps that are gone and marks the workers of in-use apps preferred.
func (m *Matcher) Attach(registry *worker.Registry, c Connector) {
	m.passMu.Lock()
	defer m.passMu.Unlock()
	m.workers = registry
	m.connector = c
	m.Trigger()
}

// AddHost registers a host. A host with the same id is replaced in place.
func (m *Matcher) AddHost(h Host) {
	m.mu.Lock()
	i := slices.IndexFunc(m.hosts, func(x Host) bool { return x.ID() == h.ID() })
	if i >= 0 {
		m.hosts[i] = h
	} else {
		m.hosts = append(m.hosts, h)
	}
	m.mu.Unlock()

	m.logger.Info("Host added", "hostId", h.ID())
	m.Trigger()
}

// RemoveHost unregisters a host. Its planned workers go at the next pass.
func (m *Matcher) RemoveHost(id string) {
	m.mu.Lock()
	m.hosts = slices.DeleteFunc(m.hosts, func(x Host) bool { return x.ID() == id })
	m.mu.Unlock()
	m.breakers.Remove(id)

	m.logger.Info("Host removed", "hostId", id)
	m.Trigger()
}

// Start runs the tick until Stop.
func (m *Matcher) Start() {
	m.startOnce.Do(func() {
		go m.loop()
		m.Trigger()
	})
}

func (m *Matcher) loop() {
	defer close(m.loopDone)

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Trigger()
		}
	}
}

// Stop ends the tick and waits for a running pass.
func (m *Matcher) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.startOnce.Do(func() { close(m.loopDone) })
		<-m.loopDone
		m.updater.Stop()
	})
}

// Trigger requests a debounced update pass.
func (m *Matcher) Trigger() {
	m.updater.Trigger()
}

// Update runs one matching pass. Unmet needs are not an error; they are
// retried on the next pass.
func (m *Matcher) Update(ctx context.Context) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	m.mu.Lock()
	hosts := slices.Clone(m.hosts)
	m.mu.Unlock()

	running := m.discover(ctx, hosts)

	m.mu.Lock()
	m.reconcile(hosts, running)
	for _, pw := range m.planned {
		pw.InUse = false
	}

	needs := m.cfg.Needs.Needs()
	var unmet []Need
	for _, need := range needs {
		if !m.claim(need) {
			unmet = append(unmet, need)
		}
	}
	m.mu.Unlock()

	remaining := 0
	for _, need := range unmet {
		if !m.spinUp(ctx, hosts, need) {
			remaining++
		}
	}

	m.mu.Lock()
	m.needs = len(needs)
	m.unmet = remaining
	planned := len(m.planned)
	m.mu.Unlock()

	m.syncWorkers(ctx)

	if remaining > 0 {
		m.logger.Debug("Needs not met", "unmet", remaining, "needs", len(needs))
	}
	if m.metrics != nil {
		m.metrics.RecordWorkforce(ctx, planned, remaining)
	}
}

// syncWorkers updates the attached registry. A failed connect is retried
// on the next pass. Must be called with passMu held.
func (m *Matcher) syncWorkers(ctx context.Context) {
	if m.workers == nil || m.connector == nil {
		return
	}

	m.mu.Lock()
	var apps []PlannedWorker
	for _, pw := range m.planned {
		if pw.AppID != "" {
			apps = append(apps, *pw)
		}
	}
	m.mu.Unlock()

	live := make(map[string]bool, len(apps))
	for _, pw := range apps {
		live[pw.AppID] = true
		workerID, ok := m.connected[pw.AppID]
		if !ok {
			w, err := m.connector.Connect(ctx, pw.HostID, App{ID: pw.AppID, Type: pw.AppType})
			if err != nil {
				m.logger.Warn("Failed to connect worker", "hostId", pw.HostID, "appId", pw.AppID, "error", err)
				continue
			}
			workerID = w.ID()
			m.connected[pw.AppID] = workerID
			m.workers.Add(w)
			m.logger.Info("Worker connected", "hostId", pw.HostID, "appId", pw.AppID, "workerId", workerID)
		}
		m.workers.SetPreferred(workerID, pw.InUse)
	}

	for appID, workerID := range m.connected {
		if live[appID] {
			continue
		}
		delete(m.connected, appID)
		m.workers.Remove(workerID)
		m.logger.Info("Worker disconnected", "appId", appID, "workerId", workerID)
	}
}

// discover lists the running apps of initialized hosts. Hosts that fail
// to answer are missing from the result.
func (m *Matcher) discover(ctx context.Context, hosts []Host) map[string][]App {
	running := make(map[string][]App, len(hosts))
	for _, h := range hosts {
		if !h.Initialized() {
			continue
		}
		apps, err := h.RunningApps(ctx)
		if err != nil {
			m.logger.Warn("Failed to list running apps", "hostId", h.ID(), "error", err)
			continue
		}
		running[h.ID()] = apps
	}
	return running
}

// reconcile prunes planned workers that are gone and adds running apps not
// yet tracked. Must be called with mu held.
func (m *Matcher) reconcile(hosts []Host, running map[string][]App) {
	known := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		known[h.ID()] = true
	}

	m.planned = slices.DeleteFunc(m.planned, func(pw *PlannedWorker) bool {
		if !known[pw.HostID] {
			return true
		}
		apps, listed := running[pw.HostID]
		if !listed || pw.AppID == "" {
			return false
		}
		return !slices.ContainsFunc(apps, func(a App) bool { return a.ID == pw.AppID })
	})

	for _, h := range hosts {
		for _, app := range running[h.ID()] {
			tracked := slices.ContainsFunc(m.planned, func(pw *PlannedWorker) bool {
				return pw.HostID == h.ID() && pw.AppID == app.ID
			})
			if !tracked {
				m.planned = append(m.planned, &PlannedWorker{HostID: h.ID(), AppType: app.Type, AppID: app.ID})
			}
		}
	}
}

// claim marks the first free planned worker of the need's type as in use.
// Must be called with mu held.
func (m *Matcher) claim(need Need) bool {
	for _, pw := range m.planned {
		if !pw.InUse && pw.AppType == need.AppType {
			pw.InUse = true
			return true
		}
	}
	return false
}

// spinUp starts a worker for need on the first initialized host offering
// its type whose spin-ups are not suspended.
func (m *Matcher) spinUp(ctx context.Context, hosts []Host, need Need) bool {
	var eligible []Host
	for _, h := range hosts {
		if h.Initialized() && slices.Contains(h.AvailableApps(), need.AppType) {
			eligible = append(eligible, h)
		}
	}
	if len(eligible) == 0 {
		return false
	}
	if !m.limiter.Allow() {
		m.logger.Debug("Spin-up rate limited", "appType", need.AppType)
		return false
	}

	for _, h := range eligible {
		breaker := m.breakers.Get(h.ID())
		if !breaker.Allow() {
			m.logger.Debug("Spin-ups suspended on host", "hostId", h.ID())
			continue
		}

		pw := &PlannedWorker{HostID: h.ID(), AppType: need.AppType, InUse: true}
		m.mu.Lock()
		m.planned = append(m.planned, pw)
		m.mu.Unlock()

		appID, err := h.SpinUp(ctx, need.AppType)

		m.mu.Lock()
		if err != nil {
			m.planned = slices.DeleteFunc(m.planned, func(x *PlannedWorker) bool { return x == pw })
		} else {
			pw.AppID = appID
		}
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.RecordSpinUp(ctx, need.AppType, err == nil)
		}
		if err != nil {
			breaker.RecordFailure()
			m.logger.Error("Failed to spin up worker", "hostId", h.ID(), "appType", need.AppType,
				"error", err, "breaker", breaker.State())
			return false
		}
		breaker.RecordSuccess()
		m.logger.Info("Worker spun up", "hostId", h.ID(), "appType", need.AppType, "appId", appID)
		return true
	}
	return false
}

// KillApp stops a worker process on whichever host runs it.
func (m *Matcher) KillApp(ctx context.Context, appID string) error {
	m.mu.Lock()
	hosts := slices.Clone(m.hosts)
	var hostID string
	for _, pw := range m.planned {
		if pw.AppID == appID {
			hostID = pw.HostID
			break
		}
	}
	m.mu.Unlock()

	var target Host
	for _, h := range hosts {
		if hostID != "" && h.ID() == hostID {
			target = h
			break
		}
	}
	if target == nil {
		for _, h := range hosts {
			apps, err := h.RunningApps(ctx)
			if err != nil {
				continue
			}
			if slices.ContainsFunc(apps, func(a App) bool { return a.ID == appID }) {
				target = h
				break
			}
		}
	}
	if target == nil {
		return apperrors.NotFound("app", appID)
	}

	if err := target.Kill(ctx, appID); err != nil {
		return apperrors.Internal("kill app", err)
	}

	m.mu.Lock()
	m.planned = slices.DeleteFunc(m.planned, func(pw *PlannedWorker) bool { return pw.AppID == appID })
	m.mu.Unlock()

	m.logger.Info("Worker killed", "hostId", target.ID(), "appId", appID)
	m.Trigger()
	return nil
}

// Status returns a copy of the matcher state.
func (m *Matcher) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Hosts:   make([]HostInfo, 0, len(m.hosts)),
		Planned: make([]PlannedWorker, 0, len(m.planned)),
		Needs:   m.needs,
		Unmet:   m.unmet,
	}
	for _, h := range m.hosts {
		s.Hosts = append(s.Hosts, HostInfo{
			ID:            h.ID(),
			Initialized:   h.Initialized(),
			AvailableApps: h.AvailableApps(),
			SpinUps:       m.breakers.State(h.ID()),
		})
	}
	for _, pw := range m.planned {
		s.Planned = append(s.Planned, *pw)
	}
	return s
}
