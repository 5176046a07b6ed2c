// Package orchestrator wires the desired state into the generator, hands
// the generations to the manager and exposes the operator commands and the
// read-only snapshot surface.
package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/debounce"
	"packagemanager/internal/desiredstate"
	"packagemanager/internal/expectation"
	"packagemanager/internal/generator"
	"packagemanager/internal/manager"
	"packagemanager/internal/packageinfo"
	"packagemanager/internal/status"
	"packagemanager/internal/workforce"
)

// DefaultDebounce coalesces desired-state changes before regeneration.
const DefaultDebounce = 300 * time.Millisecond

// MetricsRecorder is an optional interface for recording orchestrator metrics.
type MetricsRecorder interface {
	RecordRegeneration(ctx context.Context, durationSeconds float64, expectations int)
	RecordRegenerationAborted(ctx context.Context, reason string)
}

// Config holds orchestrator settings.
type Config struct {
	ManagerID string
	Settings  generator.Settings
	Debounce  time.Duration // default 300ms
}

// Deps are the components the orchestrator drives. Matcher may be nil when
// no workforce is managed; PackageInfo defaults to an empty store. With
// both a Matcher and a Connector, the apps the matcher keeps running join
// the manager's worker registry.
type Deps struct {
	Manager     *manager.Manager
	Reporter    *status.Reporter
	Matcher     *workforce.Matcher
	Connector   workforce.Connector
	PackageInfo *packageinfo.Store
	Metrics     MetricsRecorder
}

type monitorKey struct {
	containerID string
	monitorID   string
}

// Orchestrator owns the regeneration debounce and the last generation.
type Orchestrator struct {
	cfg         Config
	manager     *manager.Manager
	reporter    *status.Reporter
	matcher     *workforce.Matcher
	packageInfo *packageinfo.Store
	metrics     MetricsRecorder
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time

	// regenMu serializes regeneration passes.
	regenMu sync.Mutex

	mu           sync.Mutex
	desired      *desiredstate.Snapshot
	monitored    map[monitorKey][]desiredstate.ExpectedPackage
	expectations map[string]*expectation.Expectation
	pces         map[string]*expectation.PackageContainerExpectation
	generated    bool
	updated      time.Time

	regen    *debounce.Debouncer
	stopOnce sync.Once
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if deps.PackageInfo == nil {
		deps.PackageInfo = packageinfo.NewStore()
	}
	o := &Orchestrator{
		cfg:         cfg,
		manager:     deps.Manager,
		reporter:    deps.Reporter,
		matcher:     deps.Matcher,
		packageInfo: deps.PackageInfo,
		metrics:     deps.Metrics,
		logger:      slog.With("component", "orchestrator", "managerId", cfg.ManagerID),
		tracer:      otel.Tracer("packagemanager/orchestrator"),
		now:         time.Now,
		monitored:   make(map[monitorKey][]desiredstate.ExpectedPackage),
	}
	o.regen = debounce.New(cfg.Debounce, o.runRegenerate)
	if deps.Matcher != nil && deps.Connector != nil {
		deps.Matcher.Attach(deps.Manager.Workers(), deps.Connector)
	}
	return o
}

// Start clears previously reported statuses and starts the manager and
// the matcher.
func (o *Orchestrator) Start(ctx context.Context) {
	if err := o.reporter.Reset(ctx); err != nil {
		o.logger.Warn("Failed to clear reported statuses", "error", err)
	}
	o.manager.Start()
	if o.matcher != nil {
		o.matcher.Start()
	}
	o.logger.Info("Orchestrator started")
}

// Stop tears down in reverse order of Start and flushes pending statuses.
func (o *Orchestrator) Stop(ctx context.Context) error {
	var err error
	o.stopOnce.Do(func() {
		o.regen.Stop()
		if o.matcher != nil {
			o.matcher.Stop()
		}
		o.manager.Stop(ctx)
		err = o.reporter.Stop(ctx)
		o.logger.Info("Orchestrator stopped")
	})
	return err
}

// SetDesiredState replaces the desired state and schedules a
// regeneration. A snapshot missing a collection is accepted: regeneration
// then keeps the previous generation until the collection arrives.
// Malformed entries are rejected.
func (o *Orchestrator) SetDesiredState(snap *desiredstate.Snapshot) error {
	if snap == nil {
		return apperrors.Validation("snapshot", "is required")
	}
	if err := snap.Validate(); err != nil && !errors.Is(err, apperrors.ErrInconsistent) {
		return err
	}

	o.mu.Lock()
	o.desired = snap
	o.mu.Unlock()

	o.regen.Trigger()
	return nil
}

// ReportMonitoredPackages replaces the packages a container monitor
// discovered. They join the next generation with the monitor origin.
func (o *Orchestrator) ReportMonitoredPackages(containerID, monitorID string, pkgs []desiredstate.ExpectedPackage) error {
	if containerID == "" {
		return apperrors.Validation("containerId", "is required")
	}
	if monitorID == "" {
		return apperrors.Validation("monitorId", "is required")
	}

	marked := make([]desiredstate.ExpectedPackage, 0, len(pkgs))
	for _, p := range pkgs {
		if p.ID == "" {
			return apperrors.Validation("packages._id", "is required")
		}
		p.Origin = desiredstate.OriginMonitor
		if p.Priority == 0 {
			p.Priority = generator.MonitorPriority
		}
		marked = append(marked, p)
	}

	o.mu.Lock()
	o.monitored[monitorKey{containerID, monitorID}] = marked
	o.mu.Unlock()

	o.logger.Debug("Monitored packages reported",
		"containerId", containerID, "monitorId", monitorID, "packages", len(marked))
	o.regen.Trigger()
	return nil
}

// Regenerate runs a regeneration pass now.
func (o *Orchestrator) Regenerate(ctx context.Context) error {
	o.regenMu.Lock()
	defer o.regenMu.Unlock()

	ctx, span := o.tracer.Start(ctx, "orchestrator.regenerate")
	defer span.End()
	start := o.now()

	o.mu.Lock()
	snap := o.desired
	packages := o.packagesLocked()
	o.mu.Unlock()

	if missing := snap.Missing(); missing != "" {
		o.logger.Warn("Desired state incomplete, keeping previous generation", "missing", missing)
		if o.metrics != nil {
			o.metrics.RecordRegenerationAborted(ctx, "missing_"+missing)
		}
		err := apperrors.Inconsistent(missing)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	wraps := generator.Dedupe(generator.WrapAll(snap.Containers, packages))
	exps, err := generator.GenerateExpectations(o.cfg.ManagerID, wraps, snap.ActiveContext, o.cfg.Settings)
	if err != nil {
		o.logger.Error("Expectation generation failed", "error", err)
		if o.metrics != nil {
			o.metrics.RecordRegenerationAborted(ctx, "generate")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("generate expectations: %w", err)
	}
	pces := generator.GeneratePackageContainerExpectations(o.cfg.ManagerID, snap.Containers, wraps)

	o.mu.Lock()
	o.expectations = exps
	o.pces = pces
	o.generated = true
	o.updated = o.now()
	o.mu.Unlock()

	o.manager.UpdateExpectations(ctx, exps)
	o.manager.UpdatePackageContainerExpectations(ctx, pces)

	span.SetAttributes(
		attribute.Int("packages", len(packages)),
		attribute.Int("wraps", len(wraps)),
		attribute.Int("expectations", len(exps)),
		attribute.Int("containerExpectations", len(pces)),
	)
	if o.metrics != nil {
		o.metrics.RecordRegeneration(ctx, o.now().Sub(start).Seconds(), len(exps))
	}
	o.logger.Info("Expectations regenerated",
		"packages", len(packages), "expectations", len(exps), "containerExpectations", len(pces))
	return nil
}

func (o *Orchestrator) runRegenerate(ctx context.Context) {
	_ = o.Regenerate(ctx)
}

// packagesLocked returns the declared packages followed by the monitored
// ones in (container, monitor) order. Callers hold mu.
func (o *Orchestrator) packagesLocked() []desiredstate.ExpectedPackage {
	var out []desiredstate.ExpectedPackage
	if o.desired != nil {
		out = slices.Clone(o.desired.ExpectedPackages)
	}
	keys := slices.SortedFunc(maps.Keys(o.monitored), func(a, b monitorKey) int {
		return cmp.Or(strings.Compare(a.containerID, b.containerID), strings.Compare(a.monitorID, b.monitorID))
	})
	for _, k := range keys {
		out = append(out, o.monitored[k]...)
	}
	return out
}

// Ready reports whether a complete desired state has been applied.
func (o *Orchestrator) Ready(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.generated {
		return errors.New("no desired state applied yet")
	}
	return nil
}
