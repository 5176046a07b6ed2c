package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"packagemanager/internal/debounce"
	"packagemanager/internal/expectation"
)

// ReportDebounce is the coalescing window of upstream pushes.
const ReportDebounce = 300 * time.Millisecond

// Channel names used for sinks, logs and metrics.
const (
	ChannelWork      = "work"
	ChannelPackage   = "package"
	ChannelContainer = "container"
)

// Sink receives change-sets. Implementations deliver them upstream.
type Sink interface {
	UpdateWorkStatuses(ctx context.Context, changes []Change) error
	UpdatePackageStatuses(ctx context.Context, changes []Change) error
	UpdateContainerStatuses(ctx context.Context, changes []Change) error
	// RemoveAll asks upstream to forget every status reported so far.
	RemoveAll(ctx context.Context) error
}

// MetricsRecorder is an optional interface for recording status metrics.
type MetricsRecorder interface {
	RecordStatusChanges(ctx context.Context, channel string, count int)
	RecordStatusPushError(ctx context.Context, channel string)
}

// WorkUpdate is a partial update of a WorkStatus. Zero fields keep the
// previous value.
type WorkUpdate struct {
	Status   string
	Reason   *Reason
	Progress *float64
}

// PackageUpdate is a partial update of a PackageStatus.
type PackageUpdate struct {
	Status             string
	ContentVersionHash string
	Progress           *float64
	Reason             *Reason
}

// ContainerUpdate is a partial update of a ContainerStatus. A non-nil
// Monitors replaces the monitor map.
type ContainerUpdate struct {
	Status   string
	Reason   *Reason
	Monitors map[string]MonitorStatus
}

// Reported is a copy of the last-reported snapshots.
type Reported struct {
	Work       map[string]WorkStatus      `json:"work"`
	Packages   map[string]PackageStatus   `json:"packages"`
	Containers map[string]ContainerStatus `json:"containers"`
}

// Reporter buffers status updates and pushes the minimal change-sets to a
// Sink, debounced.
type Reporter struct {
	mu         sync.Mutex
	work       *channel[WorkStatus]
	packages   *channel[PackageStatus]
	containers *channel[ContainerStatus]

	// pushMu keeps change-sets in order.
	pushMu    sync.Mutex
	sink      Sink
	metrics   MetricsRecorder
	debouncer *debounce.Debouncer
	logger    *slog.Logger
	now       func() time.Time
}

// NewReporter creates a Reporter pushing to sink. metrics may be nil.
func NewReporter(sink Sink, metrics MetricsRecorder) *Reporter {
	r := &Reporter{
		work:       newChannel(diffWorkStatus),
		packages:   newChannel(diffPackageStatus),
		containers: newChannel(diffContainerStatus),
		sink:       sink,
		metrics:    metrics,
		logger:     slog.With("component", "status-reporter"),
		now:        time.Now,
	}
	r.debouncer = debounce.New(ReportDebounce, func(ctx context.Context) {
		_ = r.Flush(ctx)
	})
	return r
}

// ReportExpectation updates the work status of an expectation. A nil exp
// deletes it. Expectations without sendReport never produce a record.
func (r *Reporter) ReportExpectation(id string, exp *expectation.Expectation, actualVersionHash string, u WorkUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if exp == nil {
		r.work.remove(id)
		r.debouncer.Trigger()
		return
	}
	if !exp.StatusReport.SendReport {
		return
	}

	prev, existed := r.work.current(id)
	if !existed {
		prev = defaultWorkStatus()
	}

	next := prev
	next.PrevStatusReasons = maps.Clone(prev.PrevStatusReasons)
	next.Label = exp.StatusReport.Label
	next.Description = exp.StatusReport.Description
	next.Priority = exp.Priority
	next.FromPackages = fromPackages(exp.FromPackages, prev.FromPackages, actualVersionHash)

	if u.Status != "" {
		next.Status = u.Status
	}
	if u.Reason != nil {
		next.StatusReason = *u.Reason
	}
	if u.Progress != nil {
		next.Progress = *u.Progress
	}

	if next.Status != prev.Status && !prev.StatusReason.IsZero() {
		next.PrevStatusReasons[prev.Status] = prev.StatusReason
	}
	if !existed || next.Status != prev.Status || next.Progress != prev.Progress {
		next.StatusChanged = r.now().UnixMilli()
	}

	r.work.set(id, next)
	r.debouncer.Trigger()
}

func fromPackages(exp []expectation.FromPackage, prev []FromPackage, actualVersionHash string) []FromPackage {
	out := make([]FromPackage, 0, len(exp))
	for _, fp := range exp {
		actual := actualVersionHash
		if actual == "" {
			for _, p := range prev {
				if p.ID == fp.ID {
					actual = p.ActualContentVersionHash
					break
				}
			}
		}
		out = append(out, FromPackage{
			ID:                         fp.ID,
			ExpectedContentVersionHash: fp.ExpectedContentVersionHash,
			ActualContentVersionHash:   actual,
		})
	}
	return out
}

// PackageKey identifies a package status.
func PackageKey(containerID, packageID string) string {
	return containerID + "_" + packageID
}

// ReportPackage updates the status of a package in a container. A nil
// update deletes it.
func (r *Reporter) ReportPackage(containerID, packageID string, u *PackageUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := PackageKey(containerID, packageID)
	if u == nil {
		r.packages.remove(key)
		r.debouncer.Trigger()
		return
	}

	prev, existed := r.packages.current(key)
	if !existed {
		prev = defaultPackageStatus()
	}

	next := prev
	next.ContainerID = containerID
	next.PackageID = packageID
	if u.Status != "" {
		next.Status = u.Status
	}
	if u.ContentVersionHash != "" {
		next.ContentVersionHash = u.ContentVersionHash
	}
	if u.Progress != nil {
		next.Progress = *u.Progress
	}
	if u.Reason != nil {
		next.StatusReason = *u.Reason
	}
	if !existed || next.Status != prev.Status || next.Progress != prev.Progress {
		next.StatusChanged = r.now().UnixMilli()
	}

	r.packages.set(key, next)
	r.debouncer.Trigger()
}

// ReportContainer updates the status of a container. A nil update deletes it.
func (r *Reporter) ReportContainer(containerID string, u *ContainerUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u == nil {
		r.containers.remove(containerID)
		r.debouncer.Trigger()
		return
	}

	prev, existed := r.containers.current(containerID)
	if !existed {
		prev = defaultContainerStatus()
	}

	next := prev
	next.Monitors = maps.Clone(prev.Monitors)
	if u.Status != "" {
		next.Status = u.Status
	}
	if u.Reason != nil {
		next.StatusReason = *u.Reason
	}
	if u.Monitors != nil {
		next.Monitors = maps.Clone(u.Monitors)
	}
	if !existed || next.Status != prev.Status {
		next.StatusChanged = r.now().UnixMilli()
	}

	r.containers.set(containerID, next)
	r.debouncer.Trigger()
}

// Flush pushes the pending change-sets now. A failed push is logged and
// counted; the last-reported snapshot is not rolled back.
func (r *Reporter) Flush(ctx context.Context) error {
	r.pushMu.Lock()
	defer r.pushMu.Unlock()

	r.mu.Lock()
	work := r.work.collect()
	packages := r.packages.collect()
	containers := r.containers.collect()
	r.mu.Unlock()

	return errors.Join(
		r.push(ctx, ChannelWork, work, r.sink.UpdateWorkStatuses),
		r.push(ctx, ChannelPackage, packages, r.sink.UpdatePackageStatuses),
		r.push(ctx, ChannelContainer, containers, r.sink.UpdateContainerStatuses),
	)
}

func (r *Reporter) push(ctx context.Context, name string, changes []Change, send func(context.Context, []Change) error) error {
	if len(changes) == 0 {
		return nil
	}
	if r.metrics != nil {
		r.metrics.RecordStatusChanges(ctx, name, len(changes))
	}
	if err := send(ctx, changes); err != nil {
		if r.metrics != nil {
			r.metrics.RecordStatusPushError(ctx, name)
		}
		r.logger.Warn("Status push failed", "channel", name, "changes", len(changes), "error", err)
		return fmt.Errorf("push %s statuses: %w", name, err)
	}
	r.logger.Debug("Statuses pushed", "channel", name, "changes", len(changes))
	return nil
}

// Reset drops every local snapshot and asks the sink to remove all
// previously reported statuses.
func (r *Reporter) Reset(ctx context.Context) error {
	r.pushMu.Lock()
	defer r.pushMu.Unlock()

	r.mu.Lock()
	r.work.reset()
	r.packages.reset()
	r.containers.reset()
	r.mu.Unlock()

	if err := r.sink.RemoveAll(ctx); err != nil {
		r.logger.Warn("Failed to reset reported statuses", "error", err)
		return fmt.Errorf("reset statuses: %w", err)
	}
	return nil
}

// Pending reports whether any change awaits a push.
func (r *Reporter) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.work.pending() || r.packages.pending() || r.containers.pending()
}

// Snapshot returns a copy of the last-reported statuses.
func (r *Reporter) Snapshot() Reported {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Reported{
		Work:       r.work.snapshot(),
		Packages:   r.packages.snapshot(),
		Containers: r.containers.snapshot(),
	}
}

// Stop cancels the pending debounce and pushes what is left.
func (r *Reporter) Stop(ctx context.Context) error {
	r.debouncer.Stop()
	return r.Flush(ctx)
}
