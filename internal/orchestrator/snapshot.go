package orchestrator

import (
	"maps"
	"slices"
	"time"

	"packagemanager/internal/desiredstate"
	"packagemanager/internal/expectation"
	"packagemanager/internal/manager"
	"packagemanager/internal/pkgcontainer"
	"packagemanager/internal/status"
	"packagemanager/internal/workforce"
)

// Snapshot is the read-only debug view of the whole service.
type Snapshot struct {
	Updated                      time.Time                                           `json:"updated"`
	ExpectedPackages             []desiredstate.ExpectedPackage                      `json:"expectedPackages"`
	MonitoredPackages            int                                                 `json:"monitoredPackages"`
	PackageContainers            map[string]pkgcontainer.PackageContainer            `json:"packageContainers"`
	ActiveContext                *desiredstate.ActiveContext                         `json:"activeContext,omitempty"`
	Expectations                 map[string]*expectation.Expectation                 `json:"expectations"`
	PackageContainerExpectations map[string]*expectation.PackageContainerExpectation `json:"packageContainerExpectations"`
	Tracked                      []manager.TrackedInfo                               `json:"tracked"`
	TrackedContainers            []manager.ContainerInfo                             `json:"trackedContainers"`
	States                       map[string]int64                                    `json:"states"`
	ActiveJobs                   int                                                 `json:"activeJobs"`
	ReportedStatuses             status.Reported                                     `json:"reportedStatuses"`
	PackageInfos                 int                                                 `json:"packageInfos"`
	Workforce                    *workforce.Status                                   `json:"workforce,omitempty"`
}

// Counts are the sizes of the current generation.
type Counts struct {
	ExpectedPackages             int `json:"countExpectedPackages"`
	PackageContainers            int `json:"countPackageContainers"`
	Expectations                 int `json:"countExpectations"`
	PackageContainerExpectations int `json:"countPackageContainerExpectations"`
}

// Snapshot returns a copy of the current state. The expectation values are
// shared with the manager and must not be modified.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	snap := Snapshot{
		Updated:                      o.updated,
		Expectations:                 maps.Clone(o.expectations),
		PackageContainerExpectations: maps.Clone(o.pces),
	}
	for _, pkgs := range o.monitored {
		snap.MonitoredPackages += len(pkgs)
	}
	if o.desired != nil {
		snap.ExpectedPackages = slices.Clone(o.desired.ExpectedPackages)
		snap.PackageContainers = maps.Clone(o.desired.Containers)
		snap.ActiveContext = o.desired.ActiveContext
	}
	o.mu.Unlock()

	snap.Tracked = o.manager.Tracked()
	snap.TrackedContainers = o.manager.Containers()
	snap.States = o.manager.StateCounts()
	snap.ActiveJobs = o.manager.ActiveJobs()
	snap.ReportedStatuses = o.reporter.Snapshot()
	snap.PackageInfos = o.packageInfo.Len()
	if o.matcher != nil {
		ws := o.matcher.Status()
		snap.Workforce = &ws
	}
	return snap
}

// Counts returns the sizes of the desired state and the last generation.
func (o *Orchestrator) Counts() Counts {
	o.mu.Lock()
	defer o.mu.Unlock()

	c := Counts{
		Expectations:                 len(o.expectations),
		PackageContainerExpectations: len(o.pces),
	}
	if o.desired != nil {
		c.ExpectedPackages = len(o.desired.ExpectedPackages)
		c.PackageContainers = len(o.desired.Containers)
	}
	for _, pkgs := range o.monitored {
		c.ExpectedPackages += len(pkgs)
	}
	return c
}

// Workforce returns the matcher status, or false without a workforce.
func (o *Orchestrator) Workforce() (workforce.Status, bool) {
	if o.matcher == nil {
		return workforce.Status{}, false
	}
	return o.matcher.Status(), true
}

// Expectations returns the tracked expectations in priority order.
func (o *Orchestrator) Expectations() []manager.TrackedInfo {
	return o.manager.Tracked()
}

// Expectation returns one tracked expectation.
func (o *Orchestrator) Expectation(id string) (manager.TrackedInfo, bool) {
	return o.manager.Get(id)
}
