// Package status keeps the statuses reported upstream and turns local
// updates into minimal insert/update/delete change-sets.
package status

import (
	"maps"
	"slices"

	"packagemanager/internal/expectation"
)

// Reason is the shared status reason shape.
type Reason = expectation.Reason

// ChangeType tags an entry of a change-set.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Change is one entry of a change-set. Status holds the full record on
// insert, the changed fields keyed by JSON name on update, nothing on delete.
type Change struct {
	ID     string     `json:"id"`
	Type   ChangeType `json:"type"`
	Status any        `json:"status,omitempty"`
}

// Work states reported for expectations.
const (
	WorkNew       = "new"
	WorkWaiting   = "waiting"
	WorkReady     = "ready"
	WorkWorking   = "working"
	WorkFulfilled = "fulfilled"
	WorkRemoved   = "removed"
	WorkAborted   = "aborted"
	WorkRestarted = "restarted"
)

// FromPackage extends the expectation provenance with the discovered hash.
type FromPackage struct {
	ID                         string `json:"id"`
	ExpectedContentVersionHash string `json:"expectedContentVersionHash"`
	ActualContentVersionHash   string `json:"actualContentVersionHash"`
}

// WorkStatus is the reported status of one expectation.
type WorkStatus struct {
	Label             string            `json:"label"`
	Description       string            `json:"description"`
	Status            string            `json:"status"`
	StatusChanged     int64             `json:"statusChanged"`
	StatusReason      Reason            `json:"statusReason"`
	PrevStatusReasons map[string]Reason `json:"prevStatusReasons"`
	Progress          float64           `json:"progress"`
	Priority          int               `json:"priority"`
	FromPackages      []FromPackage     `json:"fromPackages"`
}

func defaultWorkStatus() WorkStatus {
	return WorkStatus{
		Status:            WorkNew,
		Priority:          9999,
		PrevStatusReasons: map[string]Reason{},
		FromPackages:      []FromPackage{},
	}
}

func diffWorkStatus(prev, next WorkStatus) map[string]any {
	d := map[string]any{}
	if prev.Label != next.Label {
		d["label"] = next.Label
	}
	if prev.Description != next.Description {
		d["description"] = next.Description
	}
	if prev.Status != next.Status {
		d["status"] = next.Status
	}
	if prev.StatusChanged != next.StatusChanged {
		d["statusChanged"] = next.StatusChanged
	}
	if prev.StatusReason != next.StatusReason {
		d["statusReason"] = next.StatusReason
	}
	if !maps.Equal(prev.PrevStatusReasons, next.PrevStatusReasons) {
		d["prevStatusReasons"] = next.PrevStatusReasons
	}
	if prev.Progress != next.Progress {
		d["progress"] = next.Progress
	}
	if prev.Priority != next.Priority {
		d["priority"] = next.Priority
	}
	if !slices.Equal(prev.FromPackages, next.FromPackages) {
		d["fromPackages"] = next.FromPackages
	}
	return d
}

// Package states per container.
const (
	PackageNotReady             = "not_ready"
	PackageTransferringNotReady = "transferring_not_ready"
	PackageTransferringReady    = "transferring_ready"
	PackageReady                = "ready"
)

// PackageStatus is the reported status of a package in a container.
type PackageStatus struct {
	ContainerID        string  `json:"containerId"`
	PackageID          string  `json:"packageId"`
	Status             string  `json:"status"`
	ContentVersionHash string  `json:"contentVersionHash"`
	Progress           float64 `json:"progress"`
	StatusChanged      int64   `json:"statusChanged"`
	StatusReason       Reason  `json:"statusReason"`
}

func defaultPackageStatus() PackageStatus {
	return PackageStatus{Status: PackageNotReady}
}

func diffPackageStatus(prev, next PackageStatus) map[string]any {
	d := map[string]any{}
	if prev.ContainerID != next.ContainerID {
		d["containerId"] = next.ContainerID
	}
	if prev.PackageID != next.PackageID {
		d["packageId"] = next.PackageID
	}
	if prev.Status != next.Status {
		d["status"] = next.Status
	}
	if prev.ContentVersionHash != next.ContentVersionHash {
		d["contentVersionHash"] = next.ContentVersionHash
	}
	if prev.Progress != next.Progress {
		d["progress"] = next.Progress
	}
	if prev.StatusChanged != next.StatusChanged {
		d["statusChanged"] = next.StatusChanged
	}
	if prev.StatusReason != next.StatusReason {
		d["statusReason"] = next.StatusReason
	}
	return d
}

// Container health levels.
const (
	ContainerUnknown      = "unknown"
	ContainerGood         = "good"
	ContainerWarningMinor = "warning_minor"
	ContainerWarningMajor = "warning_major"
	ContainerBad          = "bad"
	ContainerFatal        = "fatal"
)

// MonitorStatus is the health of one container monitor.
type MonitorStatus struct {
	Label        string `json:"label"`
	Status       string `json:"status"`
	StatusReason Reason `json:"statusReason"`
}

// ContainerStatus is the reported health of a container.
type ContainerStatus struct {
	Status        string                   `json:"status"`
	StatusReason  Reason                   `json:"statusReason"`
	StatusChanged int64                    `json:"statusChanged"`
	Monitors      map[string]MonitorStatus `json:"monitors"`
}

func defaultContainerStatus() ContainerStatus {
	return ContainerStatus{Status: ContainerUnknown, Monitors: map[string]MonitorStatus{}}
}

func diffContainerStatus(prev, next ContainerStatus) map[string]any {
	d := map[string]any{}
	if prev.Status != next.Status {
		d["status"] = next.Status
	}
	if prev.StatusReason != next.StatusReason {
		d["statusReason"] = next.StatusReason
	}
	if prev.StatusChanged != next.StatusChanged {
		d["statusChanged"] = next.StatusChanged
	}
	if !maps.Equal(prev.Monitors, next.Monitors) {
		d["monitors"] = next.Monitors
	}
	return d
}
