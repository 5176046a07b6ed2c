package expectation

import "packagemanager/internal/pkgcontainer"

const (
	// CronJobCleanup removes packages no longer expected from a container.
	CronJobCleanup = "cleanup"
	// MonitorPackages watches a container for packages appearing in it.
	MonitorPackages = "packages"
)

// CronJob is a named periodic maintenance job on a container.
type CronJob struct {
	Label string `json:"label"`
}

// Monitor is a named watcher on a container.
type Monitor struct {
	Label string `json:"label"`
	// TargetLayers are the container ids discovered packages should be copied to.
	TargetLayers []string `json:"targetLayers,omitempty"`
}

// PackageContainerExpectation tracks one container: its accessors, the
// maintenance jobs to run on it and the monitors to keep on it.
type PackageContainerExpectation struct {
	ID          string                           `json:"id"`
	ManagerID   string                           `json:"managerId"`
	ContainerID string                           `json:"containerId"`
	Label       string                           `json:"label,omitempty"`
	Accessors   map[string]pkgcontainer.Accessor `json:"accessors"`
	CronJobs    map[string]CronJob               `json:"cronjobs"`
	Monitors    map[string]Monitor               `json:"monitors"`
}
