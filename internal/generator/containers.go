package generator

import (
	"maps"
	"slices"

	"packagemanager/internal/expectation"
	"packagemanager/internal/pkgcontainer"
)

const (
	cleanupLabel        = "Clean up old packages"
	monitorPackageLabel = "Monitor packages"
)

// GeneratePackageContainerExpectations returns one entry per known container.
// Containers with MonitorPackages get a packages monitor whose target layers
// are the layers of the wraps reading from them. Every writable container
// gets the cleanup cronjob.
func GeneratePackageContainerExpectations(managerID string, containers map[string]pkgcontainer.PackageContainer, wraps []Wrap) map[string]*expectation.PackageContainerExpectation {
	out := make(map[string]*expectation.PackageContainerExpectation, len(containers))

	for _, id := range slices.Sorted(maps.Keys(containers)) {
		c := containers[id]
		if !c.MonitorPackages {
			continue
		}
		entry := newContainerExpectation(managerID, id, c)
		entry.Monitors[expectation.MonitorPackages] = expectation.Monitor{
			Label:        monitorPackageLabel,
			TargetLayers: layersSourcedFrom(id, wraps),
		}
		out[id] = entry
	}

	for _, id := range slices.Sorted(maps.Keys(containers)) {
		c := containers[id]
		entry, ok := out[id]
		if !ok {
			entry = newContainerExpectation(managerID, id, c)
			out[id] = entry
		}
		if c.Writable() {
			entry.CronJobs[expectation.CronJobCleanup] = expectation.CronJob{Label: cleanupLabel}
		}
	}

	return out
}

func newContainerExpectation(managerID, id string, c pkgcontainer.PackageContainer) *expectation.PackageContainerExpectation {
	return &expectation.PackageContainerExpectation{
		ID:          id,
		ManagerID:   managerID,
		ContainerID: id,
		Label:       c.Label,
		Accessors:   maps.Clone(c.Accessors),
		CronJobs:    map[string]expectation.CronJob{},
		Monitors:    map[string]expectation.Monitor{},
	}
}

func layersSourcedFrom(containerID string, wraps []Wrap) []string {
	var layers []string
	for _, w := range wraps {
		if !slices.ContainsFunc(w.Sources, func(s pkgcontainer.PackageContainerOnPackage) bool {
			return s.ContainerID == containerID
		}) {
			continue
		}
		for _, t := range w.Targets {
			if !slices.Contains(layers, t.ContainerID) {
				layers = append(layers, t.ContainerID)
			}
		}
	}
	slices.Sort(layers)
	return layers
}
