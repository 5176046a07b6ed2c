// Package generator turns a desired-state snapshot into expectations.
// Every function here is pure and deterministic: identical inputs produce
// identical ids and content, which is what lets the manager diff generations.
package generator

import (
	"packagemanager/internal/desiredstate"
	"packagemanager/internal/pkgcontainer"
)

// MonitorPriority is the default priority of packages reported by monitors.
const MonitorPriority = 999

// Wrap is an expected package with its source and target containers resolved.
type Wrap struct {
	Package  desiredstate.ExpectedPackage
	Priority int
	// External marks packages not declared upstream (monitor discoveries).
	External bool
	Sources  []pkgcontainer.PackageContainerOnPackage
	Targets  []pkgcontainer.PackageContainerOnPackage
	// Side-effect containers, nil when not requested or unknown.
	Thumbnail *pkgcontainer.PackageContainerOnPackage
	Preview   *pkgcontainer.PackageContainerOnPackage
}

// WrapPackage resolves pkg against containers. Sources keep their declared
// order, unknown containers are skipped. The second result is false when the
// wrap has no resolvable source or no resolvable target.
func WrapPackage(containers map[string]pkgcontainer.PackageContainer, pkg desiredstate.ExpectedPackage) (Wrap, bool) {
	w := Wrap{
		Package:  pkg,
		Priority: pkg.Priority,
		External: pkg.Origin == desiredstate.OriginMonitor,
	}

	for _, src := range pkg.Sources {
		resolved, err := pkgcontainer.Resolve(containers, src.ContainerID, src.Accessors)
		if err != nil {
			continue
		}
		w.Sources = append(w.Sources, resolved)
	}

	seen := make(map[string]bool, len(pkg.Layers))
	for _, layer := range pkg.Layers {
		if seen[layer] {
			continue
		}
		seen[layer] = true
		resolved, err := pkgcontainer.Resolve(containers, layer, nil)
		if err != nil {
			continue
		}
		w.Targets = append(w.Targets, resolved)
	}

	if len(w.Sources) == 0 || len(w.Targets) == 0 {
		return Wrap{}, false
	}

	w.Thumbnail = resolveOptional(containers, pkg.SideEffect.ThumbnailContainerID)
	w.Preview = resolveOptional(containers, pkg.SideEffect.PreviewContainerID)
	return w, true
}

func resolveOptional(containers map[string]pkgcontainer.PackageContainer, containerID string) *pkgcontainer.PackageContainerOnPackage {
	if containerID == "" {
		return nil
	}
	resolved, err := pkgcontainer.Resolve(containers, containerID, nil)
	if err != nil {
		return nil
	}
	return &resolved
}

// WrapAll wraps every package, dropping invalid wraps.
func WrapAll(containers map[string]pkgcontainer.PackageContainer, pkgs []desiredstate.ExpectedPackage) []Wrap {
	wraps := make([]Wrap, 0, len(pkgs))
	for _, pkg := range pkgs {
		if w, ok := WrapPackage(containers, pkg); ok {
			wraps = append(wraps, w)
		}
	}
	return wraps
}

// Dedupe keeps one wrap per package id: the one with the lowest priority
// value, the first seen on ties. The order of first appearance is kept.
func Dedupe(wraps []Wrap) []Wrap {
	index := make(map[string]int, len(wraps))
	out := make([]Wrap, 0, len(wraps))
	for _, w := range wraps {
		i, ok := index[w.Package.ID]
		if !ok {
			index[w.Package.ID] = len(out)
			out = append(out, w)
			continue
		}
		if w.Priority < out[i].Priority {
			out[i] = w
		}
	}
	return out
}
