// Package expectation defines the unit of work tracked by the manager: an
// Expectation converges a start state (sources) to an end state (targets
// holding the expected content and version).
package expectation

import (
	"reflect"
	"slices"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/pkgcontainer"
)

// Type identifies an Expectation variant.
type Type string

const (
	TypeFileCopy           Type = "file_copy"
	TypeMediaFileScan      Type = "media_file_scan"
	TypeMediaFileDeepScan  Type = "media_file_deep_scan"
	TypeMediaFileThumbnail Type = "media_file_thumbnail"
	TypeMediaFilePreview   Type = "media_file_preview"
	TypeQuantelClipCopy    Type = "quantel_clip_copy"
)

// IsCopy reports whether the type moves package content into its targets.
// Copies are the expectations that drive per-container package statuses.
func (t Type) IsCopy() bool {
	return t == TypeFileCopy || t == TypeQuantelClipCopy
}

// Reason explains a state to an operator (User) and to a developer (Tech).
type Reason struct {
	User string `json:"user"`
	Tech string `json:"tech"`
}

// IsZero reports whether both texts are empty.
func (r Reason) IsZero() bool {
	return r.User == "" && r.Tech == ""
}

// FromPackage records which expected package caused an Expectation.
type FromPackage struct {
	ID                         string `json:"id"`
	ExpectedContentVersionHash string `json:"expectedContentVersionHash"`
}

// StatusReport controls upstream reporting for an Expectation.
type StatusReport struct {
	SendReport  bool   `json:"sendReport"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Spec is the variant-specific part of an Expectation. The set of
// implementations is closed; see the variant types in this package.
type Spec interface {
	Type() Type
	Sources() []pkgcontainer.PackageContainerOnPackage
	Targets() []pkgcontainer.PackageContainerOnPackage
	Options() WorkOptions
	isSpec()
}

// Expectation is one trackable unit of work.
type Expectation struct {
	ID           string        `json:"id"`
	ManagerID    string        `json:"managerId"`
	Priority     int           `json:"priority"`
	FromPackages []FromPackage `json:"fromPackages"`
	StatusReport StatusReport  `json:"statusReport"`
	// DependsOnFulfilled lists ids that must all be fulfilled before this one may start.
	DependsOnFulfilled []string `json:"dependsOnFullfilled,omitempty"`
	// TriggerByFulfilledIDs lists ids whose fulfillment re-evaluates this one immediately.
	TriggerByFulfilledIDs []string `json:"triggerByFullfilledIds,omitempty"`

	Spec Spec `json:"-"`
}

// Type returns the variant type.
func (e *Expectation) Type() Type {
	if e.Spec == nil {
		return ""
	}
	return e.Spec.Type()
}

// Validate checks the structural invariants of an Expectation.
func (e *Expectation) Validate() error {
	if e.ID == "" {
		return apperrors.Validation("id", "expectation id is required")
	}
	if e.Spec == nil {
		return apperrors.Validation("type", "expectation type is required")
	}
	if len(e.Spec.Targets()) == 0 {
		return apperrors.Validation("endRequirement.targets", "expectation must have at least one target")
	}
	return nil
}

// Equal reports whether two expectations carry identical content.
func Equal(a, b *Expectation) bool {
	return reflect.DeepEqual(a, b)
}

// EqualExceptPriority reports whether a and b only differ in priority.
func EqualExceptPriority(a, b *Expectation) bool {
	if a == nil || b == nil {
		return a == b
	}
	ac, bc := *a, *b
	ac.Priority, bc.Priority = 0, 0
	return reflect.DeepEqual(&ac, &bc)
}

// MergeFromPackages returns the union of two provenance lists, keeping the
// order of first appearance.
func MergeFromPackages(a, b []FromPackage) []FromPackage {
	out := slices.Clone(a)
	for _, fp := range b {
		if !slices.Contains(out, fp) {
			out = append(out, fp)
		}
	}
	return out
}
