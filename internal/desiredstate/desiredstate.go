// Package desiredstate holds the declared desired state: containers, the
// packages expected in them and the active context used for priorities.
package desiredstate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/pkgcontainer"
)

// PackageType is the kind of media an expected package describes.
type PackageType string

const (
	PackageMediaFile   PackageType = "media_file"
	PackageQuantelClip PackageType = "quantel_clip"
)

// Origin tells where an expected package was declared.
type Origin string

const (
	OriginUpstream Origin = "upstream"
	OriginMonitor  Origin = "monitor"
)

// Content addresses the package content. FilePath applies to media files,
// GUID and Title to clips.
type Content struct {
	FilePath string `json:"filePath,omitempty"`
	GUID     string `json:"guid,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Version is the expected version of the package content.
type Version struct {
	FileSize     int64  `json:"fileSize,omitempty"`
	ModifiedDate int64  `json:"modifiedDate,omitempty"`
	CloneID      int    `json:"cloneId,omitempty"`
	Created      string `json:"created,omitempty"`
	Frames       int    `json:"frames,omitempty"`
}

// Source references a container the package can be read from.
type Source struct {
	ContainerID string                                   `json:"containerId" validate:"required"`
	Accessors   map[string]pkgcontainer.AccessorOverride `json:"accessors,omitempty"`
}

// PreviewSettings place the generated preview.
type PreviewSettings struct {
	Path string `json:"path"`
}

// ThumbnailSettings place the generated thumbnail.
type ThumbnailSettings struct {
	Path     string `json:"path"`
	SeekTime int    `json:"seekTime,omitempty"`
}

// SideEffect requests derived artifacts of a package.
type SideEffect struct {
	PreviewContainerID       string             `json:"previewContainerId,omitempty"`
	PreviewPackageSettings   *PreviewSettings   `json:"previewPackageSettings,omitempty"`
	ThumbnailContainerID     string             `json:"thumbnailContainerId,omitempty"`
	ThumbnailPackageSettings *ThumbnailSettings `json:"thumbnailPackageSettings,omitempty"`
}

// ExpectedPackage is a package that must exist in its layers.
type ExpectedPackage struct {
	ID                 string      `json:"_id" validate:"required"`
	Type               PackageType `json:"type" validate:"required,oneof=media_file quantel_clip"`
	Content            Content     `json:"content"`
	Version            Version     `json:"version"`
	ContentVersionHash string      `json:"contentVersionHash,omitempty"`
	// Sources are ordered, earlier sources are preferred.
	Sources    []Source   `json:"sources" validate:"dive"`
	Layers     []string   `json:"layers" validate:"dive,required"`
	SideEffect SideEffect `json:"sideEffect"`
	// Priority: lower is more urgent.
	Priority  int    `json:"priority"`
	RundownID string `json:"rundownId,omitempty"`
	Origin    Origin `json:"origin,omitempty" validate:"omitempty,oneof=upstream monitor"`
}

// ActiveRundown is a rundown of the active playlist.
type ActiveRundown struct {
	ID   string `json:"id" validate:"required"`
	Rank int    `json:"rank"`
}

// ActiveContext tells which playlist and rundowns are on air.
type ActiveContext struct {
	ActivePlaylistID string          `json:"activePlaylistId,omitempty"`
	ActiveRundowns   []ActiveRundown `json:"activeRundowns" validate:"dive"`
}

// RundownRank returns the rank of an active rundown.
func (a *ActiveContext) RundownRank(rundownID string) (int, bool) {
	if a == nil {
		return 0, false
	}
	for _, r := range a.ActiveRundowns {
		if r.ID == rundownID {
			return r.Rank, true
		}
	}
	return 0, false
}

// Snapshot is a full-replace desired state. A nil collection means the
// collection was not received; an empty one is valid.
type Snapshot struct {
	Containers       map[string]pkgcontainer.PackageContainer `json:"containers" validate:"dive"`
	ExpectedPackages []ExpectedPackage                        `json:"expectedPackages" validate:"dive"`
	ActiveContext    *ActiveContext                           `json:"activeContext"`
}

// Missing returns the name of the first collection not received, or "".
func (s *Snapshot) Missing() string {
	switch {
	case s == nil || s.Containers == nil:
		return "containers"
	case s.ExpectedPackages == nil:
		return "expectedPackages"
	case s.ActiveContext == nil:
		return "activeContext"
	}
	return ""
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate reports a missing collection as an inconsistency and any
// malformed entry as a validation error.
func (s *Snapshot) Validate() error {
	if missing := s.Missing(); missing != "" {
		return apperrors.Inconsistent(missing)
	}

	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.Validation("snapshot", err.Error())
	}
	fe := verrs[0]
	return apperrors.Validation(fe.Namespace(), fmt.Sprintf("failed %q", fe.Tag()))
}
