package expectation

import "packagemanager/internal/pkgcontainer"

// FileContent addresses a file inside a container.
type FileContent struct {
	FilePath string `json:"filePath"`
}

// QuantelContent addresses a clip on a video server.
type QuantelContent struct {
	GUID  string `json:"guid,omitempty"`
	Title string `json:"title,omitempty"`
}

// SourceRequirement lists the containers a copy may read from, in order of preference.
type SourceRequirement struct {
	Sources []pkgcontainer.PackageContainerOnPackage `json:"sources"`
}

// MediaSourceRequirement is the start requirement of the derived media
// stages: the file must exist in a source in the given version.
type MediaSourceRequirement struct {
	Sources []pkgcontainer.PackageContainerOnPackage `json:"sources"`
	Content FileContent                              `json:"content"`
	Version FileOnDiskVersion                        `json:"version"`
}

// FileCopy copies a file from one of its sources into every target.
type FileCopy struct {
	StartRequirement SourceRequirement `json:"startRequirement"`
	EndRequirement   struct {
		Targets []pkgcontainer.PackageContainerOnPackage `json:"targets"`
		Content FileContent                              `json:"content"`
		Version FileOnDiskVersion                        `json:"version"`
	} `json:"endRequirement"`
	WorkOptions WorkOptions `json:"workOptions"`
}

// MediaFileScan records basic media info into a package-info catalog.
type MediaFileScan struct {
	StartRequirement MediaSourceRequirement `json:"startRequirement"`
	EndRequirement   struct {
		Targets []pkgcontainer.PackageContainerOnPackage `json:"targets"`
		Content FileContent                              `json:"content"`
		Version CorePackageInfoVersion                   `json:"version"`
	} `json:"endRequirement"`
	WorkOptions WorkOptions `json:"workOptions"`
}

// MediaFileDeepScan records field order, scenes, freezes and black frames.
type MediaFileDeepScan struct {
	StartRequirement MediaSourceRequirement `json:"startRequirement"`
	EndRequirement   struct {
		Targets []pkgcontainer.PackageContainerOnPackage `json:"targets"`
		Content FileContent                              `json:"content"`
		Version DeepScanOptions                          `json:"version"`
	} `json:"endRequirement"`
	WorkOptions WorkOptions `json:"workOptions"`
}

// MediaFileThumbnail renders a still image of the file.
type MediaFileThumbnail struct {
	StartRequirement MediaSourceRequirement `json:"startRequirement"`
	EndRequirement   struct {
		Targets []pkgcontainer.PackageContainerOnPackage `json:"targets"`
		Content FileContent                              `json:"content"`
		Version ThumbnailVersion                         `json:"version"`
	} `json:"endRequirement"`
	WorkOptions WorkOptions `json:"workOptions"`
}

// MediaFilePreview renders a low-resolution preview of the file.
type MediaFilePreview struct {
	StartRequirement MediaSourceRequirement `json:"startRequirement"`
	EndRequirement   struct {
		Targets []pkgcontainer.PackageContainerOnPackage `json:"targets"`
		Content FileContent                              `json:"content"`
		Version PreviewVersion                           `json:"version"`
	} `json:"endRequirement"`
	WorkOptions WorkOptions `json:"workOptions"`
}

// QuantelClipCopy copies a clip between video servers.
type QuantelClipCopy struct {
	StartRequirement SourceRequirement `json:"startRequirement"`
	EndRequirement   struct {
		Targets []pkgcontainer.PackageContainerOnPackage `json:"targets"`
		Content QuantelContent                           `json:"content"`
		Version QuantelClipVersion                       `json:"version"`
	} `json:"endRequirement"`
	WorkOptions WorkOptions `json:"workOptions"`
}

func (s *FileCopy) Type() Type { return TypeFileCopy }
func (s *FileCopy) Sources() []pkgcontainer.PackageContainerOnPackage {
	return s.StartRequirement.Sources
}
func (s *FileCopy) Targets() []pkgcontainer.PackageContainerOnPackage {
	return s.EndRequirement.Targets
}
func (s *FileCopy) Options() WorkOptions { return s.WorkOptions }
func (*FileCopy) isSpec()                {}

func (s *MediaFileScan) Type() Type { return TypeMediaFileScan }
func (s *MediaFileScan) Sources() []pkgcontainer.PackageContainerOnPackage {
	return s.StartRequirement.Sources
}
func (s *MediaFileScan) Targets() []pkgcontainer.PackageContainerOnPackage {
	return s.EndRequirement.Targets
}
func (s *MediaFileScan) Options() WorkOptions { return s.WorkOptions }
func (*MediaFileScan) isSpec()                {}

func (s *MediaFileDeepScan) Type() Type { return TypeMediaFileDeepScan }
func (s *MediaFileDeepScan) Sources() []pkgcontainer.PackageContainerOnPackage {
	return s.StartRequirement.Sources
}
func (s *MediaFileDeepScan) Targets() []pkgcontainer.PackageContainerOnPackage {
	return s.EndRequirement.Targets
}
func (s *MediaFileDeepScan) Options() WorkOptions { return s.WorkOptions }
func (*MediaFileDeepScan) isSpec()                {}

func (s *MediaFileThumbnail) Type() Type { return TypeMediaFileThumbnail }
func (s *MediaFileThumbnail) Sources() []pkgcontainer.PackageContainerOnPackage {
	return s.StartRequirement.Sources
}
func (s *MediaFileThumbnail) Targets() []pkgcontainer.PackageContainerOnPackage {
	return s.EndRequirement.Targets
}
func (s *MediaFileThumbnail) Options() WorkOptions { return s.WorkOptions }
func (*MediaFileThumbnail) isSpec()                {}

func (s *MediaFilePreview) Type() Type { return TypeMediaFilePreview }
func (s *MediaFilePreview) Sources() []pkgcontainer.PackageContainerOnPackage {
	return s.StartRequirement.Sources
}
func (s *MediaFilePreview) Targets() []pkgcontainer.PackageContainerOnPackage {
	return s.EndRequirement.Targets
}
func (s *MediaFilePreview) Options() WorkOptions { return s.WorkOptions }
func (*MediaFilePreview) isSpec()                {}

func (s *QuantelClipCopy) Type() Type { return TypeQuantelClipCopy }
func (s *QuantelClipCopy) Sources() []pkgcontainer.PackageContainerOnPackage {
	return s.StartRequirement.Sources
}
func (s *QuantelClipCopy) Targets() []pkgcontainer.PackageContainerOnPackage {
	return s.EndRequirement.Targets
}
func (s *QuantelClipCopy) Options() WorkOptions { return s.WorkOptions }
func (*QuantelClipCopy) isSpec()                {}

// newSpec returns an empty Spec for t, or nil when t is unknown.
func newSpec(t Type) Spec {
	switch t {
	case TypeFileCopy:
		return &FileCopy{}
	case TypeMediaFileScan:
		return &MediaFileScan{}
	case TypeMediaFileDeepScan:
		return &MediaFileDeepScan{}
	case TypeMediaFileThumbnail:
		return &MediaFileThumbnail{}
	case TypeMediaFilePreview:
		return &MediaFilePreview{}
	case TypeQuantelClipCopy:
		return &QuantelClipCopy{}
	default:
		return nil
	}
}
