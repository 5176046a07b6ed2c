// Package pkgcontainer describes storage containers, the accessors used to
// reach them and the per-package accessor overrides.
package pkgcontainer

import (
	"slices"

	"packagemanager/internal/apperrors"
)

// AccessorType tags the protocol an accessor speaks.
type AccessorType string

const (
	AccessorLocalFolder     AccessorType = "local_folder"
	AccessorFileShare       AccessorType = "file_share"
	AccessorHTTP            AccessorType = "http"
	AccessorHTTPProxy       AccessorType = "http_proxy"
	AccessorQuantel         AccessorType = "quantel"
	AccessorCorePackageInfo AccessorType = "corepackageinfo"
)

// Accessor is one way of reaching a container.
// Only the parameters relevant to Type are set.
type Accessor struct {
	Type       AccessorType `json:"type"`
	Label      string       `json:"label,omitempty"`
	AllowRead  bool         `json:"allowRead"`
	AllowWrite bool         `json:"allowWrite"`

	// local_folder, file_share
	FolderPath string `json:"folderPath,omitempty"`
	FilePath   string `json:"filePath,omitempty"`
	ResourceID string `json:"resourceId,omitempty"`
	NetworkID  string `json:"networkId,omitempty"`
	UserName   string `json:"userName,omitempty"`
	Password   string `json:"password,omitempty"`

	// http, http_proxy
	BaseURL             string `json:"baseUrl,omitempty"`
	URL                 string `json:"url,omitempty"`
	IsImmutable         bool   `json:"isImmutable,omitempty"`
	UseGETInsteadOfHEAD bool   `json:"useGETinsteadOfHEAD,omitempty"`

	// quantel
	QuantelGatewayURL string   `json:"quantelGatewayUrl,omitempty"`
	ISAURLs           []string `json:"ISAUrls,omitempty"`
	ZoneID            string   `json:"zoneId,omitempty"`
	ServerID          int      `json:"serverId,omitempty"`
	TransformerURL    string   `json:"transformerURL,omitempty"`
	FileflowURL       string   `json:"fileflowURL,omitempty"`
	GUID              string   `json:"guid,omitempty"`
	Title             string   `json:"title,omitempty"`
}

// AccessorOverride is a package-specific override of a container accessor.
// Unset fields leave the container value in place.
type AccessorOverride struct {
	Type       AccessorType `json:"type,omitempty"`
	Label      string       `json:"label,omitempty"`
	AllowRead  *bool        `json:"allowRead,omitempty"`
	AllowWrite *bool        `json:"allowWrite,omitempty"`

	FolderPath string `json:"folderPath,omitempty"`
	FilePath   string `json:"filePath,omitempty"`
	ResourceID string `json:"resourceId,omitempty"`
	NetworkID  string `json:"networkId,omitempty"`
	UserName   string `json:"userName,omitempty"`
	Password   string `json:"password,omitempty"`

	BaseURL             string `json:"baseUrl,omitempty"`
	URL                 string `json:"url,omitempty"`
	IsImmutable         *bool  `json:"isImmutable,omitempty"`
	UseGETInsteadOfHEAD *bool  `json:"useGETinsteadOfHEAD,omitempty"`

	QuantelGatewayURL string   `json:"quantelGatewayUrl,omitempty"`
	ISAURLs           []string `json:"ISAUrls,omitempty"`
	ZoneID            string   `json:"zoneId,omitempty"`
	ServerID          *int     `json:"serverId,omitempty"`
	TransformerURL    string   `json:"transformerURL,omitempty"`
	FileflowURL       string   `json:"fileflowURL,omitempty"`
	GUID              string   `json:"guid,omitempty"`
	Title             string   `json:"title,omitempty"`
}

// PackageContainer is a named storage location with its accessors.
type PackageContainer struct {
	ContainerID string              `json:"containerId" validate:"required"`
	Label       string              `json:"label,omitempty"`
	Accessors   map[string]Accessor `json:"accessors"`
	// MonitorPackages asks for a "packages" monitor on this container.
	MonitorPackages bool `json:"monitorPackages,omitempty"`
}

// Writable reports whether any accessor allows writing.
func (c PackageContainer) Writable() bool {
	for _, a := range c.Accessors {
		if a.AllowWrite {
			return true
		}
	}
	return false
}

// PackageContainerOnPackage is a container resolved for one package, with
// accessor overrides already merged.
type PackageContainerOnPackage struct {
	ContainerID string              `json:"containerId"`
	Label       string              `json:"label,omitempty"`
	Accessors   map[string]Accessor `json:"accessors"`
}

// AccessorIDs returns the accessor ids in sorted order.
func (c PackageContainerOnPackage) AccessorIDs() []string {
	ids := make([]string, 0, len(c.Accessors))
	for id := range c.Accessors {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Resolve materializes container containerID for a package, merging each
// accessor with the package's overrides. Accessor ids present on only one
// side are taken from that side.
func Resolve(containers map[string]PackageContainer, containerID string, overrides map[string]AccessorOverride) (PackageContainerOnPackage, error) {
	container, ok := containers[containerID]
	if !ok {
		return PackageContainerOnPackage{}, apperrors.NotFound("container", containerID)
	}

	accessors := make(map[string]Accessor, len(container.Accessors)+len(overrides))
	for id, base := range container.Accessors {
		var override *AccessorOverride
		if o, ok := overrides[id]; ok {
			override = &o
		}
		if merged := MergeAccessor(&base, override); merged != nil {
			accessors[id] = *merged
		}
	}
	for id, o := range overrides {
		if _, done := accessors[id]; done {
			continue
		}
		if merged := MergeAccessor(nil, &o); merged != nil {
			accessors[id] = *merged
		}
	}

	return PackageContainerOnPackage{
		ContainerID: container.ContainerID,
		Label:       container.Label,
		Accessors:   accessors,
	}, nil
}
