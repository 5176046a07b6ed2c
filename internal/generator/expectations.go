package generator

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"packagemanager/internal/desiredstate"
	"packagemanager/internal/expectation"
	"packagemanager/internal/pkgcontainer"
)

// Priority offsets per stage. Copies go first, deep scans last.
const (
	offsetCopy      = 0
	offsetScan      = 100
	offsetThumbnail = 200
	offsetPreview   = 300
	offsetDeepScan  = 1000

	// offsetInactiveRundown pushes packages of rundowns not on air back.
	offsetInactiveRundown = 10000
	rundownRankWeight     = 10
)

// PackageInfoContainerID is the catalog container scans write into.
const PackageInfoContainerID = "__corePackageInfo"

var idNamespace = uuid.MustParse("6f1c2a4e-8d3b-4c59-9a7e-2b5d0e4f81c3")

// Settings tune the generated work options.
type Settings struct {
	DelayRemoval            time.Duration
	DelayRemovalPackageInfo time.Duration
	UseTemporaryFilePath    bool
}

func packageInfoContainer() pkgcontainer.PackageContainerOnPackage {
	return pkgcontainer.PackageContainerOnPackage{
		ContainerID: PackageInfoContainerID,
		Label:       "Core package info",
		Accessors: map[string]pkgcontainer.Accessor{
			"coreCollection": {
				Type:       pkgcontainer.AccessorCorePackageInfo,
				Label:      "Core collection",
				AllowRead:  true,
				AllowWrite: true,
			},
		},
	}
}

// GenerateExpectations builds the expectations for the given wraps. The
// active context only weighs priorities. Expectations with equal ids coming
// from different packages are merged: the lowest priority is kept and the
// provenance lists are joined.
func GenerateExpectations(managerID string, wraps []Wrap, active *desiredstate.ActiveContext, settings Settings) (map[string]*expectation.Expectation, error) {
	out := make(map[string]*expectation.Expectation)

	add := func(exp *expectation.Expectation) {
		if existing, ok := out[exp.ID]; ok {
			existing.Priority = min(existing.Priority, exp.Priority)
			existing.FromPackages = expectation.MergeFromPackages(existing.FromPackages, exp.FromPackages)
			return
		}
		out[exp.ID] = exp
	}

	for _, w := range wraps {
		var (
			exps []*expectation.Expectation
			err  error
		)
		switch w.Package.Type {
		case desiredstate.PackageMediaFile:
			exps, err = mediaFileExpectations(managerID, w, settings)
		case desiredstate.PackageQuantelClip:
			exps, err = quantelClipExpectations(managerID, w, settings)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", w.Package.ID, err)
		}

		weight := rundownWeight(w.Package, active)
		for _, exp := range exps {
			exp.Priority += weight
			add(exp)
		}
	}

	return out, nil
}

func rundownWeight(pkg desiredstate.ExpectedPackage, active *desiredstate.ActiveContext) int {
	if pkg.RundownID == "" || active == nil {
		return 0
	}
	if rank, ok := active.RundownRank(pkg.RundownID); ok {
		return rank * rundownRankWeight
	}
	return offsetInactiveRundown
}

func base(managerID string, w Wrap, offset int, label string) *expectation.Expectation {
	return &expectation.Expectation{
		ManagerID: managerID,
		Priority:  w.Priority + offset,
		FromPackages: []expectation.FromPackage{{
			ID:                         w.Package.ID,
			ExpectedContentVersionHash: w.Package.ContentVersionHash,
		}},
		StatusReport: expectation.StatusReport{
			SendReport: !w.External,
			Label:      label,
		},
	}
}

func mediaFileExpectations(managerID string, w Wrap, settings Settings) ([]*expectation.Expectation, error) {
	filePath := w.Package.Content.FilePath
	fileVersion := expectation.FileOnDiskVersion{
		FileSize:     w.Package.Version.FileSize,
		ModifiedDate: w.Package.Version.ModifiedDate,
	}
	copyOptions := expectation.WorkOptions{
		RemoveDelay:          settings.DelayRemoval.Milliseconds(),
		UseTemporaryFilePath: settings.UseTemporaryFilePath,
	}
	infoOptions := expectation.WorkOptions{RemoveDelay: settings.DelayRemovalPackageInfo.Milliseconds()}

	fileCopy := &expectation.FileCopy{WorkOptions: copyOptions}
	fileCopy.StartRequirement.Sources = w.Sources
	fileCopy.EndRequirement.Targets = w.Targets
	fileCopy.EndRequirement.Content.FilePath = filePath
	fileCopy.EndRequirement.Version = fileVersion

	copyExp := base(managerID, w, offsetCopy, fmt.Sprintf("Copying media %q", filePath))
	copyExp.StatusReport.Description = fmt.Sprintf("Copy %q to %s", filePath, containerLabels(w.Targets))
	copyExp.Spec = fileCopy
	if err := assignID(copyExp); err != nil {
		return nil, err
	}

	// Later stages read the file from the copy targets once it is there.
	mediaSource := expectation.MediaSourceRequirement{
		Sources: w.Targets,
		Content: expectation.FileContent{FilePath: filePath},
		Version: fileVersion,
	}
	dependent := func(exp *expectation.Expectation) {
		exp.DependsOnFulfilled = []string{copyExp.ID}
		exp.TriggerByFulfilledIDs = []string{copyExp.ID}
	}

	scan := &expectation.MediaFileScan{StartRequirement: mediaSource, WorkOptions: infoOptions}
	scan.EndRequirement.Targets = []pkgcontainer.PackageContainerOnPackage{packageInfoContainer()}
	scan.EndRequirement.Content.FilePath = filePath
	scanExp := base(managerID, w, offsetScan, fmt.Sprintf("Scanning media %q", filePath))
	scanExp.Spec = scan
	dependent(scanExp)

	deepScan := &expectation.MediaFileDeepScan{StartRequirement: mediaSource, WorkOptions: infoOptions}
	deepScan.EndRequirement.Targets = []pkgcontainer.PackageContainerOnPackage{packageInfoContainer()}
	deepScan.EndRequirement.Content.FilePath = filePath
	deepScan.EndRequirement.Version = expectation.DefaultDeepScanOptions()
	deepScanExp := base(managerID, w, offsetDeepScan, fmt.Sprintf("Deep scanning media %q", filePath))
	deepScanExp.StatusReport.SendReport = false
	deepScanExp.Spec = deepScan
	dependent(deepScanExp)

	exps := []*expectation.Expectation{copyExp, scanExp, deepScanExp}

	side := w.Package.SideEffect
	if target := w.Thumbnail; target != nil {
		thumb := &expectation.MediaFileThumbnail{StartRequirement: mediaSource, WorkOptions: copyOptions}
		thumb.WorkOptions.UseTemporaryFilePath = false
		thumb.EndRequirement.Targets = []pkgcontainer.PackageContainerOnPackage{*target}
		thumb.EndRequirement.Content.FilePath = replaceExt(filePath, ".png")
		thumb.EndRequirement.Version = expectation.ThumbnailVersion{Width: 256}
		if s := side.ThumbnailPackageSettings; s != nil {
			if s.Path != "" {
				thumb.EndRequirement.Content.FilePath = s.Path
			}
			thumb.EndRequirement.Version.SeekTime = s.SeekTime
		}
		exp := base(managerID, w, offsetThumbnail, fmt.Sprintf("Generating thumbnail for %q", filePath))
		exp.Spec = thumb
		dependent(exp)
		exps = append(exps, exp)
	}

	if target := w.Preview; target != nil {
		preview := &expectation.MediaFilePreview{StartRequirement: mediaSource, WorkOptions: copyOptions}
		preview.WorkOptions.UseTemporaryFilePath = false
		preview.EndRequirement.Targets = []pkgcontainer.PackageContainerOnPackage{*target}
		preview.EndRequirement.Content.FilePath = replaceExt(filePath, ".webm")
		preview.EndRequirement.Version = expectation.PreviewVersion{Bitrate: expectation.DefaultPreviewBitrate, Width: 320}
		if s := side.PreviewPackageSettings; s != nil && s.Path != "" {
			preview.EndRequirement.Content.FilePath = s.Path
		}
		exp := base(managerID, w, offsetPreview, fmt.Sprintf("Generating preview for %q", filePath))
		exp.Spec = preview
		dependent(exp)
		exps = append(exps, exp)
	}

	for _, exp := range exps[1:] {
		if err := assignID(exp); err != nil {
			return nil, err
		}
	}
	return exps, nil
}

func quantelClipExpectations(managerID string, w Wrap, settings Settings) ([]*expectation.Expectation, error) {
	content := w.Package.Content

	clipCopy := &expectation.QuantelClipCopy{
		WorkOptions: expectation.WorkOptions{RemoveDelay: settings.DelayRemoval.Milliseconds()},
	}
	clipCopy.StartRequirement.Sources = w.Sources
	clipCopy.EndRequirement.Targets = w.Targets
	clipCopy.EndRequirement.Content = expectation.QuantelContent{GUID: content.GUID, Title: content.Title}
	clipCopy.EndRequirement.Version = expectation.QuantelClipVersion{
		CloneID: w.Package.Version.CloneID,
		Created: w.Package.Version.Created,
		Frames:  w.Package.Version.Frames,
	}

	name := content.Title
	if name == "" {
		name = content.GUID
	}
	exp := base(managerID, w, offsetCopy, fmt.Sprintf("Copying clip %q", name))
	exp.StatusReport.Description = fmt.Sprintf("Copy clip %q to %s", name, containerLabels(w.Targets))
	exp.Spec = clipCopy
	if err := assignID(exp); err != nil {
		return nil, err
	}
	return []*expectation.Expectation{exp}, nil
}

// assignID derives the id from the type, the requirements and the manager
// id. Work options and priority are left out so they can change in place.
func assignID(exp *expectation.Expectation) error {
	data, err := json.Marshal(exp.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal expectation: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("failed to normalize expectation: %w", err)
	}
	delete(fields, "workOptions")

	canonical, err := json.Marshal(struct {
		ManagerID string                     `json:"managerId"`
		Type      expectation.Type           `json:"type"`
		Fields    map[string]json.RawMessage `json:"fields"`
	}{exp.ManagerID, exp.Spec.Type(), fields})
	if err != nil {
		return fmt.Errorf("failed to marshal expectation id input: %w", err)
	}

	exp.ID = uuid.NewSHA1(idNamespace, canonical).String()
	return nil
}

func replaceExt(p, ext string) string {
	return strings.TrimSuffix(p, path.Ext(p)) + ext
}

func containerLabels(cs []pkgcontainer.PackageContainerOnPackage) string {
	labels := make([]string, 0, len(cs))
	for _, c := range cs {
		if c.Label != "" {
			labels = append(labels, c.Label)
		} else {
			labels = append(labels, c.ContainerID)
		}
	}
	return strings.Join(labels, ", ")
}
