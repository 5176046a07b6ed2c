package desiredstate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/pkgcontainer"
)

const sampleYAML = `
containers:
  source0:
    containerId: source0
    label: Source
    accessors:
      local:
        type: local_folder
        allowRead: true
        folderPath: /media/source
  target0:
    containerId: target0
    accessors:
      local:
        type: local_folder
        allowRead: true
        allowWrite: true
        folderPath: /media/target
expectedPackages:
  - _id: pkg0
    type: media_file
    content:
      filePath: amb.mp4
    version:
      fileSize: 1024
    sources:
      - containerId: source0
        accessors:
          local:
            filePath: amb.mp4
    layers: [target0]
    priority: 5
activeContext:
  activePlaylistId: playlist0
  activeRundowns:
    - id: rundown0
      rank: 1
`

func TestParse(t *testing.T) {
	t.Parallel()

	snap, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(snap.Containers) != 2 {
		t.Errorf("Expected 2 containers, got %d", len(snap.Containers))
	}
	if got := snap.Containers["target0"].Accessors["local"]; !got.AllowWrite || got.Type != pkgcontainer.AccessorLocalFolder {
		t.Errorf("Unexpected target accessor: %+v", got)
	}
	if len(snap.ExpectedPackages) != 1 {
		t.Fatalf("Expected 1 package, got %d", len(snap.ExpectedPackages))
	}
	pkg := snap.ExpectedPackages[0]
	if pkg.ID != "pkg0" || pkg.Priority != 5 || pkg.Version.FileSize != 1024 {
		t.Errorf("Unexpected package: %+v", pkg)
	}
	if pkg.Sources[0].Accessors["local"].FilePath != "amb.mp4" {
		t.Errorf("Unexpected source override: %+v", pkg.Sources[0])
	}
	if rank, ok := snap.ActiveContext.RundownRank("rundown0"); !ok || rank != 1 {
		t.Errorf("Expected rundown0 rank 1, got %d %v", rank, ok)
	}
	if err := snap.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestSnapshot_Validate(t *testing.T) {
	t.Parallel()

	valid := func() *Snapshot {
		return &Snapshot{
			Containers: map[string]pkgcontainer.PackageContainer{"c": {ContainerID: "c"}},
			ExpectedPackages: []ExpectedPackage{
				{ID: "p", Type: PackageMediaFile, Sources: []Source{{ContainerID: "c"}}, Layers: []string{"c"}},
			},
			ActiveContext: &ActiveContext{},
		}
	}

	tests := []struct {
		name    string
		mutate  func(s *Snapshot)
		wantErr error
	}{
		{name: "valid", mutate: func(*Snapshot) {}},
		{name: "empty collections are valid", mutate: func(s *Snapshot) {
			s.Containers = map[string]pkgcontainer.PackageContainer{}
			s.ExpectedPackages = []ExpectedPackage{}
		}},
		{name: "missing containers", mutate: func(s *Snapshot) { s.Containers = nil }, wantErr: apperrors.ErrInconsistent},
		{name: "missing packages", mutate: func(s *Snapshot) { s.ExpectedPackages = nil }, wantErr: apperrors.ErrInconsistent},
		{name: "missing active context", mutate: func(s *Snapshot) { s.ActiveContext = nil }, wantErr: apperrors.ErrInconsistent},
		{name: "unknown package type", mutate: func(s *Snapshot) { s.ExpectedPackages[0].Type = "audio" }, wantErr: apperrors.ErrValidation},
		{name: "package without id", mutate: func(s *Snapshot) { s.ExpectedPackages[0].ID = "" }, wantErr: apperrors.ErrValidation},
		{name: "source without container", mutate: func(s *Snapshot) { s.ExpectedPackages[0].Sources[0].ContainerID = "" }, wantErr: apperrors.ErrValidation},
		{name: "empty layer", mutate: func(s *Snapshot) { s.ExpectedPackages[0].Layers = []string{""} }, wantErr: apperrors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFileSource_RunOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "desired.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	var got *Snapshot
	src := NewFileSource(path, false)
	if err := src.Run(context.Background(), func(s *Snapshot) { got = s }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got == nil || len(got.ExpectedPackages) != 1 {
		t.Fatalf("Expected snapshot to be applied, got %+v", got)
	}
}

func TestFileSource_InvalidFileKeepsQuiet(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "desired.yaml")
	if err := os.WriteFile(path, []byte("containers: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}

	called := false
	if err := NewFileSource(path, false).Run(context.Background(), func(*Snapshot) { called = true }); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if called {
		t.Error("Expected apply not to be called for an unparsable file")
	}
}
