package pkgcontainer

import (
	"errors"
	"testing"

	"packagemanager/internal/apperrors"
)

func boolPtr(b bool) *bool { return &b }

func TestMergeAccessor(t *testing.T) {
	t.Parallel()

	base := &Accessor{
		Type:       AccessorLocalFolder,
		Label:      "Local",
		AllowRead:  true,
		AllowWrite: false,
		FolderPath: "/media/clips",
	}

	tests := []struct {
		name     string
		base     *Accessor
		override *AccessorOverride
		check    func(t *testing.T, got *Accessor)
	}{
		{
			name: "neither side",
			check: func(t *testing.T, got *Accessor) {
				if got != nil {
					t.Errorf("Expected nil, got %+v", got)
				}
			},
		},
		{
			name: "base only",
			base: base,
			check: func(t *testing.T, got *Accessor) {
				if got.FolderPath != "/media/clips" || !got.AllowRead {
					t.Errorf("Expected base accessor, got %+v", got)
				}
			},
		},
		{
			name:     "override only",
			override: &AccessorOverride{Type: AccessorHTTP, URL: "http://origin/clip.mp4", AllowRead: boolPtr(true)},
			check: func(t *testing.T, got *Accessor) {
				if got.Type != AccessorHTTP || got.URL != "http://origin/clip.mp4" || !got.AllowRead {
					t.Errorf("Expected override accessor, got %+v", got)
				}
			},
		},
		{
			name:     "same type merges field by field",
			base:     base,
			override: &AccessorOverride{Type: AccessorLocalFolder, FilePath: "amb.mp4", AllowWrite: boolPtr(true)},
			check: func(t *testing.T, got *Accessor) {
				if got.FolderPath != "/media/clips" {
					t.Errorf("Expected folderPath kept from base, got %q", got.FolderPath)
				}
				if got.FilePath != "amb.mp4" {
					t.Errorf("Expected filePath from override, got %q", got.FilePath)
				}
				if !got.AllowWrite {
					t.Error("Expected allowWrite from override")
				}
				if got.Label != "Local" {
					t.Errorf("Expected label kept, got %q", got.Label)
				}
			},
		},
		{
			name:     "untyped override merges",
			base:     base,
			override: &AccessorOverride{FilePath: "amb.mp4", AllowRead: boolPtr(false)},
			check: func(t *testing.T, got *Accessor) {
				if got.Type != AccessorLocalFolder || got.FilePath != "amb.mp4" {
					t.Errorf("Expected merge onto base type, got %+v", got)
				}
				if got.AllowRead {
					t.Error("Expected explicit false override to win")
				}
			},
		},
		{
			name:     "different type replaces",
			base:     base,
			override: &AccessorOverride{Type: AccessorFileShare, FolderPath: `\\nas\media`},
			check: func(t *testing.T, got *Accessor) {
				if got.Type != AccessorFileShare || got.FolderPath != `\\nas\media` {
					t.Errorf("Expected replacement, got %+v", got)
				}
				if got.AllowRead || got.Label != "" {
					t.Errorf("Expected no base fields to leak, got %+v", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, MergeAccessor(tt.base, tt.override))
		})
	}
}

func TestMergeAccessor_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	base := &Accessor{Type: AccessorQuantel, ISAURLs: []string{"isa-1"}}
	override := &AccessorOverride{ISAURLs: []string{"isa-2"}}

	got := MergeAccessor(base, override)
	got.ISAURLs[0] = "changed"

	if base.ISAURLs[0] != "isa-1" {
		t.Errorf("Base was mutated: %v", base.ISAURLs)
	}
	if override.ISAURLs[0] != "isa-2" {
		t.Errorf("Override was mutated: %v", override.ISAURLs)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	containers := map[string]PackageContainer{
		"source0": {
			ContainerID: "source0",
			Label:       "Source",
			Accessors: map[string]Accessor{
				"local": {Type: AccessorLocalFolder, AllowRead: true, FolderPath: "/src"},
			},
		},
	}

	resolved, err := Resolve(containers, "source0", map[string]AccessorOverride{
		"local": {FilePath: "amb.mp4"},
		"http":  {Type: AccessorHTTP, URL: "http://origin/amb.mp4"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(resolved.Accessors) != 2 {
		t.Fatalf("Expected 2 accessors, got %d", len(resolved.Accessors))
	}
	if got := resolved.Accessors["local"]; got.FolderPath != "/src" || got.FilePath != "amb.mp4" {
		t.Errorf("Unexpected merged accessor: %+v", got)
	}
	if got := resolved.Accessors["http"]; got.URL != "http://origin/amb.mp4" {
		t.Errorf("Unexpected override-only accessor: %+v", got)
	}
	if ids := resolved.AccessorIDs(); ids[0] != "http" || ids[1] != "local" {
		t.Errorf("Expected sorted accessor ids, got %v", ids)
	}

	_, err = Resolve(containers, "missing", nil)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPackageContainer_Writable(t *testing.T) {
	t.Parallel()

	writable := PackageContainer{Accessors: map[string]Accessor{
		"a": {AllowRead: true},
		"b": {AllowWrite: true},
	}}
	readOnly := PackageContainer{Accessors: map[string]Accessor{"a": {AllowRead: true}}}

	if !writable.Writable() {
		t.Error("Expected writable container")
	}
	if readOnly.Writable() {
		t.Error("Expected read-only container")
	}
}
