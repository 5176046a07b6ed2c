package desiredstate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// SnapshotSource delivers desired-state snapshots until ctx is done.
type SnapshotSource interface {
	Run(ctx context.Context, apply func(*Snapshot)) error
}

// Parse decodes a YAML (or JSON) document into a Snapshot. The document is
// normalized through JSON so the json tags are the only field mapping.
func Parse(data []byte) (*Snapshot, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse desired state: %w", err)
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize desired state: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(normalized, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode desired state: %w", err)
	}
	return &snap, nil
}

// FileSource reads the desired state from a file and optionally follows
// changes to it.
type FileSource struct {
	path   string
	watch  bool
	logger *slog.Logger
}

// NewFileSource creates a file source for path.
func NewFileSource(path string, watch bool) *FileSource {
	return &FileSource{
		path:   path,
		watch:  watch,
		logger: slog.With("component", "desired-state-file", "path", path),
	}
}

// Load reads and parses the file once.
func (s *FileSource) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read desired state: %w", err)
	}
	return Parse(data)
}

// Run applies the current file content, then re-applies it on every change
// when watching. Parse errors are logged and the previous state is kept.
func (s *FileSource) Run(ctx context.Context, apply func(*Snapshot)) error {
	s.reload(apply)
	if !s.watch {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so the directory is watched.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				s.reload(apply)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Watcher error", "error", err)
		}
	}
}

func (s *FileSource) reload(apply func(*Snapshot)) {
	snap, err := s.Load()
	if err != nil {
		s.logger.Warn("Failed to load desired state", "error", err)
		return
	}
	s.logger.Info("Desired state loaded",
		"containers", len(snap.Containers),
		"packages", len(snap.ExpectedPackages))
	apply(snap)
}
