package docker

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"packagemanager/internal/apperrors"
)

type fakeDocker struct {
	mu         sync.Mutex
	pingErrs   int
	pings      int
	containers []container.Summary
	created    []*container.Config
	started    []string
	killed     []string
	removed    []string
	pulls      int
	startErr   error
	lastFilter container.ListOptions
}

func (f *fakeDocker) Ping(context.Context) (types.Ping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	if f.pingErrs > 0 {
		f.pingErrs--
		return types.Ping{}, errors.New("connection refused")
	}
	return types.Ping{APIVersion: "1.47"}, nil
}

func (f *fakeDocker) ContainerList(_ context.Context, opts container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = opts

	var out []container.Summary
	for _, c := range f.containers {
		if matchLabels(c.Labels, opts.Filters.Get("label")) {
			out = append(out, c)
		}
	}
	return out, nil
}

func matchLabels(labels map[string]string, filters []string) bool {
	for _, f := range filters {
		k, v, _ := strings.Cut(f, "=")
		if labels[k] != v {
			return false
		}
	}
	return true
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, _ *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, cfg)
	return container.CreateResponse{ID: "c-" + name}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeDocker) ContainerKill(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, id)
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	return io.NopCloser(strings.NewReader(`{"status":"done"}`)), nil
}

func (f *fakeDocker) Close() error { return nil }

func TestHost_ConnectRetries(t *testing.T) {
	t.Parallel()

	api := &fakeDocker{pingErrs: 2}
	h := newHost(api, Config{Images: map[string]string{"worker": "pm/worker:1"}, ConnectTimeout: 10 * time.Second})

	if h.Initialized() {
		t.Fatal("Expected host not initialized before Connect")
	}
	if err := h.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !h.Initialized() {
		t.Error("Expected host initialized after Connect")
	}
	if api.pings != 3 {
		t.Errorf("Expected 3 pings, got %d", api.pings)
	}
}

func TestHost_SpinUp(t *testing.T) {
	t.Parallel()

	api := &fakeDocker{}
	h := newHost(api, Config{ID: "local", Images: map[string]string{"worker": "pm/worker:1"}, PullImages: true})

	appID, err := h.SpinUp(context.Background(), "worker")
	if err != nil {
		t.Fatalf("SpinUp() error = %v", err)
	}
	if appID == "" {
		t.Fatal("Expected an app id")
	}
	if len(api.created) != 1 || len(api.started) != 1 {
		t.Fatalf("Expected one container created and started, got %d/%d", len(api.created), len(api.started))
	}
	labels := api.created[0].Labels
	if labels[LabelManagedBy] != ManagedBy || labels[LabelAppType] != "worker" || labels[LabelAppID] != appID {
		t.Errorf("Unexpected labels: %v", labels)
	}

	// The image is pulled once.
	if _, err := h.SpinUp(context.Background(), "worker"); err != nil {
		t.Fatalf("SpinUp() error = %v", err)
	}
	if api.pulls != 1 {
		t.Errorf("Expected 1 pull, got %d", api.pulls)
	}
}

func TestHost_SpinUpUnknownType(t *testing.T) {
	t.Parallel()

	h := newHost(&fakeDocker{}, Config{Images: map[string]string{"worker": "pm/worker:1"}})
	_, err := h.SpinUp(context.Background(), "transcoder")
	if !errors.Is(err, apperrors.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

func TestHost_SpinUpStartFailureRemovesContainer(t *testing.T) {
	t.Parallel()

	api := &fakeDocker{startErr: errors.New("no space left")}
	h := newHost(api, Config{Images: map[string]string{"worker": "pm/worker:1"}})

	if _, err := h.SpinUp(context.Background(), "worker"); err == nil {
		t.Fatal("Expected error")
	}
	if len(api.removed) != 1 {
		t.Errorf("Expected the created container removed, got %v", api.removed)
	}
}

func TestHost_RunningApps(t *testing.T) {
	t.Parallel()

	api := &fakeDocker{containers: []container.Summary{
		{ID: "c2", State: "running", Labels: map[string]string{LabelManagedBy: ManagedBy, LabelAppID: "b", LabelAppType: "worker"}},
		{ID: "c1", State: "running", Labels: map[string]string{LabelManagedBy: ManagedBy, LabelAppID: "a", LabelAppType: "worker"}},
		{ID: "c3", State: "running", Labels: map[string]string{LabelManagedBy: ManagedBy}},
		{ID: "c4", State: "running", Labels: map[string]string{LabelAppID: "other"}},
	}}
	h := newHost(api, Config{})

	apps, err := h.RunningApps(context.Background())
	if err != nil {
		t.Fatalf("RunningApps() error = %v", err)
	}
	if len(apps) != 2 || apps[0].ID != "a" || apps[1].ID != "b" {
		t.Errorf("Expected apps a, b, got %+v", apps)
	}
	if got := api.lastFilter.Filters.Get("label"); len(got) != 1 || got[0] != "managed-by=package-manager" {
		t.Errorf("Expected managed-by label filter, got %v", got)
	}
}

func TestHost_Kill(t *testing.T) {
	t.Parallel()

	api := &fakeDocker{containers: []container.Summary{
		{ID: "c1", State: "running", Labels: map[string]string{LabelManagedBy: ManagedBy, LabelAppID: "a", LabelAppType: "worker"}},
		{ID: "c2", State: "running", Labels: map[string]string{LabelManagedBy: ManagedBy, LabelAppID: "b", LabelAppType: "worker"}},
	}}
	h := newHost(api, Config{})

	if err := h.Kill(context.Background(), "a"); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if len(api.killed) != 1 || len(api.removed) != 1 {
		t.Errorf("Expected kill and remove, got %v / %v", api.killed, api.removed)
	}
}

func TestHost_KillUnknown(t *testing.T) {
	t.Parallel()

	h := newHost(&fakeDocker{}, Config{})
	if err := h.Kill(context.Background(), "ghost"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
