// Package docker implements workforce.Host on a Docker daemon: every
// worker process is a container labelled as managed by the package manager.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"packagemanager/internal/apperrors"
	"packagemanager/internal/workforce"
)

// Labels set on every worker container.
const (
	LabelManagedBy = "managed-by"
	LabelAppType   = "app.type"
	LabelAppID     = "app.id"
	ManagedBy      = "package-manager"
)

// dockerAPI is the part of the Docker client the host uses.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// Config holds configuration for the Docker host.
type Config struct {
	ID         string            // host id, default "docker"
	Images     map[string]string // image per app type
	Network    string            // optional network for worker containers
	Env        []string          // extra environment for worker containers
	PullImages bool
	// ConnectTimeout bounds the initial ping retries (default 1m).
	ConnectTimeout time.Duration
}

// Host runs worker processes as Docker containers.
type Host struct {
	client      dockerAPI
	id          string
	images      map[string]string
	network     string
	env         []string
	pullImages  bool
	connectWait time.Duration
	initialized atomic.Bool
	logger      *slog.Logger

	// pulled remembers images already pulled.
	pullMu sync.Mutex
	pulled map[string]bool
}

// NewHost creates a host on the daemon configured by the environment.
func NewHost(cfg Config) (*Host, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newHost(dockerClient, cfg), nil
}

func newHost(api dockerAPI, cfg Config) *Host {
	if cfg.ID == "" {
		cfg.ID = "docker"
	}
	return &Host{
		client:      api,
		id:          cfg.ID,
		images:      maps.Clone(cfg.Images),
		network:     cfg.Network,
		env:         cfg.Env,
		pullImages:  cfg.PullImages,
		connectWait: cfg.ConnectTimeout,
		logger:      slog.With("component", "docker-host", "hostId", cfg.ID),
		pulled:      make(map[string]bool),
	}
}

// Connect pings the daemon with exponential backoff until it answers or
// the connect timeout elapses. The host is initialized afterwards.
func (h *Host) Connect(ctx context.Context) error {
	timeout := h.connectWait
	if timeout <= 0 {
		timeout = time.Minute
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = timeout

	operation := func() error {
		if _, err := h.client.Ping(ctx); err != nil {
			h.logger.Warn("Docker daemon not reachable, retrying", "error", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return fmt.Errorf("failed to connect to docker daemon: %w", err)
	}

	h.initialized.Store(true)
	h.logger.Info("Docker host initialized", "appTypes", h.AvailableApps())
	return nil
}

// ID implements workforce.Host.
func (h *Host) ID() string { return h.id }

// Initialized implements workforce.Host.
func (h *Host) Initialized() bool { return h.initialized.Load() }

// AvailableApps implements workforce.Host.
func (h *Host) AvailableApps() []string {
	return slices.Sorted(maps.Keys(h.images))
}

// RunningApps implements workforce.Host.
func (h *Host) RunningApps(ctx context.Context) ([]workforce.App, error) {
	containers, err := h.client.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManagedBy+"="+ManagedBy),
			filters.Arg("status", "running"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	apps := make([]workforce.App, 0, len(containers))
	for _, c := range containers {
		appID := c.Labels[LabelAppID]
		if appID == "" {
			continue
		}
		apps = append(apps, workforce.App{ID: appID, Type: c.Labels[LabelAppType]})
	}
	slices.SortFunc(apps, func(a, b workforce.App) int { return strings.Compare(a.ID, b.ID) })
	return apps, nil
}

// SpinUp implements workforce.Host.
func (h *Host) SpinUp(ctx context.Context, appType string) (string, error) {
	img, ok := h.images[appType]
	if !ok {
		return "", apperrors.Unsupported("spin up", appType)
	}
	if err := h.pullImageIfNeeded(ctx, img); err != nil {
		return "", fmt.Errorf("failed to pull image %s: %w", img, err)
	}

	appID := uuid.NewString()
	env := append(slices.Clone(h.env),
		"APP_ID="+appID,
		"APP_TYPE="+appType,
	)
	containerConfig := &container.Config{
		Image: img,
		Env:   env,
		Labels: map[string]string{
			LabelManagedBy: ManagedBy,
			LabelAppType:   appType,
			LabelAppID:     appID,
		},
	}
	hostConfig := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyOnFailure, MaximumRetryCount: 3},
	}
	if h.network != "" {
		hostConfig.NetworkMode = container.NetworkMode(h.network)
	}

	name := fmt.Sprintf("pm-%s-%s", appType, appID[:8])
	resp, err := h.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	if err := h.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = h.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	h.logger.Debug("Worker container started", "appId", appID, "containerId", resp.ID)
	return appID, nil
}

// Kill implements workforce.Host.
func (h *Host) Kill(ctx context.Context, appID string) error {
	containers, err := h.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManagedBy+"="+ManagedBy),
			filters.Arg("label", LabelAppID+"="+appID),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}
	if len(containers) == 0 {
		return apperrors.NotFound("app", appID)
	}

	for _, c := range containers {
		if c.State == "running" {
			if err := h.client.ContainerKill(ctx, c.ID, "SIGKILL"); err != nil {
				h.logger.Warn("Failed to kill container", "containerId", c.ID, "error", err)
			}
		}
		if err := h.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}
	}
	return nil
}

// Ready checks that the daemon is reachable.
func (h *Host) Ready(ctx context.Context) error {
	_, err := h.client.Ping(ctx)
	return err
}

// Close releases the Docker client.
func (h *Host) Close() error {
	return h.client.Close()
}

func (h *Host) pullImageIfNeeded(ctx context.Context, imageName string) error {
	if !h.pullImages {
		return nil
	}
	h.pullMu.Lock()
	defer h.pullMu.Unlock()
	if h.pulled[imageName] {
		return nil
	}

	reader, err := h.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return err
	}
	h.pulled[imageName] = true
	return nil
}
