// package-manager is the expectation reconciliation daemon. It turns the
// desired state into expectations, drives them to fulfillment through the
// registered workers and reports statuses upstream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"go.uber.org/automaxprocs/maxprocs"

	"packagemanager/internal/api"
	"packagemanager/internal/config"
	"packagemanager/internal/desiredstate"
	"packagemanager/internal/dispatcher"
	"packagemanager/internal/generator"
	"packagemanager/internal/health"
	"packagemanager/internal/manager"
	"packagemanager/internal/observability"
	"packagemanager/internal/orchestrator"
	"packagemanager/internal/packageinfo"
	"packagemanager/internal/status"
	"packagemanager/internal/upstream"
	"packagemanager/internal/worker"
	"packagemanager/internal/workforce"
	"packagemanager/internal/workforce/docker"
)

func main() {
	configPath := flag.String("config", config.GetEnv("CONFIG_FILE", ""), "path to a TOML config file")
	flag.Parse()

	slog.SetDefault(slog.New(newLogHandler()))
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		slog.Debug(fmt.Sprintf(format, args...))
	}))

	if err := run(*configPath); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

// newLogHandler logs JSON, or text when stdout is a terminal.
func newLogHandler() slog.Handler {
	opts := &slog.HandlerOptions{Level: logLevel()}
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

func logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(config.GetEnv("LOG_LEVEL", "info"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func run(configPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	lock := flock.New(cfg.Server.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another package manager holds %s", cfg.Server.LockFile)
	}
	defer lock.Unlock()

	logger := slog.With("managerId", cfg.Manager.ID)

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	sink, err := upstream.New(ctx, cfg.Status, upstream.Options{
		ManagerID:  cfg.Manager.ID,
		Dispatcher: dispatcher.LoadConfigFromEnv(),
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}
	logger.Info("Status sink ready", "sink", cfg.Status.Sink)

	reporter := status.NewReporter(sink, metrics)

	// Workers join through the registry, directly or through a
	// workforce.Connector fed by the matcher. No transport is built in.
	workers := worker.NewRegistry()
	mgr := manager.New(manager.Config{
		EvaluateInterval:         cfg.Manager.EvaluateInterval.Duration,
		FulfilledRecheckInterval: cfg.Manager.FulfilledRecheckInterval.Duration,
		ContainerCronInterval:    cfg.Manager.ContainerCronInterval.Duration,
		Concurrency:              cfg.Manager.Concurrency,
		CallTimeout:              cfg.Manager.CallTimeout.Duration,
	}, workers, reporter, metrics)

	healthChecker := health.NewChecker()

	var matcher *workforce.Matcher
	var host *docker.Host
	if cfg.Workforce.Docker {
		host, err = docker.NewHost(docker.Config{
			ID:         "docker",
			Images:     cfg.Workforce.Images,
			Network:    cfg.Workforce.Network,
			PullImages: true,
		})
		if err != nil {
			return err
		}
		defer host.Close()
		if err := host.Connect(ctx); err != nil {
			return err
		}

		pool := workforce.DefaultNeeds()
		if len(cfg.Workforce.Pool) > 0 {
			pool = workforce.PoolNeeds(cfg.Workforce.Pool)
		}
		matcher = workforce.NewMatcher(workforce.Config{
			SpinUpRate:   cfg.Workforce.SpinUpRate,
			SpinUpBurst:  cfg.Workforce.SpinUpBurst,
			Needs:        pool,
			HostFailures: cfg.Workforce.HostFailures,
			HostCooldown: cfg.Workforce.HostCooldown.Duration,
		}, metrics)
		matcher.AddHost(host)
		healthChecker.RegisterOptional("docker", host)
		logger.Info("Workforce enabled", "pool", pool)
		logger.Warn("No worker connector built in - spun-up apps are not dispatched to")
	}

	orch := orchestrator.New(orchestrator.Config{
		ManagerID: cfg.Manager.ID,
		Settings: generator.Settings{
			DelayRemoval:            cfg.Manager.DelayRemoval.Duration,
			DelayRemovalPackageInfo: cfg.Manager.DelayRemovalPackageInfo.Duration,
			UseTemporaryFilePath:    cfg.Manager.UseTemporaryFilePath,
		},
	}, orchestrator.Deps{
		Manager:     mgr,
		Reporter:    reporter,
		Matcher:     matcher,
		PackageInfo: packageinfo.NewStore(),
		Metrics:     metrics,
	})
	healthChecker.Register("desiredState", orch)
	orch.Start(ctx)

	sourceDone := make(chan struct{})
	if cfg.DesiredState.File != "" {
		source := desiredstate.NewFileSource(cfg.DesiredState.File, cfg.DesiredState.Watch)
		go func() {
			defer close(sourceDone)
			err := source.Run(ctx, func(snap *desiredstate.Snapshot) {
				if err := orch.SetDesiredState(snap); err != nil {
					logger.Warn("Desired state rejected", "file", cfg.DesiredState.File, "error", err)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Desired state source failed", "error", err)
			}
		}()
	} else {
		close(sourceDone)
	}

	router := api.NewRouter(api.RouterConfig{
		Service:       orch,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        cfg.Server.APIKey,
	})

	if cfg.Server.APIKey != "" {
		logger.Info("API authentication enabled")
	} else {
		logger.Warn("API authentication disabled - no API key configured")
	}

	apiServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.Server.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 2)

	go func() {
		logger.Info("Starting API server", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		logger.Info("Starting metrics server", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	shutdownServers := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", "signal", sig)
	case runErr = <-serverErr:
		logger.Error("Server failed to start", "error", runErr)
	}

	// Phase 1: fail readiness so load balancers stop routing here
	healthChecker.SetShuttingDown()
	if drain := cfg.Server.ShutdownDrainWait.Duration; drain > 0 && runErr == nil {
		logger.Info("Waiting for traffic to drain", "duration", drain)
		time.Sleep(drain)
	}

	// Phase 2: stop taking requests and desired-state updates
	logger.Info("Starting graceful shutdown")
	shutdownServers(25 * time.Second)
	cancel()
	<-sourceDone

	// Phase 3: stop reconciling; running jobs are cancelled
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := orch.Stop(stopCtx); err != nil {
		logger.Warn("Orchestrator shutdown error", "error", err)
	}

	// Phase 4: flush pending statuses upstream
	logger.Info("Draining status sink")
	sinkCtx, sinkCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer sinkCancel()
	if err := sink.Close(sinkCtx); err != nil {
		logger.Warn("Status sink shutdown error", "error", err)
	}
	if s, ok := sink.(*upstream.HTTPSink); ok {
		stats := s.Stats()
		logger.Info("Dispatcher stats",
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
	}

	logger.Info("Shutdown complete")
	return runErr
}
