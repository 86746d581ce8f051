package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gophpeek/pmcore/internal/audit"
	"github.com/gophpeek/pmcore/internal/config"
	"github.com/gophpeek/pmcore/internal/crashreport"
	"github.com/gophpeek/pmcore/internal/logger"
	"github.com/gophpeek/pmcore/internal/metrics"
	"github.com/gophpeek/pmcore/internal/signals"
	"github.com/gophpeek/pmcore/internal/supervisor"
	"github.com/gophpeek/pmcore/internal/tracing"
	"github.com/gophpeek/pmcore/internal/watcher"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the supervisor daemon",
	Long: `Start pmcored in daemon mode.

Brings up the dependency cohort, waits for readiness, starts the main
cohort, restarts crashed main processes up to max_retries, and runs the
cleanup cohort on shutdown. This is the default mode when no subcommand is
specified.`,
	Run: runServe,
}

var (
	dryRun    bool
	watchMode bool
)

func init() {
	serveCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate configuration without starting processes")
	serveCmd.Flags().BoolVar(&watchMode, "watch", false, "Reload added/removed units when the config file changes")
}

func runServe(cmd *cobra.Command, args []string) {
	cfgPath := getConfigPath()

	fmt.Fprintf(os.Stderr, "pmcored v%s starting\n", version)

	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if dryRun {
		runDryRun(cfg, cfgPath)
		return
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	slog.Info("pmcored starting",
		"version", version,
		"pid", os.Getpid(),
		"pid1", signals.IsPID1(),
		"dependencies", len(cfg.Dependencies),
		"main", len(cfg.Main),
		"cleanup", len(cfg.Cleanup),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracingProvider, err := tracing.NewProvider(ctx, tracing.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
		UseTLS:      cfg.Tracing.UseTLS,
		Cohorts: tracing.CohortCounts{
			Dependencies: len(cfg.Dependencies),
			Main:         len(cfg.Main),
			Cleanup:      len(cfg.Cleanup),
		},
	}, log)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingProvider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go signals.ReapZombies(time.Second)

	auditLogger := audit.NewLogger(log, cfg.Audit.Enabled)

	reporter := crashreport.NewReporter(cfg.Supervisor.ReportsDir, metrics.SampleForCrashReport)

	sup := supervisor.New(supervisor.Config{
		MaxRetries:     cfg.Supervisor.MaxRetries,
		CleanupTimeout: time.Duration(cfg.Supervisor.CleanupTimeoutMs) * time.Millisecond,
		CrashReporter:  reporter,
	})

	stoppedCh := make(chan struct{})
	unsubscribe := wireEventBridge(sup, auditLogger, tracingProvider, stoppedCh)
	defer unsubscribe()

	if err := registerUnits(sup, cfg, log); err != nil {
		slog.Error("failed to register units", "error", err)
		os.Exit(1)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = startMetricsServer(ctx, cfg, log)
	}

	if err := sup.Start(); err != nil {
		slog.Error("failed to start supervisor", "error", err)
		os.Exit(1)
	}

	auditLogger.LogSystemStart(version)

	var configWatcher *watcher.Watcher
	if watchMode {
		configWatcher = startConfigWatcher(ctx, cfgPath, cfg, sup, log, auditLogger)
		if configWatcher != nil {
			defer configWatcher.Stop()
		}
	}

	reason := waitForShutdown(sigChan, stoppedCh)
	performGracefulShutdown(sup, metricsServer, auditLogger, reason)
}

// runDryRun validates configuration without spawning any process.
func runDryRun(cfg *config.Config, cfgPath string) {
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	fmt.Fprintf(os.Stderr, "dry run: validating configuration\n")
	fmt.Fprintf(os.Stderr, "configuration loaded: %s\n", cfgPath)
	fmt.Fprintf(os.Stderr, "dependencies=%d main=%d cleanup=%d\n",
		len(cfg.Dependencies), len(cfg.Main), len(cfg.Cleanup))
	fmt.Fprintf(os.Stderr, "configuration is valid\n")
}

// registerUnits builds every configured unit and registers it with its
// cohort. Dependencies are registered first so a construction failure there
// is reported before any main unit is touched.
func registerUnits(sup *supervisor.Supervisor, cfg *config.Config, log *slog.Logger) error {
	for id, uc := range cfg.Dependencies {
		unit, err := buildUnit(id, uc, log)
		if err != nil {
			return fmt.Errorf("dependency %s: %w", id, err)
		}
		sup.AddDependency(id, unit)
	}
	for id, uc := range cfg.Main {
		unit, err := buildUnit(id, uc, log)
		if err != nil {
			return fmt.Errorf("main %s: %w", id, err)
		}
		sup.AddMain(id, unit)
	}
	for id, uc := range cfg.Cleanup {
		unit, err := buildUnit(id, uc, log)
		if err != nil {
			return fmt.Errorf("cleanup %s: %w", id, err)
		}
		sup.AddCleanup(id, unit)
	}
	return nil
}

// startMetricsServer starts the Prometheus metrics HTTP endpoint.
func startMetricsServer(ctx context.Context, cfg *config.Config, log *slog.Logger) *metrics.Server {
	server := metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, log)
	if err := server.Start(ctx); err != nil {
		slog.Warn("failed to start metrics server, continuing without metrics", "error", err)
		return nil
	}
	metrics.SetBuildInfo(version, "go1.x")
	return server
}

// startConfigWatcher watches cfgPath and diff-applies added/removed main and
// cleanup units on change. Dependency membership, retry policy, and
// readiness checks of surviving units are never altered by a reload.
func startConfigWatcher(ctx context.Context, cfgPath string, cfg *config.Config, sup *supervisor.Supervisor, log *slog.Logger, auditLogger *audit.Logger) *watcher.Watcher {
	current := cfg
	w, err := watcher.New(watcher.Config{
		ConfigPath: cfgPath,
		Handler: func() (watcher.ReloadResult, error) {
			newCfg, err := config.LoadFile(cfgPath)
			if err != nil {
				return watcher.ReloadResult{}, fmt.Errorf("failed to reload config: %w", err)
			}
			result := applyConfigDiff(sup, current, newCfg, log)
			current = newCfg
			auditLogger.LogConfigReloaded(cfgPath)
			return result, nil
		},
		Logger:   log,
		Debounce: time.Duration(cfg.Watch.DebounceMs) * time.Millisecond,
	})
	if err != nil {
		slog.Error("failed to create config watcher", "error", err)
		return nil
	}
	if err := w.Start(ctx); err != nil {
		slog.Error("failed to start config watcher", "error", err)
		return nil
	}
	slog.Info("watch mode enabled", "config", cfgPath)
	return w
}

// applyConfigDiff stops/removes units dropped from newCfg and builds/adds
// units newly present in it, per cohort. Units present in both configs are
// left running untouched. Dependency cohort membership is never diffed: a
// reload only ever changes what the main and cleanup cohorts look like.
func applyConfigDiff(sup *supervisor.Supervisor, oldCfg, newCfg *config.Config, log *slog.Logger) watcher.ReloadResult {
	mainAdded, mainRemoved := diffMainCohort(sup, oldCfg.Main, newCfg.Main, log)
	cleanupAdded, cleanupRemoved := diffCleanupCohort(sup, oldCfg.Cleanup, newCfg.Cleanup, log)
	return watcher.ReloadResult{
		MainAdded:      mainAdded,
		MainRemoved:    mainRemoved,
		CleanupAdded:   cleanupAdded,
		CleanupRemoved: cleanupRemoved,
	}
}

func diffMainCohort(sup *supervisor.Supervisor, oldUnits, newUnits map[string]*config.UnitConfig, log *slog.Logger) (added, removed int) {
	for id := range oldUnits {
		if _, ok := newUnits[id]; !ok {
			if unit, ok := sup.GetMain(id); ok {
				_ = unit.Stop(0, 0)
			}
			sup.RemoveMain(id)
			removed++
		}
	}
	for id, uc := range newUnits {
		if _, ok := oldUnits[id]; ok {
			continue
		}
		unit, err := buildUnit(id, uc, log)
		if err != nil {
			slog.Error("failed to build main unit on reload", "id", id, "error", err)
			continue
		}
		sup.AddMain(id, unit)
		_ = unit.Start()
		added++
	}
	return added, removed
}

func diffCleanupCohort(sup *supervisor.Supervisor, oldUnits, newUnits map[string]*config.UnitConfig, log *slog.Logger) (added, removed int) {
	for id := range oldUnits {
		if _, ok := newUnits[id]; !ok {
			sup.RemoveCleanup(id)
			removed++
		}
	}
	for id, uc := range newUnits {
		if _, ok := oldUnits[id]; ok {
			continue
		}
		unit, err := buildUnit(id, uc, log)
		if err != nil {
			slog.Error("failed to build cleanup unit on reload", "id", id, "error", err)
			continue
		}
		sup.AddCleanup(id, unit)
		added++
	}
	return added, removed
}

// waitForShutdown blocks until an OS signal arrives or the supervisor
// reports it has fully stopped on its own (dependency failure, crash
// exhaustion).
func waitForShutdown(sigChan chan os.Signal, stoppedCh <-chan struct{}) string {
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig.String())
		return fmt.Sprintf("signal: %s", sig.String())
	case <-stoppedCh:
		slog.Warn("supervisor stopped on its own")
		return "supervisor stopped"
	}
}

// performGracefulShutdown runs the supervisor's stop sequence (idempotent if
// it already stopped itself) and tears down ambient servers.
func performGracefulShutdown(sup *supervisor.Supervisor, metricsServer *metrics.Server, auditLogger *audit.Logger, reason string) {
	slog.Info("initiating graceful shutdown", "reason", reason)

	if reason != "supervisor stopped" {
		sup.Stop()
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "error", err)
		}
	}

	auditLogger.LogSystemShutdown(reason, true)
	slog.Info("pmcored shutdown complete")
}
