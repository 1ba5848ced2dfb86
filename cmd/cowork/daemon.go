package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mesutfelat/cowork-oss-sub009/internal/agent"
	"github.com/mesutfelat/cowork-oss-sub009/internal/audit"
	"github.com/mesutfelat/cowork-oss-sub009/internal/config"
	"github.com/mesutfelat/cowork-oss-sub009/internal/connectors/localexec"
	"github.com/mesutfelat/cowork-oss-sub009/internal/controlplane"
	"github.com/mesutfelat/cowork-oss-sub009/internal/logger"
	"github.com/mesutfelat/cowork-oss-sub009/internal/orchestrator"
	"github.com/mesutfelat/cowork-oss-sub009/internal/scheduler"
	"github.com/mesutfelat/cowork-oss-sub009/internal/store"
	"github.com/mesutfelat/cowork-oss-sub009/internal/tools"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	listenAddr string
	dbPath     string
	logLevel   string
	noSchedule bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the cowork daemon",
	Long:  `Starts the cowork daemon which owns the task lifecycle and serves the HTTP API.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	daemonCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	daemonCmd.Flags().BoolVar(&noSchedule, "no-scheduler", false, "Do not start pending tasks automatically")
}

// loadDaemonConfig reads the config file and applies flag overrides.
func loadDaemonConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if listenAddr != "" {
		cfg.Daemon.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.Daemon.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if noSchedule {
		cfg.Scheduler.Enabled = false
	}
	return cfg, cfg.Validate()
}

// buildRegistry applies the configured approval gates to the built-in tools.
func buildRegistry(cfg *config.Config) (*tools.Registry, error) {
	registry := tools.NewDefaultRegistry()
	for _, t := range registry.List() {
		if err := registry.SetRequiresApproval(t.Name, false); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.Tools.ApprovalRequired {
		if err := registry.SetRequiresApproval(name, true); err != nil {
			return nil, fmt.Errorf("tools.approval_required: %w", err)
		}
	}
	return registry, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadDaemonConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting cowork daemon",
		zap.String("listen", cfg.Daemon.Listen),
		zap.String("db", cfg.Daemon.DBPath))

	// Initialize store
	s, err := store.New(cfg.Daemon.DBPath)
	if err != nil {
		return err
	}

	// Initialize components
	bus := audit.NewBroadcaster(log)
	registry, err := buildRegistry(cfg)
	if err != nil {
		s.Close()
		return err
	}
	connector := localexec.New(cfg.Tools.AllowedCommands)

	factory := agent.NewFactory(agent.Deps{
		Registry:    registry,
		Connector:   connector,
		Dedup:       cfg.Dedup,
		FileTracker: cfg.FileTracker,
		MaxSteps:    cfg.Tools.MaxSteps,
		Logger:      log,
	})
	orch := orchestrator.New(s, factory, bus, log, orchestrator.WithApprovalTimeout(cfg.Approvals.Timeout))

	// Create service and server
	service := controlplane.NewService(s, orch, log)
	if err := service.Recover(context.Background()); err != nil {
		log.Warn("recover interrupted tasks", zap.Error(err))
	}
	server := controlplane.NewServer(service, bus, cfg.Daemon.Listen, log)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(s, orch, &cfg.Scheduler, log)
		sched.Start()
	}

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	go func() {
		serverErr <- server.Start()
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			log.Error("server error", zap.Error(err))
			runErr = err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if sched != nil {
		sched.Stop()
	}

	log.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("HTTP server shutdown", zap.Error(err))
	}

	log.Info("stopping executors")
	orch.Shutdown(shutdownCtx)
	orch.Wait()

	log.Info("closing database")
	if err := s.Close(); err != nil {
		log.Warn("database close", zap.Error(err))
	}

	log.Info("shutdown complete")
	return runErr
}
