package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/consentry/consentry/internal/api"
	"github.com/consentry/consentry/pkg/eventbus"
	"github.com/consentry/consentry/pkg/k8s"
	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/plugin"
	"github.com/consentry/consentry/pkg/registry"
	"github.com/consentry/consentry/pkg/store"
	"github.com/consentry/consentry/pkg/supervisor"
	"github.com/consentry/consentry/pkg/utils/config"
)

const shutdownTimeout = 10 * time.Second

// Run starts the scan service and blocks until SIGINT or SIGTERM.
func Run(configPath string) error {
	log := logger.GetLogger()

	log.Info("Loading configuration", logger.Fields{"path": configPath})
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Error("Failed to load configuration", logger.Fields{"error": err.Error()})
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if level, ok := logger.ParseLevel(cfg.Logging.Level); ok {
		log.SetLevel(level)
	}

	log.Info("Opening scan store", logger.Fields{"data_dir": cfg.Scanner.DataDir})
	st, err := store.Open(cfg.Scanner.DataDir)
	if err != nil {
		log.Error("Failed to open scan store", logger.Fields{"error": err.Error()})
		return fmt.Errorf("failed to open scan store: %w", err)
	}
	defer st.Close()

	reg := registry.New()
	sup := supervisor.New(configPath)

	srv := api.NewServer(cfg.Server, api.NewHandler(reg, st, sup))
	if err := srv.Start(context.Background()); err != nil {
		log.Error("Failed to start API server", logger.Fields{"error": err.Error()})
		return err
	}

	// Informer discovery needs a cluster; the API and cron discovery do not.
	// A missing kubeconfig downgrades those plugins instead of killing serve.
	if err := k8s.InitClient(cfg.Kubeconfig); err != nil {
		log.Warn("Kubernetes client unavailable, informer discovery disabled", logger.Fields{"error": err.Error()})
	}

	log.Info("Creating event bus")
	eventBus := eventbus.NewEventBus(100)

	log.Info("Initializing plugin manager")
	m := plugin.NewManager(eventBus)

	log.Info("Loading plugins", logger.Fields{"count": len(cfg.Plugins)})
	if err := m.LoadPlugins(cfg.Plugins); err != nil {
		log.Error("Failed to load plugins", logger.Fields{"error": err.Error()})
		return fmt.Errorf("failed to load plugins: %w", err)
	}

	log.Info("Starting all plugins")
	if err := m.StartAll(); err != nil {
		log.Error("Failed to start plugins", logger.Fields{"error": err.Error()})
		return fmt.Errorf("failed to start plugins: %w", err)
	}

	log.Info("Application started successfully, waiting for shutdown signal")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Info("Received shutdown signal", logger.Fields{"signal": sig.String()})
	log.Info("Shutting down gracefully...")
	if err := m.StopAll(); err != nil {
		log.Error("Failed to stop plugins", logger.Fields{"error": err.Error()})
		return fmt.Errorf("failed to stop plugins: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server", logger.Fields{"error": err.Error()})
	}

	log.Info("Application shutdown completed")
	return nil
}
