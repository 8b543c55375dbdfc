package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ivf-outcome-server/internal/api"
	"github.com/ivf-outcome-server/internal/app"
	"github.com/ivf-outcome-server/internal/config"
	"github.com/ivf-outcome-server/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "path to config.yaml (default: search ., ./config, /etc/ivf-outcome-server)")
	flag.Parse()

	// Load configuration
	configManager, err := config.NewManagerFromFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()

	out, closeLog, err := logging.Output(cfg.Logging.Output)
	if err != nil {
		log.Fatalf("Failed to open log output: %v", err)
	}
	defer closeLog()
	logger := logging.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, out)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	databaseURL := ""
	if cfg.Database.Enabled {
		databaseURL = configManager.GetDatabaseURL()
	}

	application, err := app.New(ctx, cfg, databaseURL, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer application.Close()

	server := api.NewServer(cfg, application.Service, logger)
	for name, check := range application.HealthChecks() {
		server.AddHealthCheck(name, check)
	}

	if application.Retention != nil {
		go application.Retention.Run(ctx)
	}

	logger.WithFields(map[string]interface{}{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
		"storage":     cfg.Storage.Driver,
	}).Info("Starting IVF outcome server")

	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

	logger.Info("Server stopped")
}
