// Package main runs the MCP tool server. With no --config it needs nothing but a
// data directory (IVF_* environment variables); with --config it uses the full
// configuration, including Postgres and Redis.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ivf-outcome-server/internal/app"
	"github.com/ivf-outcome-server/internal/config"
	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/internal/logging"
	"github.com/ivf-outcome-server/internal/mcp"
)

func main() {
	configFile := flag.String("config", "", "path to a full config.yaml; omit for standalone mode")
	flag.Parse()

	cfg, databaseURL := loadConfig(*configFile)

	// stdout carries the stdio transport, so logs go to stderr
	logger := logging.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down MCP server...")
		cancel()
	}()

	application, err := app.New(ctx, cfg, databaseURL, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer application.Close()

	if application.Retention != nil {
		go application.Retention.Run(ctx)
	}

	server := mcp.NewServer(cfg.MCP, application.Service, logger)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("MCP server failed: %v", err)
	}

	logger.Info("IVF outcome MCP server stopped")
}

func loadConfig(path string) (*domain.Config, string) {
	if path == "" {
		lite := config.LoadLiteConfig()
		if err := lite.EnsureDataDir(); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
		return lite.ToConfig(), ""
	}

	configManager, err := config.NewManagerFromFile(path)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	databaseURL := ""
	if configManager.GetConfig().Database.Enabled {
		databaseURL = configManager.GetDatabaseURL()
	}
	return configManager.GetConfig(), databaseURL
}
