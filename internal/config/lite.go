// Package config provides configuration management for the servers and CLI.
// This file contains the env-only configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ivf-outcome-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It needs no external services: predictions are kept in SQLite under DataDir.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for data files

	// Cache settings
	CacheMaxItems int           // Maximum items in memory cache
	CacheTTL      time.Duration // Default cache TTL

	// Model
	CoefficientsFile string // Optional coefficient table override

	// Transport settings
	Transport string // Transport type: stdio, http
	HTTPPort  int    // HTTP port (if transport is http)

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".ivf-outcome")

	return &LiteConfig{
		DataDir:       dataDir,
		CacheMaxItems: 1000,
		CacheTTL:      time.Hour,
		Transport:     "stdio",
		HTTPPort:      8081,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("IVF_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("IVF_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("IVF_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	cfg.CoefficientsFile = os.Getenv("IVF_COEFFICIENTS_FILE")

	if v := os.Getenv("IVF_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("IVF_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("IVF_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("IVF_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// SavedDBPath returns the path to the saved-predictions SQLite database.
func (c *LiteConfig) SavedDBPath() string {
	return filepath.Join(c.DataDir, "predictions.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// ToConfig expands the lite settings into a full configuration with SQLite storage,
// an in-memory cache and no database.
func (c *LiteConfig) ToConfig() *domain.Config {
	return &domain.Config{
		Environment: "development",
		Storage: domain.StorageConfig{
			Driver:     "sqlite",
			SQLitePath: c.SavedDBPath(),
		},
		Cache: domain.CacheConfig{
			Enabled:    c.CacheMaxItems > 0,
			MaxItems:   c.CacheMaxItems,
			DefaultTTL: c.CacheTTL,
		},
		Logging: domain.LoggingConfig{
			Level:  c.LogLevel,
			Format: c.LogFormat,
			Output: "stderr",
		},
		MCP: domain.MCPConfig{
			ServerName:    "ivf-outcome-server",
			ServerVersion: "v1.0.0",
			TransportType: c.Transport,
			HTTPHost:      "127.0.0.1",
			HTTPPort:      c.HTTPPort,
		},
		Model: domain.ModelConfig{
			CoefficientsFile: c.CoefficientsFile,
		},
	}
}
