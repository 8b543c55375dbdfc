// Package app wires configuration into a ready PredictorService and its dependencies.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ivf-outcome-server/internal/cache"
	"github.com/ivf-outcome-server/internal/database"
	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/internal/prediction"
	"github.com/ivf-outcome-server/internal/repository"
	"github.com/ivf-outcome-server/internal/retention"
	"github.com/ivf-outcome-server/internal/service"
	"github.com/ivf-outcome-server/internal/storage"
)

// App holds the long-lived components built from configuration.
type App struct {
	Service   *service.PredictorService
	Store     storage.Store
	Cache     cache.Cache
	DB        *database.DB
	Audit     *repository.PredictionAuditRepository
	Retention *retention.Scheduler

	redis  *cache.RedisCache
	logger *logrus.Logger
}

// New builds every component enabled in cfg. databaseURL is required when the
// database is enabled.
func New(ctx context.Context, cfg *domain.Config, databaseURL string, logger *logrus.Logger) (*App, error) {
	a := &App{logger: logger}

	coeffs, err := prediction.LoadCoefficients(cfg.Model.CoefficientsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load coefficients: %w", err)
	}
	pipeline, err := prediction.NewPipeline(coeffs)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"model_version": pipeline.ModelVersion(),
		"source":        coefficientSource(cfg.Model.CoefficientsFile),
	}).Info("Prediction model loaded")

	if cfg.Database.Enabled {
		if err := a.openDatabase(ctx, cfg.Database, databaseURL); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Store, err = storage.Open(cfg.Storage, cfg.Database, databaseURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	if cfg.Cache.Enabled {
		a.Cache = a.buildCache(ctx, cfg.Cache)
	}

	if cfg.Retention.Enabled {
		if err := a.buildRetention(cfg.Retention); err != nil {
			a.Close()
			return nil, err
		}
	}

	opts := []service.Option{}
	if a.Cache != nil {
		opts = append(opts, service.WithCache(a.Cache, cfg.Cache.DefaultTTL))
	}
	if a.Store != nil {
		opts = append(opts, service.WithStore(a.Store))
	}
	if a.Audit != nil {
		opts = append(opts, service.WithAudit(a.Audit))
	}
	a.Service = service.NewPredictorService(logger, pipeline, opts...)

	return a, nil
}

func (a *App) openDatabase(ctx context.Context, cfg domain.DatabaseConfig, databaseURL string) error {
	if databaseURL == "" {
		return errors.New("database is enabled but no database URL is configured")
	}

	if cfg.MigrateOnStart {
		runner, err := database.NewMigrationRunner(databaseURL, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create migration runner: %w", err)
		}
		err = runner.Up(ctx)
		_ = runner.Close()
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	poolCfg := database.ConfigFromDomain(cfg)
	poolCfg.URL = databaseURL
	db, err := database.NewConnection(ctx, poolCfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = db
	a.Audit = repository.NewPredictionAuditRepository(db.Pool, a.logger)
	return nil
}

// buildCache always returns a usable cache. An unreachable Redis degrades to local only.
func (a *App) buildCache(ctx context.Context, cfg domain.CacheConfig) cache.Cache {
	local := cache.NewMemoryCache(cfg.MaxItems, cfg.DefaultTTL)
	if cfg.RedisURL == "" {
		return local
	}

	remote, err := cache.NewRedisCache(ctx, cfg)
	if err != nil {
		a.logger.WithError(err).Warn("Redis unavailable, using in-process cache only")
		return local
	}
	a.redis = remote
	return cache.NewTieredCache(local, remote, a.logger)
}

func (a *App) buildRetention(cfg domain.RetentionConfig) error {
	sched, err := retention.NewScheduler(a.logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to create retention scheduler: %w", err)
	}
	if a.Store != nil {
		sched.Add("saved_predictions", a.Store)
	}
	if a.Audit != nil {
		sched.Add("prediction_audit", retention.TargetFunc(a.Audit.DeleteOlderThan))
	}
	a.Retention = sched
	return nil
}

// HealthChecks returns a probe per external dependency.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if a.DB != nil {
		checks["database"] = a.DB.Health
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Ping
	}
	if a.Store != nil {
		checks["storage"] = func(ctx context.Context) error {
			_, err := a.Store.Count(ctx)
			return err
		}
	}
	return checks
}

// Close releases every component. Safe to call on a partially built App.
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close cache")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close storage")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func coefficientSource(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}
