package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/internal/prediction"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func liteConfig(t *testing.T) *domain.Config {
	return &domain.Config{
		Storage:   domain.StorageConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "app.db")},
		Cache:     domain.CacheConfig{Enabled: true, MaxItems: 10, DefaultTTL: time.Minute},
		Retention: domain.RetentionConfig{Enabled: true, Schedule: "0 3 * * *", MaxAge: time.Hour},
	}
}

func TestNew_LiteStack(t *testing.T) {
	a, err := New(context.Background(), liteConfig(t), "", quietLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Service)
	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Cache)
	assert.NotNil(t, a.Retention)
	assert.Nil(t, a.DB)
	assert.Nil(t, a.Audit)

	checks := a.HealthChecks()
	require.Contains(t, checks, "storage")
	assert.NoError(t, checks["storage"](context.Background()))
	assert.NotContains(t, checks, "database")

	removed := a.Retention.RunOnce(context.Background())
	assert.Equal(t, map[string]int64{"saved_predictions": 0}, removed)
}

func TestNew_UnreachableRedisFallsBack(t *testing.T) {
	cfg := liteConfig(t)
	cfg.Cache.RedisURL = "redis://127.0.0.1:1/0"

	a, err := New(context.Background(), cfg, "", quietLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Cache)
	assert.NotContains(t, a.HealthChecks(), "redis")
}

func TestNew_DatabaseWithoutURL(t *testing.T) {
	cfg := liteConfig(t)
	cfg.Database.Enabled = true

	_, err := New(context.Background(), cfg, "", quietLogger())
	assert.ErrorContains(t, err, "no database URL")
}

func TestNew_CoefficientOverride(t *testing.T) {
	coeffs, err := prediction.DefaultCoefficients()
	require.NoError(t, err)
	require.NotEmpty(t, coeffs.Version)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"\"\n"), 0o600))

	cfg := liteConfig(t)
	cfg.Model.CoefficientsFile = path
	_, err = New(context.Background(), cfg, "", quietLogger())
	assert.ErrorContains(t, err, "failed to load coefficients")
}
