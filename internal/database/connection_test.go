package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ivf-outcome-server/internal/domain"
)

func startPostgres(t *testing.T) (Config, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	config := Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    "testpass",
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute * 30,
		SSLMode:     "disable",
	}
	url := fmt.Sprintf("postgres://testuser:testpass@%s:%d/testdb?sslmode=disable", host, port.Int())
	return config, url
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func TestDatabaseConnection(t *testing.T) {
	config, _ := startPostgres(t)
	ctx := context.Background()

	db, err := NewConnection(ctx, config, quietLogger())
	require.NoError(t, err, "Failed to create database connection")
	defer db.Close()

	require.NoError(t, db.Health(ctx), "Database health check failed")

	stats := db.Stats()
	assert.NotZero(t, stats.TotalConns(), "Expected at least one connection in pool")

	t.Logf("Connection pool stats: Total=%d, Idle=%d, Used=%d",
		stats.TotalConns(), stats.IdleConns(), stats.AcquiredConns())
}

func TestMigrationRunner_UpDown(t *testing.T) {
	config, url := startPostgres(t)
	ctx := context.Background()
	logger := quietLogger()

	runner, err := NewMigrationRunner(url, logger)
	require.NoError(t, err)
	defer runner.Close()

	require.NoError(t, runner.Up(ctx))
	version, dirty, err := runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// second run is a no-op
	require.NoError(t, runner.Up(ctx))

	db, err := NewConnection(ctx, config, logger)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"saved_predictions", "prediction_audit"} {
		var exists bool
		err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}

	require.NoError(t, runner.Down(ctx))
	version, _, err = runner.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestConfigFromDomain(t *testing.T) {
	cfg := ConfigFromDomain(domain.DatabaseConfig{
		Host:            "db",
		Port:            5432,
		Database:        "ivf",
		Username:        "ivf",
		Password:        "secret",
		SSLMode:         "require",
		MaxOpenConns:    20,
		MaxIdleConns:    40,
		ConnMaxLifetime: time.Hour,
	})

	assert.Equal(t, int32(20), cfg.MaxConns)
	assert.Equal(t, int32(20), cfg.MinConns, "min conns capped at max")
	assert.Equal(t, time.Hour, cfg.MaxConnLife)
	assert.Equal(t, "require", cfg.SSLMode)

	assert.Equal(t, int32(10), ConfigFromDomain(domain.DatabaseConfig{}).MaxConns)
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, Database: "ivf", Username: "ivf", Password: "secret", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 dbname=ivf user=ivf password=secret sslmode=disable", cfg.dsn())

	cfg.Password = `it's a pass`
	assert.Contains(t, cfg.dsn(), `password='it\'s a pass'`)

	cfg.Password = ""
	assert.Contains(t, cfg.dsn(), "password=''")

	cfg.URL = "postgres://ivf:secret@db:5432/ivf?sslmode=disable"
	assert.Equal(t, cfg.URL, cfg.dsn())
}
