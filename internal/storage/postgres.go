package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/ivf-outcome-server/internal/domain"
)

// PostgresStore implements Store on PostgreSQL. The schema is created by migrations.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewPostgresStoreFromURL opens a pooled connection from a connection URL.
func NewPostgresStoreFromURL(databaseURL string, cfg domain.DatabaseConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen, maxIdle, lifetime := 25, 5, 5*time.Minute
	if cfg.MaxOpenConns > 0 {
		maxOpen = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		maxIdle = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		lifetime = cfg.ConnMaxLifetime
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Save upserts a snapshot, keeping the original created_at.
func (s *PostgresStore) Save(ctx context.Context, p *domain.SavedPrediction) error {
	if err := prepareForSave(p, s.now()); err != nil {
		return err
	}
	row, err := toRow(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO saved_predictions (` + savedColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			notes = EXCLUDED.notes,
			mode = EXCLUDED.mode,
			diagnosis = EXCLUDED.diagnosis,
			confidence = EXCLUDED.confidence,
			inputs = EXCLUDED.inputs,
			results = EXCLUDED.results,
			warnings = EXCLUDED.warnings,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		row.ID,
		row.Name,
		row.Notes,
		row.Mode,
		row.Diagnosis,
		row.Confidence,
		row.Inputs,
		row.Results,
		row.Warnings,
		row.CreatedAt,
		row.UpdatedAt,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}

	p.CreatedAt = p.CreatedAt.UTC()
	return nil
}

func scanRow(sc interface{ Scan(dest ...interface{}) error }) (savedRow, error) {
	var r savedRow
	err := sc.Scan(
		&r.ID, &r.Name, &r.Notes, &r.Mode, &r.Diagnosis, &r.Confidence,
		&r.Inputs, &r.Results, &r.Warnings, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

// Get returns a snapshot by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.SavedPrediction, error) {
	query := `SELECT ` + savedColumns + ` FROM saved_predictions WHERE id = $1`

	row, err := scanRow(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("saved prediction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saved prediction: %w", err)
	}
	return row.toDomain()
}

// List returns snapshots newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*domain.SavedPrediction, error) {
	limit, offset = normalizePage(limit, offset)
	query := `
		SELECT ` + savedColumns + `
		FROM saved_predictions
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved predictions: %w", err)
	}
	defer rows.Close()

	var result []*domain.SavedPrediction
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		p, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// Count returns the total number of snapshots.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM saved_predictions").Scan(&count)
	return count, err
}

// Delete removes a snapshot by ID.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM saved_predictions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete saved prediction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("saved prediction %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ExportJSON exports all snapshots.
func (s *PostgresStore) ExportJSON(ctx context.Context, w io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list saved predictions: %w", err)
	}
	return writeExport(w, all)
}

// ImportJSON imports snapshots not already present.
func (s *PostgresStore) ImportJSON(ctx context.Context, r io.Reader) (int, int, error) {
	return importExport(ctx, s, r)
}

// PurgeOlderThan deletes snapshots created before cutoff.
func (s *PostgresStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM saved_predictions WHERE created_at < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge saved predictions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
