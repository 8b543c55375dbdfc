package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/ivf-outcome-server/internal/domain"
)

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db     *sqlx.DB
	dbPath string
	now    func() time.Time
}

// NewSQLiteStore opens or creates the database file and schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func createSchema(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS saved_predictions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL,
		diagnosis TEXT NOT NULL,
		confidence TEXT NOT NULL DEFAULT '',
		inputs TEXT NOT NULL,
		results TEXT NOT NULL,
		warnings TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_saved_predictions_created_at ON saved_predictions(created_at);
	CREATE INDEX IF NOT EXISTS idx_saved_predictions_name ON saved_predictions(name);
	`

	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Save creates or replaces a snapshot.
func (s *SQLiteStore) Save(ctx context.Context, p *domain.SavedPrediction) error {
	if err := prepareForSave(p, s.now()); err != nil {
		return err
	}
	row, err := toRow(p)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO saved_predictions (`+savedColumns+`)
		VALUES (:id, :name, :notes, :mode, :diagnosis, :confidence, :inputs, :results, :warnings, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			notes = excluded.notes,
			mode = excluded.mode,
			diagnosis = excluded.diagnosis,
			confidence = excluded.confidence,
			inputs = excluded.inputs,
			results = excluded.results,
			warnings = excluded.warnings,
			updated_at = excluded.updated_at
	`, row)
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}

	// created_at survives an update
	var createdAt time.Time
	if err := s.db.GetContext(ctx, &createdAt, "SELECT created_at FROM saved_predictions WHERE id = ?", p.ID); err != nil {
		return fmt.Errorf("failed to read back saved prediction: %w", err)
	}
	p.CreatedAt = createdAt.UTC()
	return nil
}

// Get returns a snapshot by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.SavedPrediction, error) {
	var row savedRow
	err := s.db.GetContext(ctx, &row, `SELECT `+savedColumns+` FROM saved_predictions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("saved prediction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saved prediction: %w", err)
	}
	return row.toDomain()
}

// List returns snapshots newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*domain.SavedPrediction, error) {
	limit, offset = normalizePage(limit, offset)

	var rows []savedRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+savedColumns+`
		FROM saved_predictions
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved predictions: %w", err)
	}

	result := make([]*domain.SavedPrediction, 0, len(rows))
	for _, r := range rows {
		p, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

// Count returns the total number of snapshots.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM saved_predictions")
	return count, err
}

// Delete removes a snapshot by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM saved_predictions WHERE id = ?", id)
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
func (s *SQLiteStore) ExportJSON(ctx context.Context, w io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list saved predictions: %w", err)
	}
	return writeExport(w, all)
}

// ImportJSON imports snapshots not already present.
func (s *SQLiteStore) ImportJSON(ctx context.Context, r io.Reader) (int, int, error) {
	return importExport(ctx, s, r)
}

// PurgeOlderThan deletes snapshots created before cutoff.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM saved_predictions WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge saved predictions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
