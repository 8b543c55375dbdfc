// Package storage persists named prediction snapshots.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ivf-outcome-server/internal/domain"
)

// Store defines saved-prediction storage operations.
type Store interface {
	// Save creates or replaces a snapshot by ID. An empty ID is assigned a new UUID.
	// CreatedAt is kept from the first save.
	Save(ctx context.Context, p *domain.SavedPrediction) error

	// Get returns the snapshot or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.SavedPrediction, error)

	// List returns snapshots newest first.
	List(ctx context.Context, limit, offset int) ([]*domain.SavedPrediction, error)

	// Count returns the total number of snapshots.
	Count(ctx context.Context) (int64, error)

	// Delete removes a snapshot, returning domain.ErrNotFound when absent.
	Delete(ctx context.Context, id string) error

	// ExportJSON writes every snapshot as a versioned envelope.
	ExportJSON(ctx context.Context, w io.Writer) error

	// ImportJSON reads an envelope and saves entries whose ID is not already present.
	ImportJSON(ctx context.Context, r io.Reader) (imported int, skipped int, err error)

	// PurgeOlderThan deletes snapshots created before cutoff.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases resources.
	Close() error
}

// ErrInvalidExport is returned by ImportJSON for malformed or foreign documents.
var ErrInvalidExport = errors.New("invalid export document")

// Export is the JSON export format.
type Export struct {
	Version     string                    `json:"version"`
	ExportedAt  time.Time                 `json:"exported_at"`
	Count       int                       `json:"count"`
	Predictions []*domain.SavedPrediction `json:"predictions"`
}

// ExportVersion is written into every export envelope.
const ExportVersion = "1.0"

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// DefaultListLimit applies when callers pass a non-positive limit.
const DefaultListLimit = 50

// savedRow is the column layout shared by both SQL backends.
type savedRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	Notes      string    `db:"notes"`
	Mode       string    `db:"mode"`
	Diagnosis  string    `db:"diagnosis"`
	Confidence string    `db:"confidence"`
	Inputs     string    `db:"inputs"`
	Results    string    `db:"results"`
	Warnings   string    `db:"warnings"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

const savedColumns = "id, name, notes, mode, diagnosis, confidence, inputs, results, warnings, created_at, updated_at"

func toRow(p *domain.SavedPrediction) (savedRow, error) {
	inputs, err := json.Marshal(p.Inputs)
	if err != nil {
		return savedRow{}, fmt.Errorf("failed to marshal inputs: %w", err)
	}
	results, err := json.Marshal(p.Results)
	if err != nil {
		return savedRow{}, fmt.Errorf("failed to marshal results: %w", err)
	}
	warnings := p.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warn, err := json.Marshal(warnings)
	if err != nil {
		return savedRow{}, fmt.Errorf("failed to marshal warnings: %w", err)
	}
	return savedRow{
		ID:         p.ID,
		Name:       p.Name,
		Notes:      p.Notes,
		Mode:       string(p.Inputs.Mode),
		Diagnosis:  string(p.Inputs.Diagnosis),
		Confidence: string(p.Confidence),
		Inputs:     string(inputs),
		Results:    string(results),
		Warnings:   string(warn),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}, nil
}

func (r savedRow) toDomain() (*domain.SavedPrediction, error) {
	p := &domain.SavedPrediction{
		ID:         r.ID,
		Name:       r.Name,
		Notes:      r.Notes,
		Confidence: domain.ConfidenceLevel(r.Confidence),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Inputs), &p.Inputs); err != nil {
		return nil, fmt.Errorf("failed to decode inputs of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Results), &p.Results); err != nil {
		return nil, fmt.Errorf("failed to decode results of %s: %w", r.ID, err)
	}
	if r.Warnings != "" {
		if err := json.Unmarshal([]byte(r.Warnings), &p.Warnings); err != nil {
			return nil, fmt.Errorf("failed to decode warnings of %s: %w", r.ID, err)
		}
	}
	if len(p.Warnings) == 0 {
		p.Warnings = nil
	}
	return p, nil
}

// prepareForSave assigns an ID and timestamps, then validates.
func prepareForSave(p *domain.SavedPrediction, now time.Time) error {
	if p == nil {
		return errors.New("saved prediction is required")
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = now
	return p.Validate()
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func writeExport(w io.Writer, items []*domain.SavedPrediction) error {
	if items == nil {
		items = []*domain.SavedPrediction{}
	}
	export := &Export{
		Version:     ExportVersion,
		ExportedAt:  time.Now().UTC(),
		Count:       len(items),
		Predictions: items,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// importExport decodes an envelope and saves entries not already present.
func importExport(ctx context.Context, s Store, r io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	if export.Version != ExportVersion {
		return 0, 0, fmt.Errorf("%w: unsupported version %q", ErrInvalidExport, export.Version)
	}

	for _, p := range export.Predictions {
		if p == nil {
			continue
		}
		if p.ID != "" {
			_, err := s.Get(ctx, p.ID)
			if err == nil {
				skipped++
				continue
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
			}
		}

		if err := s.Save(ctx, p); err != nil {
			return imported, skipped, fmt.Errorf("failed to save %q: %w", p.Name, err)
		}
		imported++
	}

	return imported, skipped, nil
}
