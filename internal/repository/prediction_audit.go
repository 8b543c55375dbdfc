package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/ivf-outcome-server/internal/domain"
)

// PredictionAuditRepository persists one row per computed prediction.
type PredictionAuditRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPredictionAuditRepository creates a new audit repository
func NewPredictionAuditRepository(db *pgxpool.Pool, logger *logrus.Logger) *PredictionAuditRepository {
	return &PredictionAuditRepository{
		db:  db,
		log: logger,
	}
}

const auditColumns = `id, request_id, mode, input_fingerprint, age_bracket, diagnosis, confidence,
	warning_count, euploid_icsi, model_version, processing_time_ms, cached, created_at`

// Record inserts an audit row, assigning an ID and timestamp when missing.
func (r *PredictionAuditRepository) Record(ctx context.Context, record *domain.PredictionRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return fmt.Errorf("invalid audit record id %q: %w", record.ID, err)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO prediction_audit (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.Exec(ctx, query,
		id,
		record.RequestID,
		string(record.Mode),
		record.InputFingerprint,
		string(record.AgeBracket),
		string(record.Diagnosis),
		string(record.Confidence),
		record.WarningCount,
		record.EuploidICSI,
		record.ModelVersion,
		record.ProcessingTimeMs,
		record.Cached,
		record.CreatedAt,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"audit_id":   record.ID,
			"request_id": record.RequestID,
			"mode":       record.Mode,
			"error":      err,
		}).Error("Failed to record prediction audit")
		return fmt.Errorf("recording prediction audit: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"audit_id":        record.ID,
		"request_id":      record.RequestID,
		"mode":            record.Mode,
		"confidence":      record.Confidence,
		"cached":          record.Cached,
		"processing_time": record.ProcessingTimeMs,
	}).Debug("Prediction audit recorded")

	return nil
}

// GetByID retrieves an audit row.
func (r *PredictionAuditRepository) GetByID(ctx context.Context, id string) (*domain.PredictionRecord, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("audit record %s: %w", id, domain.ErrNotFound)
	}

	query := `SELECT ` + auditColumns + ` FROM prediction_audit WHERE id = $1`
	rec, err := scanAudit(r.db.QueryRow(ctx, query, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("audit record %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting audit record: %w", err)
	}
	return rec, nil
}

// ListRecent returns audit rows newest first.
func (r *PredictionAuditRepository) ListRecent(ctx context.Context, limit, offset int) ([]*domain.PredictionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + auditColumns + ` FROM prediction_audit ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	var records []*domain.PredictionRecord
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit records: %w", err)
	}
	return records, nil
}

// CountByFingerprint reports how often the same inputs were predicted.
func (r *PredictionAuditRepository) CountByFingerprint(ctx context.Context, fingerprint string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM prediction_audit WHERE input_fingerprint = $1`, fingerprint).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting audit records: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes audit rows created before cutoff.
func (r *PredictionAuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM prediction_audit WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting audit records: %w", err)
	}

	n := result.RowsAffected()
	r.log.WithFields(logrus.Fields{
		"cutoff":  cutoff,
		"deleted": n,
	}).Info("Old prediction audit records deleted")
	return n, nil
}

func scanAudit(row pgx.Row) (*domain.PredictionRecord, error) {
	var (
		rec                                  domain.PredictionRecord
		id                                   uuid.UUID
		mode, bracket, diagnosis, confidence string
	)
	err := row.Scan(
		&id,
		&rec.RequestID,
		&mode,
		&rec.InputFingerprint,
		&bracket,
		&diagnosis,
		&confidence,
		&rec.WarningCount,
		&rec.EuploidICSI,
		&rec.ModelVersion,
		&rec.ProcessingTimeMs,
		&rec.Cached,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.ID = id.String()
	rec.Mode = domain.PredictionMode(mode)
	rec.AgeBracket = domain.AgeBracket(bracket)
	rec.Diagnosis = domain.Diagnosis(diagnosis)
	rec.Confidence = domain.ConfidenceLevel(confidence)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
