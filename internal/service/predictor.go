package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ivf-outcome-server/internal/cache"
	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/internal/prediction"
	"github.com/ivf-outcome-server/internal/storage"
	"github.com/ivf-outcome-server/internal/validation"
)

// ErrStorageDisabled is returned by saved-prediction operations when no store is configured.
var ErrStorageDisabled = errors.New("saved predictions are not configured")

// PredictorService runs validation, the gate, caching, the pipeline and auditing.
type PredictorService struct {
	logger    *logrus.Logger
	validator *validation.Validator
	pipeline  *prediction.Pipeline
	cache     cache.Cache
	cacheTTL  time.Duration
	store     storage.Store
	audit     domain.AuditRepository
	now       func() time.Time
}

// Option configures a PredictorService.
type Option func(*PredictorService)

// WithCache enables result caching.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *PredictorService) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithStore enables saved predictions.
func WithStore(st storage.Store) Option {
	return func(s *PredictorService) {
		s.store = st
	}
}

// WithAudit enables the prediction audit trail.
func WithAudit(a domain.AuditRepository) Option {
	return func(s *PredictorService) {
		s.audit = a
	}
}

// NewPredictorService creates a new predictor service
func NewPredictorService(logger *logrus.Logger, pipeline *prediction.Pipeline, opts ...Option) *PredictorService {
	s := &PredictorService{
		logger:    logger,
		validator: validation.NewValidator(pipeline),
		pipeline:  pipeline,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ModelVersion identifies the coefficient table in use.
func (s *PredictorService) ModelVersion() string {
	return s.pipeline.ModelVersion()
}

// Diagnoses returns the diagnosis catalogue.
func (s *PredictorService) Diagnoses() []domain.DiagnosisInfo {
	return domain.AllDiagnoses()
}

// Validate checks a form without computing a prediction.
func (s *PredictorService) Validate(form domain.PredictionForm) domain.ValidationReport {
	report := s.validator.ValidateForm(form)
	s.logger.WithFields(logrus.Fields{
		"mode":       report.Mode,
		"valid":      report.Valid,
		"confidence": report.Confidence,
		"errors":     len(report.Errors),
		"warnings":   len(report.Warnings),
	}).Debug("Inputs validated")
	return report
}

// PredictPreRetrieval forces the pre-retrieval entry point.
func (s *PredictorService) PredictPreRetrieval(ctx context.Context, form domain.PredictionForm) (*domain.Prediction, error) {
	form.Mode = string(domain.PreRetrieval)
	return s.Predict(ctx, form)
}

// PredictPostRetrieval forces the post-retrieval entry point.
func (s *PredictorService) PredictPostRetrieval(ctx context.Context, form domain.PredictionForm) (*domain.Prediction, error) {
	form.Mode = string(domain.PostRetrieval)
	return s.Predict(ctx, form)
}

// Predict validates the form and, if nothing is invalid, computes the funnel. Invalid
// inputs yield *domain.ValidationFailedError carrying the report.
func (s *PredictorService) Predict(ctx context.Context, form domain.PredictionForm) (*domain.Prediction, error) {
	startTime := time.Now()
	requestID := domain.RequestIDFromContext(ctx)

	report := s.validator.ValidateForm(form)
	if !report.Valid || report.Inputs == nil {
		s.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"mode":       report.Mode,
			"errors":     report.Errors,
		}).Info("Prediction rejected by validation")
		return nil, &domain.ValidationFailedError{Report: &report}
	}

	inputs := *report.Inputs
	s.logger.WithFields(logrus.Fields{
		"request_id":  requestID,
		"mode":        inputs.Mode,
		"age_bracket": inputs.AgeBracket(),
		"diagnosis":   inputs.Diagnosis,
	}).Info("Starting outcome prediction")

	key, err := s.fingerprint(inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint inputs: %w", err)
	}

	results, cached := s.lookup(ctx, key)
	if !cached {
		computed, err := s.pipeline.Predict(inputs)
		if err != nil {
			return nil, fmt.Errorf("failed to compute prediction: %w", err)
		}
		results = &computed
		s.remember(ctx, key, results)
	} else {
		// the funnel is reused, but the response reflects this request
		results.ComputedAt = s.now().UTC()
	}

	pred := &domain.Prediction{
		RequestID:  requestID,
		Inputs:     inputs,
		Results:    *results,
		Confidence: report.Confidence,
		Warnings:   report.Warnings,
		Cached:     cached,
	}

	elapsed := time.Since(startTime)
	s.record(ctx, pred, key, elapsed)

	s.logger.WithFields(logrus.Fields{
		"request_id":      requestID,
		"mode":            inputs.Mode,
		"confidence":      pred.Confidence,
		"warnings":        len(pred.Warnings),
		"cached":          cached,
		"euploid_icsi":    results.ICSI.Euploid.Predicted,
		"processing_time": elapsed,
	}).Info("Outcome prediction completed")

	return pred, nil
}

func (s *PredictorService) fingerprint(inputs domain.PredictionInputs) (string, error) {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(s.pipeline.ModelVersion()))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)[:16]), nil
}

func (s *PredictorService) lookup(ctx context.Context, key string) (*domain.PredictionResults, bool) {
	if s.cache == nil {
		return nil, false
	}
	res, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WithError(err).Warn("Prediction cache lookup failed")
		return nil, false
	}
	return res, ok
}

func (s *PredictorService) remember(ctx context.Context, key string, res *domain.PredictionResults) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, res, s.cacheTTL); err != nil {
		s.logger.WithError(err).Warn("Prediction cache store failed")
	}
}

// record writes the audit row. Audit failures never fail the prediction.
func (s *PredictorService) record(ctx context.Context, pred *domain.Prediction, key string, elapsed time.Duration) {
	if s.audit == nil {
		return
	}
	rec := &domain.PredictionRecord{
		ID:               uuid.NewString(),
		RequestID:        pred.RequestID,
		Mode:             pred.Inputs.Mode,
		InputFingerprint: key,
		AgeBracket:       pred.Results.AgeBracket,
		Diagnosis:        pred.Inputs.Diagnosis,
		Confidence:       pred.Confidence,
		WarningCount:     len(pred.Warnings),
		EuploidICSI:      pred.Results.ICSI.Euploid.Predicted,
		ModelVersion:     pred.Results.ModelVersion,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Cached:           pred.Cached,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.WithError(err).WithField("request_id", pred.RequestID).Warn("Failed to record prediction audit")
	}
}

// SaveRequest names a prediction to keep.
type SaveRequest struct {
	ID    string                `json:"id,omitempty"`
	Name  string                `json:"name"`
	Notes string                `json:"notes,omitempty"`
	Form  domain.PredictionForm `json:"inputs"`
}

// SavePrediction computes the prediction for req.Form and stores it under req.Name.
func (s *PredictorService) SavePrediction(ctx context.Context, req SaveRequest) (*domain.SavedPrediction, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.NewValidationError("name", "Name is required", req.Name)
	}

	pred, err := s.Predict(ctx, req.Form)
	if err != nil {
		return nil, err
	}

	saved := &domain.SavedPrediction{
		ID:         req.ID,
		Name:       name,
		Notes:      strings.TrimSpace(req.Notes),
		Inputs:     pred.Inputs,
		Results:    pred.Results,
		Confidence: pred.Confidence,
		Warnings:   pred.Warnings,
	}
	if err := s.store.Save(ctx, saved); err != nil {
		return nil, fmt.Errorf("failed to save prediction: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"id":   saved.ID,
		"name": saved.Name,
		"mode": saved.Inputs.Mode,
	}).Info("Prediction saved")
	return saved, nil
}

// GetSaved returns a saved prediction or domain.ErrNotFound.
func (s *PredictorService) GetSaved(ctx context.Context, id string) (*domain.SavedPrediction, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	return s.store.Get(ctx, id)
}

// SavedPage is one page of saved predictions.
type SavedPage struct {
	Items  []*domain.SavedPrediction `json:"items"`
	Total  int64                     `json:"total"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}

// ListSaved returns saved predictions newest first.
func (s *PredictorService) ListSaved(ctx context.Context, limit, offset int) (*SavedPage, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count saved predictions: %w", err)
	}
	if items == nil {
		items = []*domain.SavedPrediction{}
	}
	return &SavedPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// DeleteSaved removes a saved prediction.
func (s *PredictorService) DeleteSaved(ctx context.Context, id string) error {
	if s.store == nil {
		return ErrStorageDisabled
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("id", id).Info("Saved prediction deleted")
	return nil
}

// ExportSaved writes every saved prediction as JSON.
func (s *PredictorService) ExportSaved(ctx context.Context, w io.Writer) error {
	if s.store == nil {
		return ErrStorageDisabled
	}
	return s.store.ExportJSON(ctx, w)
}

// ImportResult summarizes an import.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportSaved reads an export and stores entries that are not already present.
func (s *PredictorService) ImportSaved(ctx context.Context, r io.Reader) (*ImportResult, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	imported, skipped, err := s.store.ImportJSON(ctx, r)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"imported": imported,
		"skipped":  skipped,
	}).Info("Saved predictions imported")
	return &ImportResult{Imported: imported, Skipped: skipped}, nil
}
