package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivf-outcome-server/internal/cache"
	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/internal/prediction"
	"github.com/ivf-outcome-server/internal/storage"
)

type fakeAudit struct {
	mu      sync.Mutex
	records []*domain.PredictionRecord
	err     error
}

func (f *fakeAudit) Record(_ context.Context, rec *domain.PredictionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newPipeline(t *testing.T) *prediction.Pipeline {
	t.Helper()
	p, err := prediction.NewDefaultPipeline()
	require.NoError(t, err)
	return p
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "predictions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func typicalForm() domain.PredictionForm {
	return domain.PredictionForm{
		Age:       "32",
		AMH:       "3.0",
		AMHUnit:   "ng/mL",
		Estradiol: "2100",
		Diagnosis: "tubal_factor",
	}
}

func TestPredict_TypicalPatient(t *testing.T) {
	audit := &fakeAudit{}
	svc := NewPredictorService(quietLogger(), newPipeline(t), WithAudit(audit))

	ctx := domain.WithRequestID(context.Background(), "req-1")
	pred, err := svc.Predict(ctx, typicalForm())
	require.NoError(t, err)

	assert.Equal(t, "req-1", pred.RequestID)
	assert.Equal(t, domain.PreRetrieval, pred.Results.Mode)
	assert.Equal(t, domain.HIGH, pred.Confidence)
	assert.False(t, pred.Cached)
	assert.Greater(t, pred.Results.Oocytes.Predicted, 0.0)
	assert.LessOrEqual(t, pred.Results.ICSI.Euploid.Predicted, pred.Results.ICSI.Blastocyst.Predicted)

	require.Len(t, audit.records, 1)
	rec := audit.records[0]
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, domain.DiagnosisTubalFactor, rec.Diagnosis)
	assert.Len(t, rec.InputFingerprint, 32)
	assert.Equal(t, svc.ModelVersion(), rec.ModelVersion)
}

func TestPredict_InvalidInputsAreGated(t *testing.T) {
	audit := &fakeAudit{}
	svc := NewPredictorService(quietLogger(), newPipeline(t), WithAudit(audit))

	form := typicalForm()
	form.AMH = "-1"

	pred, err := svc.Predict(context.Background(), form)
	assert.Nil(t, pred)

	var failed *domain.ValidationFailedError
	require.ErrorAs(t, err, &failed)
	require.NotNil(t, failed.Report)
	assert.False(t, failed.Report.Valid)
	assert.Contains(t, failed.Report.Errors, "AMH cannot be negative")
	assert.Empty(t, audit.records)
}

func TestPredict_WarningsLowerConfidence(t *testing.T) {
	svc := NewPredictorService(quietLogger(), newPipeline(t))

	form := typicalForm()
	form.Age = "42"
	form.Estradiol = ""

	pred, err := svc.Predict(context.Background(), form)
	require.NoError(t, err)
	assert.Equal(t, domain.LOW, pred.Confidence)
	assert.NotEmpty(t, pred.Warnings)
}

func TestPredict_UsesCache(t *testing.T) {
	mem := cache.NewMemoryCache(16, time.Minute)
	svc := NewPredictorService(quietLogger(), newPipeline(t), WithCache(mem, time.Minute))

	first, err := svc.Predict(context.Background(), typicalForm())
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Predict(context.Background(), typicalForm())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Results.ICSI, second.Results.ICSI)

	stats := mem.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, 1, stats.Entries)
}

func TestPredict_CacheHitCarriesCurrentTimestamp(t *testing.T) {
	mem := cache.NewMemoryCache(16, time.Minute)
	svc := NewPredictorService(quietLogger(), newPipeline(t), WithCache(mem, time.Minute))

	first, err := svc.Predict(context.Background(), typicalForm())
	require.NoError(t, err)

	later := first.Results.ComputedAt.Add(10 * time.Minute)
	svc.now = func() time.Time { return later }

	second, err := svc.Predict(context.Background(), typicalForm())
	require.NoError(t, err)
	require.True(t, second.Cached)
	assert.True(t, later.Equal(second.Results.ComputedAt))
	assert.Equal(t, first.Results.Oocytes, second.Results.Oocytes)
}

func TestPredict_AuditFailureDoesNotFailPrediction(t *testing.T) {
	audit := &fakeAudit{err: errors.New("connection refused")}
	svc := NewPredictorService(quietLogger(), newPipeline(t), WithAudit(audit))

	pred, err := svc.Predict(context.Background(), typicalForm())
	require.NoError(t, err)
	assert.NotNil(t, pred)
}

func TestPredictPostRetrieval_ForcesMode(t *testing.T) {
	svc := NewPredictorService(quietLogger(), newPipeline(t))

	form := typicalForm()
	form.Mode = "pre"
	form.AMH = ""
	form.OocyteCount = "12"
	form.MatureOocytes = "9"

	pred, err := svc.PredictPostRetrieval(context.Background(), form)
	require.NoError(t, err)
	assert.Equal(t, domain.PostRetrieval, pred.Results.Mode)
	assert.Equal(t, 12.0, pred.Results.Oocytes.Predicted)
	assert.Equal(t, 9.0, pred.Results.MatureOocytes.Predicted)
}

func TestPredictPreRetrieval_RequiresAMH(t *testing.T) {
	svc := NewPredictorService(quietLogger(), newPipeline(t))

	form := typicalForm()
	form.AMH = ""

	_, err := svc.PredictPreRetrieval(context.Background(), form)
	var failed *domain.ValidationFailedError
	assert.ErrorAs(t, err, &failed)
}

func TestSavedPredictions_Lifecycle(t *testing.T) {
	svc := NewPredictorService(quietLogger(), newPipeline(t), WithStore(newStore(t)))
	ctx := context.Background()

	saved, err := svc.SavePrediction(ctx, SaveRequest{Name: "  First consult ", Form: typicalForm()})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "First consult", saved.Name)

	got, err := svc.GetSaved(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.Results.ICSI.Euploid, got.Results.ICSI.Euploid)

	page, err := svc.ListSaved(ctx, 0, -5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, storage.DefaultListLimit, page.Limit)
	assert.Equal(t, 0, page.Offset)
	require.Len(t, page.Items, 1)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportSaved(ctx, &buf))

	require.NoError(t, svc.DeleteSaved(ctx, saved.ID))
	_, err = svc.GetSaved(ctx, saved.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteSaved(ctx, saved.ID), domain.ErrNotFound)

	res, err := svc.ImportSaved(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 0, res.Skipped)
}

func TestSavePrediction_RequiresName(t *testing.T) {
	svc := NewPredictorService(quietLogger(), newPipeline(t), WithStore(newStore(t)))

	_, err := svc.SavePrediction(context.Background(), SaveRequest{Name: " ", Form: typicalForm()})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
}

func TestSavedPredictions_StorageDisabled(t *testing.T) {
	svc := NewPredictorService(quietLogger(), newPipeline(t))
	ctx := context.Background()

	_, err := svc.SavePrediction(ctx, SaveRequest{Name: "x", Form: typicalForm()})
	assert.ErrorIs(t, err, ErrStorageDisabled)
	_, err = svc.ListSaved(ctx, 10, 0)
	assert.ErrorIs(t, err, ErrStorageDisabled)
	assert.ErrorIs(t, svc.ExportSaved(ctx, io.Discard), ErrStorageDisabled)
}

func TestDiagnoses(t *testing.T) {
	svc := NewPredictorService(quietLogger(), newPipeline(t))
	assert.Len(t, svc.Diagnoses(), 13)
}
