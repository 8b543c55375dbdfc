package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/internal/prediction"
	"github.com/ivf-outcome-server/internal/service"
	"github.com/ivf-outcome-server/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *domain.Config {
	return &domain.Config{
		Logging: domain.LoggingConfig{Level: "error"},
	}
}

func newTestServer(t *testing.T, withStore bool) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	pipeline, err := prediction.NewDefaultPipeline()
	require.NoError(t, err)

	var opts []service.Option
	if withStore {
		st, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		opts = append(opts, service.WithStore(st))
	}
	return NewServer(testConfig(), service.NewPredictorService(logger, pipeline, opts...), logger)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

const typicalBody = `{"age":"32","amh":"3.0","amh_unit":"ng/mL","estradiol":"2100","diagnosis":"tubal_factor"}`

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)
	s.AddHealthCheck("database", func(context.Context) error { return nil })

	w := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Contains(t, w.Body.String(), `"model_version":"2024.1"`)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))

	s.AddHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	w = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestDiagnoses(t *testing.T) {
	w := do(t, newTestServer(t, false), http.MethodGet, "/api/v1/diagnoses", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Diagnoses []domain.DiagnosisInfo `json:"diagnoses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Diagnoses, 13)
}

func TestValidate_ReturnsReportForInvalidInputs(t *testing.T) {
	w := do(t, newTestServer(t, false), http.MethodPost, "/api/v1/validate", `{"age":"30","amh":"-1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var report domain.ValidationReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.False(t, report.Valid)
	assert.Contains(t, report.Errors, "AMH cannot be negative")
}

func TestPredict(t *testing.T) {
	w := do(t, newTestServer(t, false), http.MethodPost, "/api/v1/predictions", typicalBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var pred domain.Prediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pred))
	assert.Equal(t, domain.PreRetrieval, pred.Results.Mode)
	assert.Equal(t, domain.HIGH, pred.Confidence)
	assert.Equal(t, w.Header().Get("X-Correlation-ID"), pred.RequestID)
}

func TestPredict_InvalidInputIs422(t *testing.T) {
	w := do(t, newTestServer(t, false), http.MethodPost, "/api/v1/predictions", `{"age":"30","amh":"-1"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, domain.ErrValidation, body.Error.Code)
	require.NotNil(t, body.Report)
	assert.Contains(t, body.Report.Errors, "AMH cannot be negative")
}

func TestPredict_BadJSONIs400(t *testing.T) {
	w := do(t, newTestServer(t, false), http.MethodPost, "/api/v1/predictions", `{"age":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrInvalidInput)
}

func TestPredictPostRetrieval(t *testing.T) {
	body := `{"age":"36","oocyte_count":"12","mature_oocytes":"9","diagnosis":"male_factor"}`
	w := do(t, newTestServer(t, false), http.MethodPost, "/api/v1/predictions/post-retrieval", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var pred domain.Prediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pred))
	assert.Equal(t, domain.PostRetrieval, pred.Results.Mode)
	assert.Equal(t, 12.0, pred.Results.Oocytes.Predicted)
	assert.True(t, pred.Inputs.MaleFactor)
}

func TestSaved_Lifecycle(t *testing.T) {
	s := newTestServer(t, true)

	w := do(t, s, http.MethodPost, "/api/v1/saved", `{"name":"March consult","inputs":`+typicalBody+`}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var saved domain.SavedPrediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &saved))
	require.NotEmpty(t, saved.ID)

	w = do(t, s, http.MethodGet, "/api/v1/saved?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page service.SavedPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(1), page.Total)

	w = do(t, s, http.MethodGet, "/api/v1/saved/"+saved.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/saved/"+saved.ID+"/report?format=html", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "<h1>March consult</h1>")

	w = do(t, s, http.MethodGet, "/api/v1/saved/"+saved.ID+"/report", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "# March consult"))

	w = do(t, s, http.MethodGet, "/api/v1/saved/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	exported := w.Body.String()

	w = do(t, s, http.MethodDelete, "/api/v1/saved/"+saved.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/saved/"+saved.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/saved/import", exported)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"imported":1,"skipped":0}`, w.Body.String())
}

func TestSaved_Errors(t *testing.T) {
	s := newTestServer(t, true)

	w := do(t, s, http.MethodGet, "/api/v1/saved?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/saved/nope/report?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/saved", `{"name":"","inputs":`+typicalBody+`}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/saved/import", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/saved/import", bytes.NewBufferString(`{"version":"1.0","predictions":[]}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSaved_StorageDisabledIs503(t *testing.T) {
	w := do(t, newTestServer(t, false), http.MethodGet, "/api/v1/saved", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRateLimit(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	pipeline, err := prediction.NewDefaultPipeline()
	require.NoError(t, err)

	cfg := testConfig()
	cfg.RateLimit = domain.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}
	s := NewServer(cfg, service.NewPredictorService(logger, pipeline), logger)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/diagnoses", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodGet, "/api/v1/diagnoses", "").Code)
}
