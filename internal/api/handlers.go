package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/internal/middleware"
	"github.com/ivf-outcome-server/internal/report"
	"github.com/ivf-outcome-server/internal/service"
	"github.com/ivf-outcome-server/internal/storage"
)

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error  *domain.APIError         `json:"error"`
	Report *domain.ValidationReport `json:"report,omitempty"`
}

func (s *Server) handleDiagnoses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"diagnoses": s.svc.Diagnoses()})
}

func (s *Server) handleValidate(c *gin.Context) {
	var form domain.PredictionForm
	if !s.bindJSON(c, &form) {
		return
	}
	c.JSON(http.StatusOK, s.svc.Validate(form))
}

func (s *Server) handlePredict(c *gin.Context) {
	var form domain.PredictionForm
	if !s.bindJSON(c, &form) {
		return
	}
	pred, err := s.svc.Predict(c.Request.Context(), form)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pred)
}

func (s *Server) handlePredictPostRetrieval(c *gin.Context) {
	var form domain.PredictionForm
	if !s.bindJSON(c, &form) {
		return
	}
	pred, err := s.svc.PredictPostRetrieval(c.Request.Context(), form)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pred)
}

func (s *Server) handleSave(c *gin.Context) {
	var req service.SaveRequest
	if !s.bindJSON(c, &req) {
		return
	}
	saved, err := s.svc.SavePrediction(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) handleListSaved(c *gin.Context) {
	limit, ok := s.queryInt(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := s.queryInt(c, "offset", 0)
	if !ok {
		return
	}
	page, err := s.svc.ListSaved(c.Request.Context(), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetSaved(c *gin.Context) {
	saved, err := s.svc.GetSaved(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) handleDeleteSaved(c *gin.Context) {
	if err := s.svc.DeleteSaved(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleReport(c *gin.Context) {
	format, err := report.ParseFormat(c.Query("format"))
	if err != nil {
		s.writeError(c, domain.NewValidationError("format", err.Error(), c.Query("format")))
		return
	}
	saved, err := s.svc.GetSaved(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	body, err := report.Render(report.FromSaved(saved), format)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, format.ContentType(), body)
}

func (s *Server) handleExport(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.svc.ExportSaved(c.Request.Context(), &buf); err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="saved-predictions.json"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", buf.Bytes())
}

func (s *Server) handleImport(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, 16*maxBodyBytes)
	res, err := s.svc.ImportSaved(c.Request.Context(), body)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) bindJSON(c *gin.Context, dst interface{}) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
			Error: domain.NewAPIError(domain.ErrInvalidInput, "Request body is not valid JSON", err.Error(), requestID(c)),
		})
		return false
	}
	return true
}

func (s *Server) queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		s.writeError(c, domain.NewValidationError(name, "must be an integer", raw))
		return 0, false
	}
	return v, true
}

// writeError maps service errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	rid := requestID(c)

	var failed *domain.ValidationFailedError
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &failed):
		c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Error:  domain.NewAPIError(domain.ErrValidation, "Inputs failed validation", failed.Error(), rid),
			Report: failed.Report,
		})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, errorResponse{
			Error: domain.NewAPIError(domain.ErrInvalidInput, verr.Error(), "", rid),
		})
	case errors.Is(err, storage.ErrInvalidExport):
		c.JSON(http.StatusBadRequest, errorResponse{
			Error: domain.NewAPIError(domain.ErrInvalidInput, "Import document is not a valid export", err.Error(), rid),
		})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{
			Error: domain.NewAPIError(domain.ErrNotFoundCode, "Saved prediction not found", "", rid),
		})
	case errors.Is(err, service.ErrStorageDisabled):
		c.JSON(http.StatusServiceUnavailable, errorResponse{
			Error: domain.NewAPIError(domain.ErrStorage, err.Error(), "", rid),
		})
	default:
		s.logger.WithError(err).WithField("correlation_id", rid).Error("Request failed")
		c.JSON(http.StatusInternalServerError, errorResponse{
			Error: domain.NewAPIError(domain.ErrInternalServer, "Internal server error", "", rid),
		})
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(middleware.CorrelationIDKey)
}
