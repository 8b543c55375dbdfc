package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/internal/report"
	"github.com/ivf-outcome-server/internal/service"
)

// Tool names.
const (
	ToolListDiagnoses         = "list_diagnoses"
	ToolValidateInputs        = "validate_inputs"
	ToolPredictOutcomes       = "predict_outcomes"
	ToolPredictFromOocytes    = "predict_from_oocytes"
	ToolSavePrediction        = "save_prediction"
	ToolListSavedPredictions  = "list_saved_predictions"
	ToolGetSavedPrediction    = "get_saved_prediction"
	ToolDeleteSavedPrediction = "delete_saved_prediction"
)

// FormInput mirrors the patient form. Values are strings so validation can report
// the exact problem with what was entered.
type FormInput struct {
	Mode          string `json:"mode,omitempty" jsonschema:"pre_retrieval (default) or post_retrieval"`
	Age           string `json:"age" jsonschema:"patient age in years"`
	AMH           string `json:"amh,omitempty" jsonschema:"anti-Mullerian hormone; required before retrieval"`
	AMHUnit       string `json:"amh_unit,omitempty" jsonschema:"ng/mL (default) or pmol/L"`
	Estradiol     string `json:"estradiol,omitempty" jsonschema:"peak estradiol"`
	EstradiolUnit string `json:"estradiol_unit,omitempty" jsonschema:"pg/mL (default) or pmol/L"`
	BMI           string `json:"bmi,omitempty" jsonschema:"body mass index"`
	PriorCycles   string `json:"prior_cycles,omitempty" jsonschema:"number of previous IVF cycles"`
	Diagnosis     string `json:"diagnosis,omitempty" jsonschema:"diagnosis key from list_diagnoses; defaults to unexplained"`
	MaleFactor    *bool  `json:"male_factor,omitempty" jsonschema:"partner has male-factor infertility"`
	OocyteCount   string `json:"oocyte_count,omitempty" jsonschema:"oocytes retrieved; required after retrieval"`
	MatureOocytes string `json:"mature_oocytes,omitempty" jsonschema:"mature (MII) oocytes, if known"`
}

func (f FormInput) form() domain.PredictionForm {
	return domain.PredictionForm{
		Mode:          f.Mode,
		Age:           f.Age,
		AMH:           f.AMH,
		AMHUnit:       f.AMHUnit,
		Estradiol:     f.Estradiol,
		EstradiolUnit: f.EstradiolUnit,
		BMI:           f.BMI,
		PriorCycles:   f.PriorCycles,
		Diagnosis:     f.Diagnosis,
		MaleFactor:    f.MaleFactor,
		OocyteCount:   f.OocyteCount,
		MatureOocytes: f.MatureOocytes,
	}
}

// OocyteInput is the post-retrieval form.
type OocyteInput struct {
	Age           string `json:"age" jsonschema:"patient age in years"`
	OocyteCount   string `json:"oocyte_count" jsonschema:"oocytes retrieved"`
	MatureOocytes string `json:"mature_oocytes,omitempty" jsonschema:"mature (MII) oocytes, if known"`
	Diagnosis     string `json:"diagnosis,omitempty" jsonschema:"diagnosis key from list_diagnoses"`
	MaleFactor    *bool  `json:"male_factor,omitempty" jsonschema:"partner has male-factor infertility"`
	BMI           string `json:"bmi,omitempty" jsonschema:"body mass index"`
	PriorCycles   string `json:"prior_cycles,omitempty" jsonschema:"number of previous IVF cycles"`
}

// SaveInput names a prediction to keep.
type SaveInput struct {
	Name   string    `json:"name" jsonschema:"label for the saved prediction"`
	Notes  string    `json:"notes,omitempty" jsonschema:"free-text notes"`
	Inputs FormInput `json:"inputs" jsonschema:"patient form"`
}

// ListInput pages through saved predictions.
type ListInput struct {
	Limit  int `json:"limit,omitempty" jsonschema:"page size, default 50"`
	Offset int `json:"offset,omitempty" jsonschema:"entries to skip"`
}

// GetInput selects a saved prediction.
type GetInput struct {
	ID     string `json:"id" jsonschema:"saved prediction id"`
	Format string `json:"format,omitempty" jsonschema:"json (default), markdown or html"`
}

// IDInput selects a saved prediction.
type IDInput struct {
	ID string `json:"id" jsonschema:"saved prediction id"`
}

// EmptyInput takes no arguments.
type EmptyInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolListDiagnoses,
		Description: "List the infertility diagnoses the model understands.",
	}, s.handleListDiagnoses)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolValidateInputs,
		Description: "Check patient inputs and report per-field errors, warnings and overall confidence without predicting.",
	}, s.handleValidateInputs)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolPredictOutcomes,
		Description: "Estimate the IVF funnel (oocytes, mature oocytes, fertilized, day-3, blastocysts, euploid) for conventional IVF and ICSI.",
	}, s.handlePredictOutcomes)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolPredictFromOocytes,
		Description: "Estimate downstream embryo counts from a known number of retrieved oocytes.",
	}, s.handlePredictFromOocytes)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolSavePrediction,
		Description: "Compute a prediction and store it under a name.",
	}, s.handleSavePrediction)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolListSavedPredictions,
		Description: "List saved predictions, newest first.",
	}, s.handleListSaved)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolGetSavedPrediction,
		Description: "Fetch a saved prediction as JSON or as a Markdown/HTML report.",
	}, s.handleGetSaved)
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolDeleteSavedPrediction,
		Description: "Delete a saved prediction.",
	}, s.handleDeleteSaved)

	s.logger.WithField("tool_count", 8).Info("Registered MCP tools")
}

func (s *Server) handleListDiagnoses(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	s.logTool(ToolListDiagnoses)
	return jsonResult(map[string]interface{}{"diagnoses": s.svc.Diagnoses()})
}

func (s *Server) handleValidateInputs(ctx context.Context, _ *mcp.CallToolRequest, in FormInput) (*mcp.CallToolResult, any, error) {
	s.logTool(ToolValidateInputs)
	return jsonResult(s.svc.Validate(in.form()))
}

func (s *Server) handlePredictOutcomes(ctx context.Context, _ *mcp.CallToolRequest, in FormInput) (*mcp.CallToolResult, any, error) {
	start := s.logTool(ToolPredictOutcomes)
	pred, err := s.svc.Predict(ctx, in.form())
	return s.finish(ToolPredictOutcomes, start, pred, err)
}

func (s *Server) handlePredictFromOocytes(ctx context.Context, _ *mcp.CallToolRequest, in OocyteInput) (*mcp.CallToolResult, any, error) {
	start := s.logTool(ToolPredictFromOocytes)
	pred, err := s.svc.PredictPostRetrieval(ctx, domain.PredictionForm{
		Age:           in.Age,
		OocyteCount:   in.OocyteCount,
		MatureOocytes: in.MatureOocytes,
		Diagnosis:     in.Diagnosis,
		MaleFactor:    in.MaleFactor,
		BMI:           in.BMI,
		PriorCycles:   in.PriorCycles,
	})
	return s.finish(ToolPredictFromOocytes, start, pred, err)
}

func (s *Server) handleSavePrediction(ctx context.Context, _ *mcp.CallToolRequest, in SaveInput) (*mcp.CallToolResult, any, error) {
	start := s.logTool(ToolSavePrediction)
	saved, err := s.svc.SavePrediction(ctx, service.SaveRequest{
		Name:  in.Name,
		Notes: in.Notes,
		Form:  in.Inputs.form(),
	})
	return s.finish(ToolSavePrediction, start, saved, err)
}

func (s *Server) handleListSaved(ctx context.Context, _ *mcp.CallToolRequest, in ListInput) (*mcp.CallToolResult, any, error) {
	start := s.logTool(ToolListSavedPredictions)
	page, err := s.svc.ListSaved(ctx, in.Limit, in.Offset)
	return s.finish(ToolListSavedPredictions, start, page, err)
}

func (s *Server) handleGetSaved(ctx context.Context, _ *mcp.CallToolRequest, in GetInput) (*mcp.CallToolResult, any, error) {
	start := s.logTool(ToolGetSavedPrediction)
	saved, err := s.svc.GetSaved(ctx, in.ID)
	if err != nil || in.Format == "" || in.Format == "json" {
		return s.finish(ToolGetSavedPrediction, start, saved, err)
	}

	format, err := report.ParseFormat(in.Format)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	body, err := report.Render(report.FromSaved(saved), format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to render report: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
	}, nil, nil
}

func (s *Server) handleDeleteSaved(ctx context.Context, _ *mcp.CallToolRequest, in IDInput) (*mcp.CallToolResult, any, error) {
	start := s.logTool(ToolDeleteSavedPrediction)
	err := s.svc.DeleteSaved(ctx, in.ID)
	return s.finish(ToolDeleteSavedPrediction, start, map[string]interface{}{"deleted": in.ID}, err)
}

func (s *Server) logTool(name string) time.Time {
	s.logger.WithField("tool", name).Info("Tool invoked")
	return time.Now()
}

// finish turns service outcomes into tool results. Expected failures become
// tool-level errors the model can read; anything else is a protocol error.
func (s *Server) finish(name string, start time.Time, v interface{}, err error) (*mcp.CallToolResult, any, error) {
	fields := logrus.Fields{"tool": name, "processing_time": time.Since(start)}
	if err == nil {
		s.logger.WithFields(fields).Info("Tool completed")
		return jsonResult(v)
	}

	var failed *domain.ValidationFailedError
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &failed):
		s.logger.WithFields(fields).Info("Tool rejected invalid inputs")
		res, _, jerr := jsonResult(failed.Report)
		if jerr != nil {
			return nil, nil, jerr
		}
		res.IsError = true
		return res, nil, nil
	case errors.As(err, &verr):
		return errorResult(verr.Error()), nil, nil
	case errors.Is(err, domain.ErrNotFound):
		return errorResult("saved prediction not found"), nil, nil
	case errors.Is(err, service.ErrStorageDisabled):
		return errorResult(err.Error()), nil, nil
	default:
		s.logger.WithFields(fields).WithError(err).Error("Tool failed")
		return nil, nil, err
	}
}

func jsonResult(v interface{}) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
