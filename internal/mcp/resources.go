package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/internal/report"
)

const (
	diagnosesURI      = "ivf://diagnoses"
	savedURIPrefix    = "ivf://saved/"
	savedURITemplate  = savedURIPrefix + "{id}"
	reportURITemplate = savedURIPrefix + "{id}/report"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         diagnosesURI,
		Name:        "diagnoses",
		Description: "Diagnosis catalogue",
		MIMEType:    "application/json",
	}, s.readDiagnoses)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "saved_prediction",
		URITemplate: savedURITemplate,
		Description: "A saved prediction as JSON",
		MIMEType:    "application/json",
	}, s.readSaved)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "saved_prediction_report",
		URITemplate: reportURITemplate,
		Description: "A saved prediction rendered as a Markdown report",
		MIMEType:    "text/markdown",
	}, s.readSaved)
}

func (s *Server) readDiagnoses(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(s.svc.Diagnoses(), "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)}},
	}, nil
}

func (s *Server) readSaved(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	id, asReport := parseSavedURI(uri)
	if id == "" {
		return nil, mcp.ResourceNotFoundError(uri)
	}

	saved, err := s.svc.GetSaved(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read saved prediction: %w", err)
	}

	if asReport {
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "text/markdown", Text: report.Markdown(report.FromSaved(saved))}},
		}, nil
	}
	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "application/json", Text: string(data)}},
	}, nil
}

// parseSavedURI splits ivf://saved/{id}[/report].
func parseSavedURI(uri string) (id string, asReport bool) {
	rest, ok := strings.CutPrefix(uri, savedURIPrefix)
	if !ok {
		return "", false
	}
	if trimmed, ok := strings.CutSuffix(rest, "/report"); ok {
		rest, asReport = trimmed, true
	}
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, asReport
}
