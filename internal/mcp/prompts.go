package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ivf-outcome-server/internal/report"
)

const promptExplainPrediction = "explain_prediction"

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        promptExplainPrediction,
		Description: "Explain a saved prediction to a patient in plain language",
		Arguments: []*mcp.PromptArgument{
			{Name: "id", Description: "saved prediction id", Required: true},
			{Name: "audience", Description: "patient (default) or clinician"},
		},
	}, s.getExplainPrediction)
}

func (s *Server) getExplainPrediction(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	id := strings.TrimSpace(req.Params.Arguments["id"])
	if id == "" {
		return nil, errors.New("argument id is required")
	}
	saved, err := s.svc.GetSaved(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load saved prediction %q: %w", id, err)
	}

	audience := req.Params.Arguments["audience"]
	var guidance string
	switch audience {
	case "clinician":
		guidance = "Summarize for a reproductive endocrinologist. Mention which inputs drove the estimate and flag any input warnings."
	default:
		guidance = "Explain to the patient in plain language. Describe how each stage narrows the count, compare conventional IVF and ICSI, " +
			"and be clear that these are averages and not a promise."
	}

	var b strings.Builder
	b.WriteString(guidance)
	b.WriteString("\n\n")
	b.WriteString(report.Markdown(report.FromSaved(saved)))

	return &mcp.GetPromptResult{
		Description: "Explain saved prediction " + saved.Name,
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: b.String()}},
		},
	}, nil
}
