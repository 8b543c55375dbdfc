package mcp

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivf-outcome-server/internal/domain"
	"github.com/ivf-outcome-server/internal/prediction"
	"github.com/ivf-outcome-server/internal/service"
	"github.com/ivf-outcome-server/internal/storage"
)

func connect(t *testing.T) *mcp.ClientSession {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	pipeline, err := prediction.NewDefaultPipeline()
	require.NoError(t, err)
	st, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := service.NewPredictorService(logger, pipeline, service.WithStore(st))
	srv := NewServer(domain.MCPConfig{ServerName: "ivf-test"}, svc, logger)

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func call(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

var typicalArgs = map[string]any{
	"age":       "32",
	"amh":       "3.0",
	"estradiol": "2100",
	"diagnosis": "tubal_factor",
}

func TestListTools(t *testing.T) {
	cs := connect(t)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		ToolListDiagnoses, ToolValidateInputs, ToolPredictOutcomes, ToolPredictFromOocytes,
		ToolSavePrediction, ToolListSavedPredictions, ToolGetSavedPrediction, ToolDeleteSavedPrediction,
	}, names)
}

func TestPredictOutcomes(t *testing.T) {
	cs := connect(t)

	res := call(t, cs, ToolPredictOutcomes, typicalArgs)
	require.False(t, res.IsError, text(t, res))

	var pred domain.Prediction
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &pred))
	assert.Equal(t, domain.PreRetrieval, pred.Results.Mode)
	assert.Equal(t, domain.HIGH, pred.Confidence)
}

func TestPredictOutcomes_InvalidIsToolError(t *testing.T) {
	cs := connect(t)

	res := call(t, cs, ToolPredictOutcomes, map[string]any{"age": "30", "amh": "-1"})
	assert.True(t, res.IsError)

	var report domain.ValidationReport
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &report))
	assert.Contains(t, report.Errors, "AMH cannot be negative")
}

func TestPredictFromOocytes(t *testing.T) {
	cs := connect(t)

	res := call(t, cs, ToolPredictFromOocytes, map[string]any{"age": "36", "oocyte_count": "0"})
	require.False(t, res.IsError, text(t, res))

	var pred domain.Prediction
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &pred))
	assert.Equal(t, domain.PostRetrieval, pred.Results.Mode)
	assert.Zero(t, pred.Results.ICSI.Euploid.Predicted)
}

func TestValidateInputs(t *testing.T) {
	cs := connect(t)

	res := call(t, cs, ToolValidateInputs, map[string]any{"age": "46", "amh": "0.9"})
	var report domain.ValidationReport
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, domain.LOW, report.Confidence)
}

func TestSavedPredictionTools(t *testing.T) {
	cs := connect(t)
	ctx := context.Background()

	res := call(t, cs, ToolSavePrediction, map[string]any{"name": "Consult", "inputs": typicalArgs})
	require.False(t, res.IsError, text(t, res))
	var saved domain.SavedPrediction
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &saved))

	res = call(t, cs, ToolListSavedPredictions, map[string]any{})
	var page service.SavedPage
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &page))
	assert.Equal(t, int64(1), page.Total)

	res = call(t, cs, ToolGetSavedPrediction, map[string]any{"id": saved.ID, "format": "markdown"})
	assert.Contains(t, text(t, res), "# Consult")

	read, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: savedURIPrefix + saved.ID + "/report"})
	require.NoError(t, err)
	require.Len(t, read.Contents, 1)
	assert.Contains(t, read.Contents[0].Text, "## ICSI")

	prompt, err := cs.GetPrompt(ctx, &mcp.GetPromptParams{Name: promptExplainPrediction, Arguments: map[string]string{"id": saved.ID}})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)

	res = call(t, cs, ToolDeleteSavedPrediction, map[string]any{"id": saved.ID})
	assert.False(t, res.IsError)

	res = call(t, cs, ToolGetSavedPrediction, map[string]any{"id": saved.ID})
	assert.True(t, res.IsError)
	assert.Equal(t, "saved prediction not found", text(t, res))
}

func TestParseSavedURI(t *testing.T) {
	id, asReport := parseSavedURI("ivf://saved/abc")
	assert.Equal(t, "abc", id)
	assert.False(t, asReport)

	id, asReport = parseSavedURI("ivf://saved/abc/report")
	assert.Equal(t, "abc", id)
	assert.True(t, asReport)

	id, _ = parseSavedURI("ivf://saved/a/b")
	assert.Empty(t, id)
	id, _ = parseSavedURI("ivf://other/abc")
	assert.Empty(t, id)
}
