package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/appraise/internal/projector"
	"github.com/kalambet/appraise/internal/report"
	"github.com/kalambet/appraise/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for _, r := range []report.Report{
		{ID: "r-1", UID: "u-1", Name: "first.pdf", ExpectedValue: 1},
		{ID: "r-2", UID: "u-1", Name: "second.pdf", ExpectedValue: 2},
		{ID: "r-3", UID: "u-2", Name: "other.pdf", ExpectedValue: 3},
	} {
		if _, err := store.CreateReport(r); err != nil {
			t.Fatalf("seeding %s: %v", r.ID, err)
		}
	}
	return MCPDeps{Store: store}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_ListReports(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpListReports(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_reports", map[string]interface{}{
		"owner_id": "u-1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var summaries []reportSummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &summaries); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(summaries))
	}
	if summaries[0].ID != "r-1" || summaries[0].Status != report.StatusProcessing || summaries[0].Percent != 0 {
		t.Errorf("unexpected summary: %+v", summaries[0])
	}
}

func TestMCPTool_ListReports_MissingOwner(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, err := mcpListReports(deps)(context.Background(), makeCallToolRequest("list_reports", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_MergeThenStages(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	merge := mcpMergeReportFields(deps)
	result, err := merge(context.Background(), makeCallToolRequest("merge_report_fields", map[string]interface{}{
		"report_id":   "r-1",
		"fields_json": `{"property_info":{"PropertyAddress":"12 Elm St"},"red_flags":[]}`,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); !strings.Contains(text, "2/7") || !strings.Contains(text, "29%") {
		t.Errorf("merge summary = %q", text)
	}

	stages := mcpGetReportStages(deps)
	result, err = stages(context.Background(), makeCallToolRequest("get_report_stages", map[string]interface{}{
		"report_id": "r-1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp StagesResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Stages[0].Status != projector.StatusComplete || resp.Stages[1].Status != projector.StatusComplete {
		t.Errorf("stages 1-2 = %s, %s", resp.Stages[0].Status, resp.Stages[1].Status)
	}
	if resp.Stages[2].Status != projector.StatusPending {
		t.Errorf("stage 3 = %s, want pending", resp.Stages[2].Status)
	}
}

func TestMCPTool_MergeErrors(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	merge := mcpMergeReportFields(deps)

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing id", map[string]interface{}{"fields_json": `{"a":1}`}, "report_id"},
		{"bad json", map[string]interface{}{"report_id": "r-1", "fields_json": `{`}, "invalid fields_json"},
		{"empty", map[string]interface{}{"report_id": "r-1", "fields_json": `{}`}, "at least one"},
		{"unknown report", map[string]interface{}{"report_id": "nope", "fields_json": `{"a":1}`}, "not found"},
		{"reserved", map[string]interface{}{"report_id": "r-1", "fields_json": `{"uid":"x"}`}, "reserved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := merge(context.Background(), makeCallToolRequest("merge_report_fields", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected error result")
			}
			if text := toolText(t, result); !strings.Contains(text, tt.want) {
				t.Errorf("error = %q, want containing %q", text, tt.want)
			}
		})
	}
}

func TestMCPTool_GetStages_NotFound(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	result, err := mcpGetReportStages(deps)(context.Background(), makeCallToolRequest("get_report_stages", map[string]interface{}{
		"report_id": "nope",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPResource_StageDefinitions(t *testing.T) {
	contents, err := mcpResourceStages()(context.Background(), makeReadResourceRequest("reports://stage-definitions"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var defs []projector.Stage
	if err := json.Unmarshal([]byte(tc.Text), &defs); err != nil {
		t.Fatalf("failed to parse stages: %v", err)
	}
	if len(defs) != projector.StageCount {
		t.Fatalf("expected %d stages, got %d", projector.StageCount, len(defs))
	}
	for i, d := range defs {
		if d.ID != i+1 || d.Title == "" || d.Field == "" {
			t.Errorf("stage %d = %+v", i, d)
		}
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
