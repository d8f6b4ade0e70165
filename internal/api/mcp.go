package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/appraise/internal/projector"
	"github.com/kalambet/appraise/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     ReportStore
	Projector projector.Options
}

// NewMCPServer creates an MCP server with the appraise tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"appraise",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("appraise: appraisal report records and their seven-stage analysis progress."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_reports",
			mcp.WithDescription("List the appraisal reports owned by a user with their status and progress."),
			mcp.WithString("owner_id", mcp.Description("User id of the report owner"), mcp.Required()),
		),
		mcpListReports(deps),
	)

	s.AddTool(
		mcp.NewTool("get_report_stages",
			mcp.WithDescription("Project a report's result fields into the seven analysis stages."),
			mcp.WithString("report_id", mcp.Description("Report id"), mcp.Required()),
		),
		mcpGetReportStages(deps),
	)

	s.AddTool(
		mcp.NewTool("merge_report_fields",
			mcp.WithDescription("Merge stage result fields into a report, the way the analysis pipeline writes them."),
			mcp.WithString("report_id", mcp.Description("Report id"), mcp.Required()),
			mcp.WithString("fields_json", mcp.Description("JSON object of fields to merge, e.g. {\"red_flags\": [...]}"), mcp.Required()),
		),
		mcpMergeReportFields(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"reports://stage-definitions",
			"Stage Definitions",
			mcp.WithResourceDescription("The seven analysis stages with persona, title and result field"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStages(),
	)

	return s
}

type reportSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Percent   int    `json:"percent"`
}

func mcpListReports(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner, err := req.RequireString("owner_id")
		if err != nil || owner == "" {
			return mcpError("owner_id is required"), nil
		}

		reports, err := deps.Store.ListReportsByOwner(owner)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list reports: %v", err)), nil
		}

		summaries := make([]reportSummary, len(reports))
		for i, r := range reports {
			summaries[i] = reportSummary{
				ID:        r.ID,
				Name:      r.Name,
				Status:    r.Status,
				Timestamp: r.Timestamp.Format(time.RFC3339),
				Percent:   projector.Project(r.Fields, deps.Projector).Percent(),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal reports: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetReportStages(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("report_id")
		if err != nil || id == "" {
			return mcpError("report_id is required"), nil
		}

		r, err := deps.Store.GetReport(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("report %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get report: %v", err)), nil
		}

		p := projector.Project(r.Fields, deps.Projector)
		b, err := json.Marshal(StagesResponse{
			ReportID: r.ID,
			Stages:   p.Stages,
			Progress: p.Progress,
			Percent:  p.Percent(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stages: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpMergeReportFields(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("report_id")
		if err != nil || id == "" {
			return mcpError("report_id is required"), nil
		}
		raw, err := req.RequireString("fields_json")
		if err != nil {
			return mcpError("fields_json is required"), nil
		}

		var patch map[string]any
		if err := json.Unmarshal([]byte(raw), &patch); err != nil {
			return mcpError(fmt.Sprintf("invalid fields_json: %v", err)), nil
		}
		if len(patch) == 0 {
			return mcpError("fields_json must contain at least one field"), nil
		}

		r, err := deps.Store.MergeReportFields(id, patch)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("report %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to merge fields: %v", err)), nil
		}

		p := projector.Project(r.Fields, deps.Projector)
		return mcpText(fmt.Sprintf("Merged %d field(s) into %s; %d/%d stages complete (%d%%)",
			len(patch), id, p.Completed(), projector.StageCount, p.Percent())), nil
	}
}

func mcpResourceStages() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stages := projector.Stages()
		b, err := json.Marshal(stages)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stages: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
