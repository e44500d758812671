package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/tracelink/internal/hook"
	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/metrics"
	"github.com/joescharf/tracelink/internal/models"
	"github.com/joescharf/tracelink/internal/validate"
)

// HistorySource supplies recorded history for the metrics tool.
type HistorySource interface {
	ListHistory(ctx context.Context, since time.Time) ([]models.HistoricalEvent, error)
}

// Server exposes key extraction, validation and commit message preparation
// as MCP tools so editor agents follow the same rules as CI.
type Server struct {
	grammar   *issuekey.Grammar
	validator *validate.Validator
	history   HistorySource
	version   string
	now       func() time.Time
}

// NewServer creates the MCP server wrapper. history may be nil, in which
// case the metrics tool is not registered.
func NewServer(g *issuekey.Grammar, history HistorySource, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{
		grammar:   g,
		validator: validate.New(g),
		history:   history,
		version:   version,
		now:       time.Now,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tracelink", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.extractKeysTool())
	srv.AddTool(s.validateBranchTool())
	srv.AddTool(s.validateCommitsTool())
	srv.AddTool(s.prepareMessageTool())
	if s.history != nil {
		srv.AddTool(s.metricsSummaryTool())
	}

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// tracelink_extract_keys
func (s *Server) extractKeysTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracelink_extract_keys",
		mcp.WithDescription(fmt.Sprintf("Extract issue keys (e.g. %s-123) from free text. Returns a JSON array of unique keys in order of first appearance.", s.grammar.Prefixes()[0])),
		mcp.WithString("text", mcp.Required(), mcp.Description("Branch name, commit message or PR title")),
	)
	return tool, s.handleExtractKeys
}

func (s *Server) handleExtractKeys(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}
	return jsonResult(issuekey.Strings(s.grammar.Extract(text)))
}

// tracelink_validate_branch
func (s *Server) validateBranchTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracelink_validate_branch",
		mcp.WithDescription("Check that a branch name references an issue key. Returns a verdict with passed, reason and keys_found."),
		mcp.WithString("branch", mcp.Required(), mcp.Description("Branch name")),
	)
	return tool, s.handleValidateBranch
}

func (s *Server) handleValidateBranch(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	branch, err := request.RequireString("branch")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: branch"), nil
	}
	return jsonResult(s.validator.ValidateBranch(branch))
}

// tracelink_validate_commits
func (s *Server) validateCommitsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracelink_validate_commits",
		mcp.WithDescription("Check that each commit message starts with a bracketed issue key such as [KEY-1]. Messages are one per line; to pass multi-line messages, separate them with a line containing only '---'."),
		mcp.WithString("messages", mcp.Required(), mcp.Description("Newline-separated commit messages")),
	)
	return tool, s.handleValidateCommits
}

func (s *Server) handleValidateCommits(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("messages")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: messages"), nil
	}
	messages := validate.SplitMessages(raw)
	if len(messages) == 0 {
		return mcp.NewToolResultError("no commit messages given"), nil
	}

	var report validate.Report
	report.Add(s.validator.ValidateCommits(messages)...)

	type out struct {
		Passed   bool               `json:"passed"`
		Verdicts []validate.Verdict `json:"verdicts"`
	}
	return jsonResult(out{Passed: report.Passed(), Verdicts: report.Verdicts})
}

// tracelink_prepare_message
func (s *Server) prepareMessageTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracelink_prepare_message",
		mcp.WithDescription("Prefix a commit message with [KEY] taken from the branch name, exactly as the prepare-commit-msg hook does. Messages that already lead with a key are returned unchanged."),
		mcp.WithString("branch", mcp.Required(), mcp.Description("Current branch name")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Draft commit message")),
	)
	return tool, s.handlePrepareMessage
}

func (s *Server) handlePrepareMessage(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	branch, err := request.RequireString("branch")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: branch"), nil
	}
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: message"), nil
	}
	return mcp.NewToolResultText(hook.PrepareMessage(s.grammar, branch, message)), nil
}

// tracelink_metrics_summary
func (s *Server) metricsSummaryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tracelink_metrics_summary",
		mcp.WithDescription("Summarise recorded pull request history: compliance rate, average time to merge and review, and counts per project."),
		mcp.WithNumber("days", mcp.Description("Look-back window in days (default 30)")),
	)
	return tool, s.handleMetricsSummary
}

func (s *Server) handleMetricsSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := int(request.GetFloat("days", 30))
	if days <= 0 {
		return mcp.NewToolResultError("days must be positive"), nil
	}
	since := s.now().AddDate(0, 0, -days)

	history, err := s.history.ListHistory(ctx, since)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load history: %v", err)), nil
	}
	summary := metrics.Summarize(slices.Values(history))
	summary.PeriodDays = days
	return jsonResult(summary)
}
