package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/tracelink/internal/mcp"
	"github.com/joescharf/tracelink/internal/models"
	"github.com/joescharf/tracelink/internal/store"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for editor and agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio so coding agents
can check issue keys before they branch or commit. Configure with:

  {
    "mcpServers": {
      "tracelink": { "command": "tracelink", "args": ["mcp"] }
    }
  }

Available tools: tracelink_extract_keys, tracelink_validate_branch,
tracelink_validate_commits, tracelink_prepare_message,
tracelink_metrics_summary`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := getConfig()
		if err != nil {
			return err
		}

		var history mcp.HistorySource
		if s, err := getStore(); err == nil {
			history = storeHistory{s}
		}
		return mcp.NewServer(c.Grammar(), history, buildVersion).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// storeHistory exposes the store's merged history to the MCP server.
type storeHistory struct {
	s *store.SQLiteStore
}

func (h storeHistory) ListHistory(ctx context.Context, since time.Time) ([]models.HistoricalEvent, error) {
	return h.s.ListHistory(ctx, store.HistoryFilter{Since: since})
}
