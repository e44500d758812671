package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/tracelink/internal/githubevent"
	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/metrics"
	"github.com/joescharf/tracelink/internal/models"
	"github.com/joescharf/tracelink/internal/reconcile"
	"github.com/joescharf/tracelink/internal/store"
)

var (
	metricsDays   int
	metricsRepo   string
	metricsKeys   bool
	metricsFormat string
	metricsType   string
	metricsOutput string
	recordEvents  []string
)

var metricsNow = time.Now

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Traceability metrics from recorded history",
	Long: `Report how well pull requests reference issues, and how long issues
take to reach review and merge, from the history recorded by sync and
serve.`,
}

var metricsReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the traceability summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return metricsReportRun(cmd.Context())
	},
}

var metricsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export metrics as JSON, CSV, or Markdown",
	Long: `Export the traceability report. CSV output covers one table, chosen
with --type: keys (default), prs or projects.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return metricsExportRun(cmd.Context())
	},
}

var metricsRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record events in the history without touching Jira",
	Long: `Backfill the local history from event files (GitHub pull_request
payloads or tracelink JSON events). Keys are extracted but no tracker
calls are made.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return recordRun(cmd.Context())
	},
}

func init() {
	for _, c := range []*cobra.Command{metricsReportCmd, metricsExportCmd} {
		c.Flags().IntVar(&metricsDays, "days", 0, "Days of history to include (default metrics.days_back)")
		c.Flags().StringVar(&metricsRepo, "repo", "", "Only include events for this repository (owner/name)")
	}
	metricsReportCmd.Flags().BoolVar(&metricsKeys, "keys", false, "Also list per-issue timings")
	metricsExportCmd.Flags().StringVar(&metricsFormat, "format", metrics.FormatJSON, "Output format: json, csv, markdown")
	metricsExportCmd.Flags().StringVar(&metricsType, "type", "keys", "CSV table: keys, prs, projects")
	metricsExportCmd.Flags().StringVarP(&metricsOutput, "output", "o", "", "Write to file instead of stdout")
	metricsRecordCmd.Flags().StringArrayVar(&recordEvents, "event", nil, "Event file to record (repeatable)")

	metricsCmd.AddCommand(metricsReportCmd)
	metricsCmd.AddCommand(metricsExportCmd)
	metricsCmd.AddCommand(metricsRecordCmd)
	rootCmd.AddCommand(metricsCmd)
}

func buildMetricsReport(ctx context.Context) (metrics.Report, error) {
	c, err := getConfig()
	if err != nil {
		return metrics.Report{}, err
	}
	s, err := getStore()
	if err != nil {
		return metrics.Report{}, err
	}
	days := c.DaysBack
	if metricsDays > 0 {
		days = metricsDays
	}

	now := metricsNow()
	filter := store.HistoryFilter{Repository: metricsRepo}
	if days > 0 {
		filter.Since = now.AddDate(0, 0, -days)
	}
	history, err := s.ListHistory(ctx, filter)
	if err != nil {
		return metrics.Report{}, err
	}

	events := slices.Values(history)
	summary := metrics.Summarize(events)
	summary.Repository = metricsRepo
	summary.GeneratedAt = now.UTC()
	summary.PeriodDays = days
	return metrics.Report{
		Summary:      summary,
		Keys:         slices.Collect(metrics.Aggregate(events)),
		PullRequests: metrics.PullRequests(events),
	}, nil
}

func metricsReportRun(ctx context.Context) error {
	r, err := buildMetricsReport(ctx)
	if err != nil {
		return err
	}
	if r.Summary.TotalPRs == 0 {
		ui.Info("No pull requests recorded in the last %d days", r.Summary.PeriodDays)
		return nil
	}
	if err := ui.MetricsSummary(r.Summary); err != nil {
		return err
	}
	if metricsKeys {
		fmt.Fprintln(ui.Out)
		return ui.KeySummaries(r.Keys)
	}
	return nil
}

func metricsExportRun(ctx context.Context) error {
	r, err := buildMetricsReport(ctx)
	if err != nil {
		return err
	}

	w := ui.Out
	if metricsOutput != "" && metricsOutput != "-" {
		f, err := os.Create(metricsOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := exportMetrics(w, r); err != nil {
		return err
	}
	if w != ui.Out {
		ui.Success("Wrote %s report to %s", metricsFormat, metricsOutput)
	}
	return nil
}

func exportMetrics(w io.Writer, r metrics.Report) error {
	if metricsFormat != metrics.FormatCSV {
		return metrics.Export(w, r, metricsFormat)
	}
	switch metricsType {
	case "keys":
		return metrics.WriteKeysCSV(w, r.Keys)
	case "prs":
		return metrics.WritePullRequestsCSV(w, r.PullRequests)
	case "projects":
		return metrics.WriteProjectsCSV(w, r.Summary)
	default:
		return fmt.Errorf("unknown csv type: %s (use: keys, prs, projects)", metricsType)
	}
}

func recordRun(ctx context.Context) error {
	if len(recordEvents) == 0 {
		return errors.New("no events: pass --event")
	}
	c, err := getConfig()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	keysOf := reconcile.New(c.Grammar(), nil, reconcile.SettingsFrom(c)).Keys

	recorded := 0
	for _, path := range recordEvents {
		ev, _, err := githubevent.ReadFile(path)
		if errors.Is(err, githubevent.ErrIgnoredAction) {
			ui.VerboseLog("Skipping %s: %v", path, err)
			continue
		}
		if err != nil {
			return err
		}
		rec := models.EventRecord{
			Kind:          ev.Kind,
			PullRequestID: ev.PullRequestID,
			Repository:    ev.Repository,
			BranchName:    ev.BranchName,
			Title:         ev.Title,
			Keys:          issuekey.Strings(keysOf(ev)),
			Timestamp:     ev.Timestamp,
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = metricsNow()
		}
		if dryRun {
			ui.DryRunMsg("Would record %s event for PR %s (%d keys)", rec.Kind, rec.PullRequestID, len(rec.Keys))
			continue
		}
		if err := s.RecordEvent(ctx, rec); err != nil {
			return err
		}
		recorded++
	}
	ui.Success("Recorded %d event(s)", recorded)
	return nil
}
