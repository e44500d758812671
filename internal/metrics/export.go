package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Formats accepted by Export.
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
)

// Report bundles everything the export command writes.
type Report struct {
	Summary      Summary      `json:"summary"`
	Keys         []KeySummary `json:"keys"`
	PullRequests []PRSummary  `json:"pull_requests"`
}

// Export writes r in the requested format.
func Export(w io.Writer, r Report, format string) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatCSV:
		return WriteKeysCSV(w, r.Keys)
	case FormatMarkdown:
		return WriteMarkdown(w, r)
	default:
		return fmt.Errorf("unknown format: %s (use: json, csv, markdown)", format)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteKeysCSV writes one row per issue with its milestones and latencies.
func WriteKeysCSV(w io.Writer, keys []KeySummary) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"key", "pull_requests", "opened_at", "in_review_at", "merged_at", "review_latency_hours", "lead_time_hours"})
	for _, k := range keys {
		review, rok := k.ReviewLatency()
		lead, lok := k.LeadTime()
		_ = cw.Write([]string{
			k.Key,
			strings.Join(k.PullRequests, " "),
			formatTime(k.OpenedAt),
			formatTime(k.InReviewAt),
			formatTime(k.MergedAt),
			formatHours(review.Hours(), rok),
			formatHours(lead.Hours(), lok),
		})
	}
	cw.Flush()
	return cw.Error()
}

// WritePullRequestsCSV writes one row per pull request.
func WritePullRequestsCSV(w io.Writer, prs []PRSummary) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"pull_request", "repository", "jira_keys", "state", "created_at", "merged_at", "lead_time_hours"})
	for _, p := range prs {
		h, ok := p.LeadTimeHours()
		_ = cw.Write([]string{
			p.PullRequestID,
			p.Repository,
			strings.Join(p.Keys, " "),
			string(p.State),
			formatTime(p.CreatedAt),
			formatTime(p.MergedAt),
			formatHours(h, ok),
		})
	}
	cw.Flush()
	return cw.Error()
}

// WriteProjectsCSV writes the per-project pull request counts.
func WriteProjectsCSV(w io.Writer, s Summary) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"Project", "PR Count"})
	for _, p := range SortedKeys(s.PRsByProject) {
		_ = cw.Write([]string{p, strconv.Itoa(s.PRsByProject[p])})
	}
	cw.Flush()
	return cw.Error()
}

// WriteMarkdown renders the report as a Markdown document.
func WriteMarkdown(w io.Writer, r Report) error {
	s := r.Summary
	fmt.Fprintln(w, "# Traceability Report")
	fmt.Fprintln(w)
	if s.Repository != "" {
		fmt.Fprintf(w, "Repository: %s\n\n", s.Repository)
	}
	fmt.Fprintln(w, "| Metric | Value |")
	fmt.Fprintln(w, "|--------|-------|")
	fmt.Fprintf(w, "| Total PRs | %d |\n", s.TotalPRs)
	fmt.Fprintf(w, "| Merged | %d |\n", s.MergedPRs)
	fmt.Fprintf(w, "| Open | %d |\n", s.OpenPRs)
	fmt.Fprintf(w, "| Closed without merge | %d |\n", s.ClosedWithoutMerge)
	fmt.Fprintf(w, "| With issue key | %d |\n", s.WithKey)
	fmt.Fprintf(w, "| Without issue key | %d |\n", s.WithoutKey)
	fmt.Fprintf(w, "| Compliance rate | %.2f%% |\n", s.ComplianceRate)
	fmt.Fprintf(w, "| Avg time to merge (h) | %.2f |\n", s.AvgTimeToMergeHours)
	fmt.Fprintf(w, "| Avg review latency (h) | %.2f |\n", s.AvgReviewTimeHours)

	if len(s.PRsByProject) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "## PRs by project")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Project | PRs |")
		fmt.Fprintln(w, "|---------|-----|")
		for _, p := range SortedKeys(s.PRsByProject) {
			fmt.Fprintf(w, "| %s | %d |\n", p, s.PRsByProject[p])
		}
	}

	if len(s.MonthlyTrend) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "## Monthly trend")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Month | PRs |")
		fmt.Fprintln(w, "|-------|-----|")
		for _, m := range SortedKeys(s.MonthlyTrend) {
			fmt.Fprintf(w, "| %s | %d |\n", m, s.MonthlyTrend[m])
		}
	}

	if len(r.Keys) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "## Issues")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Key | PRs | Review latency (h) | Lead time (h) |")
		fmt.Fprintln(w, "|-----|-----|--------------------|---------------|")
		for _, k := range r.Keys {
			review, rok := k.ReviewLatency()
			lead, lok := k.LeadTime()
			fmt.Fprintf(w, "| %s | %s | %s | %s |\n", k.Key, strings.Join(k.PullRequests, ", "),
				dash(formatHours(review.Hours(), rok)), dash(formatHours(lead.Hours(), lok)))
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatHours(h float64, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.FormatFloat(h, 'f', 2, 64)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
