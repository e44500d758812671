package output

import (
	"fmt"
	"strings"

	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/metrics"
	"github.com/joescharf/tracelink/internal/reconcile"
	"github.com/joescharf/tracelink/internal/validate"
)

// Verdicts renders gate verdicts as a table.
func (u *UI) Verdicts(verdicts []validate.Verdict) error {
	table := u.Table([]string{"KIND", "SUBJECT", "KEYS", "RESULT"})
	for _, v := range verdicts {
		keys := strings.Join(issuekey.Strings(v.KeysFound), ", ")
		if keys == "" {
			keys = "-"
		}
		if err := table.Append([]string{string(v.SubjectKind), truncate(v.SubjectID, 60), keys, ReasonColor(string(v.Reason))}); err != nil {
			return err
		}
	}
	return table.Render()
}

// EventResult renders per-key reconciliation outcomes.
func (u *UI) EventResult(res reconcile.EventResult) error {
	if res.NoOp {
		u.Info("PR %s (%s): no issue keys referenced, nothing to do", res.PullRequestID, res.Kind)
		return nil
	}
	table := u.Table([]string{"KEY", "LINK", "TRANSITION", "COMMENT", "ATTEMPTS", "ERROR"})
	for _, k := range res.Keys {
		link, transition := string(k.Link), string(k.Transition)
		if k.Failed() {
			if link == "" {
				link = "failed"
			}
			if transition == "" {
				transition = "failed"
			}
		}
		comment := "-"
		if k.Commented {
			comment = "yes"
		}
		errMsg := "-"
		if k.Err != nil {
			errMsg = truncate(k.Err.Error(), 80)
		}
		if err := table.Append([]string{
			k.Key.String(), OutcomeColor(dashIfEmpty(link)), OutcomeColor(dashIfEmpty(transition)),
			comment, fmt.Sprintf("%d", k.Attempts), errMsg,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// MetricsSummary renders the repository summary.
func (u *UI) MetricsSummary(s metrics.Summary) error {
	table := u.Table([]string{"METRIC", "VALUE"})
	rows := [][]string{
		{"Total PRs", fmt.Sprintf("%d", s.TotalPRs)},
		{"Merged", fmt.Sprintf("%d", s.MergedPRs)},
		{"Open", fmt.Sprintf("%d", s.OpenPRs)},
		{"Closed without merge", fmt.Sprintf("%d", s.ClosedWithoutMerge)},
		{"With issue key", fmt.Sprintf("%d", s.WithKey)},
		{"Without issue key", fmt.Sprintf("%d", s.WithoutKey)},
		{"Compliance rate", ComplianceColor(s.ComplianceRate)},
		{"Avg time to merge", fmt.Sprintf("%.2fh", s.AvgTimeToMergeHours)},
		{"Avg time to review", fmt.Sprintf("%.2fh", s.AvgReviewTimeHours)},
	}
	for _, p := range metrics.SortedKeys(s.PRsByProject) {
		rows = append(rows, []string{"PRs in " + p, fmt.Sprintf("%d", s.PRsByProject[p])})
	}
	for _, r := range rows {
		if err := table.Append(r); err != nil {
			return err
		}
	}
	return table.Render()
}

// KeySummaries renders per-issue latencies.
func (u *UI) KeySummaries(keys []metrics.KeySummary) error {
	table := u.Table([]string{"KEY", "PRS", "REVIEW", "LEAD TIME"})
	for _, k := range keys {
		review, lead := "-", "-"
		if d, ok := k.ReviewLatency(); ok {
			review = d.String()
		}
		if d, ok := k.LeadTime(); ok {
			lead = d.String()
		}
		if err := table.Append([]string{k.Key, strings.Join(k.PullRequests, ", "), review, lead}); err != nil {
			return err
		}
	}
	return table.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
