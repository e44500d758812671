package output

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/metrics"
	"github.com/joescharf/tracelink/internal/models"
	"github.com/joescharf/tracelink/internal/reconcile"
	"github.com/joescharf/tracelink/internal/validate"
)

func TestVerdicts(t *testing.T) {
	u, out, _ := newTestUI()
	v := validate.New(issuekey.MustGrammar("SECO"))

	var r validate.Report
	r.Add(v.ValidateBranch("feature/SECO-3-x"))
	r.Add(v.ValidateCommits([]string{"wip"})...)
	require.NoError(t, u.Verdicts(r.Verdicts))

	s := out.String()
	assert.Contains(t, s, "feature/SECO-3-x")
	assert.Contains(t, s, "SECO-3")
	assert.Contains(t, s, "NoKeyFound")
}

func TestEventResult(t *testing.T) {
	u, out, _ := newTestUI()
	k1, _ := issuekey.Parse("SECO-1")
	k2, _ := issuekey.Parse("SECO-2")

	require.NoError(t, u.EventResult(reconcile.EventResult{
		PullRequestID: "7",
		Kind:          models.EventOpened,
		Keys: []reconcile.KeyResult{
			{Key: k1, Link: reconcile.LinkCreated, Transition: reconcile.TransitionApplied, Commented: true, Attempts: 1},
			{Key: k2, Err: errors.New("issue does not exist"), Attempts: 1},
		},
	}))
	s := out.String()
	assert.Contains(t, s, "SECO-1")
	assert.Contains(t, s, "created")
	assert.Contains(t, s, "failed")
	assert.Contains(t, s, "issue does not exist")

	out.Reset()
	require.NoError(t, u.EventResult(reconcile.EventResult{PullRequestID: "8", Kind: models.EventClosed, NoOp: true}))
	assert.Contains(t, out.String(), "nothing to do")
}

func TestMetricsSummaryAndKeys(t *testing.T) {
	u, out, _ := newTestUI()
	require.NoError(t, u.MetricsSummary(metrics.Summary{
		TotalPRs: 4, WithKey: 3, ComplianceRate: 75, PRsByProject: map[string]int{"SECO": 3},
	}))
	assert.Contains(t, out.String(), "75.00%")
	assert.Contains(t, out.String(), "PRs in SECO")

	out.Reset()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, u.KeySummaries([]metrics.KeySummary{
		{Key: "SECO-1", PullRequests: []string{"7"}, OpenedAt: t0, InReviewAt: t0.Add(time.Hour), MergedAt: t0.Add(5 * time.Hour)},
		{Key: "SECO-2"},
	}))
	assert.Contains(t, out.String(), "1h0m0s")
	assert.Contains(t, out.String(), "5h0m0s")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
