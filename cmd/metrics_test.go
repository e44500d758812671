package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracelink/internal/models"
	"github.com/joescharf/tracelink/internal/store"
)

// metricsEnv records two pull requests: #1 opened and merged with SECO-1,
// #2 opened without a key.
func metricsEnv(t *testing.T) {
	t.Helper()
	testEnv(t)

	orig := metricsNow
	metricsNow = func() time.Time { return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { metricsNow = orig })

	opened := nativeEvent("opened", "[SECO-1] add login")
	opened["pull_request_id"] = "1"
	merged := nativeEvent("merged", "[SECO-1] add login")
	merged["pull_request_id"] = "1"
	merged["timestamp"] = "2026-03-03T10:00:00Z"
	other := map[string]any{
		"kind":            "opened",
		"pull_request_id": "2",
		"branch_name":     "chore/deps",
		"timestamp":       "2026-03-02T10:00:00Z",
		"repository":      "acme/app",
	}
	recordEvents = []string{writeEvent(t, opened), writeEvent(t, merged), writeEvent(t, other)}
	require.NoError(t, recordRun(context.Background()))
	recordEvents = nil
}

func TestMetricsRecord_StoresWithoutTracker(t *testing.T) {
	metricsEnv(t)
	assert.Contains(t, stdout(), "Recorded 3 event(s)")

	s, err := getStore()
	require.NoError(t, err)
	events, err := s.ListEvents(context.Background(), store.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, models.EventOpened, events[0].Kind)
	assert.Equal(t, []string{"SECO-1"}, events[0].Keys)
	assert.Empty(t, events[1].Keys)
}

func TestMetricsRecord_NoEvents(t *testing.T) {
	testEnv(t)
	err := recordRun(context.Background())
	require.Error(t, err)
}

func TestMetricsRecord_DryRun(t *testing.T) {
	testEnv(t)
	dryRun = true
	recordEvents = []string{writeEvent(t, nativeEvent("opened"))}

	require.NoError(t, recordRun(context.Background()))
	assert.Contains(t, stdout(), "Recorded 0 event(s)")
}

func TestBuildMetricsReport(t *testing.T) {
	metricsEnv(t)

	r, err := buildMetricsReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, r.Summary.PeriodDays)
	assert.Equal(t, 2, r.Summary.TotalPRs)
	assert.Equal(t, 1, r.Summary.MergedPRs)
	assert.Equal(t, 50.0, r.Summary.ComplianceRate)
	assert.Equal(t, 48.0, r.Summary.AvgTimeToMergeHours)
	require.Len(t, r.Keys, 1)
	assert.Equal(t, "SECO-1", r.Keys[0].Key)
}

func TestBuildMetricsReport_WindowAndRepo(t *testing.T) {
	metricsEnv(t)

	metricsDays = 1
	r, err := buildMetricsReport(context.Background())
	require.NoError(t, err)
	assert.Zero(t, r.Summary.TotalPRs)

	metricsDays = 0
	metricsRepo = "acme/other"
	r, err = buildMetricsReport(context.Background())
	require.NoError(t, err)
	assert.Zero(t, r.Summary.TotalPRs)
	assert.Equal(t, "acme/other", r.Summary.Repository)
}

func TestMetricsReport_Table(t *testing.T) {
	metricsEnv(t)
	metricsKeys = true

	require.NoError(t, metricsReportRun(context.Background()))
	out := stdout()
	assert.Contains(t, out, "Compliance rate")
	assert.Contains(t, out, "50.00%")
	assert.Contains(t, out, "SECO-1")
}

func TestMetricsReport_Empty(t *testing.T) {
	testEnv(t)
	require.NoError(t, metricsReportRun(context.Background()))
	assert.Contains(t, stdout(), "No pull requests recorded")
}

func TestMetricsExport_JSON(t *testing.T) {
	metricsEnv(t)

	ui.Out.(*bytes.Buffer).Reset()

	require.NoError(t, metricsExportRun(context.Background()))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout()), &decoded))
	summary := decoded["summary"].(map[string]any)
	assert.Equal(t, 50.0, summary["jira_compliance_rate"])
}

func TestMetricsExport_CSVToFile(t *testing.T) {
	metricsEnv(t)
	metricsFormat = "csv"
	metricsType = "prs"
	metricsOutput = filepath.Join(t.TempDir(), "prs.csv")

	require.NoError(t, metricsExportRun(context.Background()))

	f, err := os.Open(metricsOutput)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, "1", rows[1][0])
}

func TestMetricsExport_UnknownCSVType(t *testing.T) {
	metricsEnv(t)
	metricsFormat = "csv"
	metricsType = "sessions"

	err := metricsExportRun(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown csv type")
}
