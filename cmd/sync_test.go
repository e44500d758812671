package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracelink/internal/config"
	"github.com/joescharf/tracelink/internal/git"
	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/models"
	"github.com/joescharf/tracelink/internal/store"
	"github.com/joescharf/tracelink/internal/tracker"
)

var (
	seco1 = issuekey.Key{Prefix: "SECO", Number: 1}
	seco2 = issuekey.Key{Prefix: "SECO", Number: 2}
)

type fakeGH struct {
	commits []git.Commit
	err     error
	calls   []string
}

func (f *fakeGH) PullRequestCommits(repo, number string) ([]git.Commit, error) {
	f.calls = append(f.calls, repo+"#"+number)
	return f.commits, f.err
}

// syncEnv configures Jira, swaps in an in-memory tracker and stubs out git
// and gh.
func syncEnv(t *testing.T) (*tracker.Memory, *fakeGit, *fakeGH) {
	t.Helper()
	testEnv(t)
	viper.Set("jira.base_url", "https://example.atlassian.net")
	viper.Set("jira.email", "dev@example.com")
	viper.Set("jira.token", "token")

	mem := tracker.NewMemory()
	origAdapter := newAdapter
	newAdapter = func(config.Config) tracker.Adapter { return mem }
	t.Cleanup(func() { newAdapter = origAdapter })

	fg := &fakeGit{err: errors.New("not a git repository")}
	useGit(t, fg)

	gh := &fakeGH{err: errors.New("gh not installed")}
	origGH := ghClient
	ghClient = gh
	t.Cleanup(func() { ghClient = origGH })

	return mem, fg, gh
}

func writeEvent(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func nativeEvent(kind string, msgs ...string) map[string]any {
	return map[string]any{
		"kind":            kind,
		"pull_request_id": "42",
		"branch_name":     "feature/SECO-1-login",
		"commit_messages": msgs,
		"timestamp":       "2026-03-01T10:00:00Z",
		"repository":      "acme/app",
		"base_branch":     "main",
	}
}

func TestSync_OpenedLinksAndMovesToReview(t *testing.T) {
	mem, _, _ := syncEnv(t)
	mem.AddIssue(seco1, models.StateNone)
	mem.AddIssue(seco2, models.StateNone)
	syncEvent = writeEvent(t, nativeEvent("opened", "[SECO-2] add form"))

	require.NoError(t, syncRun(context.Background()))

	assert.Equal(t, models.StateInReview, mem.State(seco1))
	assert.Equal(t, models.StateInReview, mem.State(seco2))
	assert.Equal(t, 1, mem.Links(seco1))
	assert.Contains(t, stdout(), "SECO-1")
	assert.Contains(t, stdout(), "SECO-2")

	s, err := getStore()
	require.NoError(t, err)
	events, err := s.ListEvents(context.Background(), store.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"SECO-1", "SECO-2"}, events[0].Keys)
}

func TestSync_MergedIsDone(t *testing.T) {
	mem, _, _ := syncEnv(t)
	mem.AddIssue(seco1, models.StateInReview)
	syncEvent = writeEvent(t, nativeEvent("merged", "[SECO-1] done"))

	require.NoError(t, syncRun(context.Background()))
	assert.Equal(t, models.StateDone, mem.State(seco1))
}

func TestSync_EventFromEnv(t *testing.T) {
	mem, _, _ := syncEnv(t)
	mem.AddIssue(seco1, models.StateNone)
	t.Setenv("GITHUB_EVENT_PATH", writeEvent(t, nativeEvent("opened", "[SECO-1] x")))

	require.NoError(t, syncRun(context.Background()))
	assert.Equal(t, models.StateInReview, mem.State(seco1))
}

func TestSync_NoEvent(t *testing.T) {
	syncEnv(t)
	t.Setenv("GITHUB_EVENT_PATH", "")

	err := syncRun(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no event")
}

func TestSync_TrackerNotConfigured(t *testing.T) {
	testEnv(t)
	syncEvent = writeEvent(t, nativeEvent("opened"))

	err := syncRun(context.Background())
	assert.ErrorIs(t, err, config.ErrTrackerNotConfigured)
}

func TestSync_FailuresWarnUnlessStrict(t *testing.T) {
	mem, _, _ := syncEnv(t)
	mem.AddIssue(seco1, models.StateNone)
	// SECO-2 does not exist in the tracker.
	syncEvent = writeEvent(t, nativeEvent("opened", "[SECO-2] missing"))

	require.NoError(t, syncRun(context.Background()))
	assert.Contains(t, stderr(), "SECO-2")
	assert.Equal(t, models.StateInReview, mem.State(seco1))

	syncStrict = true
	err := syncRun(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SECO-2")
}

func TestSync_IgnoredGitHubAction(t *testing.T) {
	mem, _, _ := syncEnv(t)
	syncEvent = writeEvent(t, map[string]any{
		"action": "labeled",
		"number": 42,
		"pull_request": map[string]any{
			"number": 42,
			"head":   map[string]any{"ref": "SECO-1-x"},
			"base":   map[string]any{"ref": "main"},
		},
		"repository": map[string]any{"full_name": "acme/app"},
	})

	require.NoError(t, syncRun(context.Background()))
	assert.Contains(t, stdout(), "Nothing to do")
	assert.Zero(t, mem.TotalCalls())
}

func TestSync_CommitsFromGitThenGH(t *testing.T) {
	mem, fg, gh := syncEnv(t)
	mem.AddIssue(seco1, models.StateNone)
	mem.AddIssue(seco2, models.StateNone)
	syncEvent = writeEvent(t, nativeEvent("opened"))

	gh.err = nil
	gh.commits = []git.Commit{{SHA: "abc", Message: "[SECO-2] from gh"}}

	require.NoError(t, syncRun(context.Background()))
	assert.Equal(t, []string{"origin/main..HEAD"}, fg.ranges)
	assert.Equal(t, []string{"acme/app#42"}, gh.calls)
	assert.Equal(t, models.StateInReview, mem.State(seco2))

	fg.err = nil
	fg.commits = []git.Commit{{SHA: "def", Message: "[SECO-2] from git"}}
	require.NoError(t, syncRun(context.Background()))
	assert.Len(t, gh.calls, 1, "git history found, gh not consulted")
}

func TestSync_CommitsFile(t *testing.T) {
	mem, fg, gh := syncEnv(t)
	mem.AddIssue(seco1, models.StateNone)
	mem.AddIssue(seco2, models.StateNone)
	syncEvent = writeEvent(t, nativeEvent("opened"))

	syncCommitsFile = filepath.Join(t.TempDir(), "commits.txt")
	require.NoError(t, os.WriteFile(syncCommitsFile, []byte("[SECO-2] one\n"), 0o644))

	require.NoError(t, syncRun(context.Background()))
	assert.Empty(t, fg.ranges)
	assert.Empty(t, gh.calls)
	assert.Equal(t, models.StateInReview, mem.State(seco2))
}

func TestSync_DryRunWritesNothing(t *testing.T) {
	mem, _, _ := syncEnv(t)
	mem.AddIssue(seco1, models.StateNone)
	dryRun = true
	syncEvent = writeEvent(t, nativeEvent("opened", "[SECO-1] x"))

	require.NoError(t, syncRun(context.Background()))
	assert.Equal(t, models.StateNone, mem.State(seco1))
	assert.Zero(t, mem.Links(seco1))
	assert.Zero(t, mem.Calls(tracker.OpCreateLink))
}

func TestSync_JSON(t *testing.T) {
	mem, _, _ := syncEnv(t)
	mem.AddIssue(seco1, models.StateNone)
	syncJSON = true
	syncNoHistory = true
	syncEvent = writeEvent(t, nativeEvent("opened", "[SECO-1] x"))

	require.NoError(t, syncRun(context.Background()))

	var res struct {
		PullRequestID string `json:"pull_request_id"`
		Keys          []struct {
			Key string `json:"key"`
		} `json:"keys"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout()), &res))
	assert.Equal(t, "42", res.PullRequestID)
	require.Len(t, res.Keys, 1)
	assert.Equal(t, "SECO-1", res.Keys[0].Key)
	assert.Nil(t, dataStore, "history store not opened")
}
