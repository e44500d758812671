package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracelink/internal/config"
	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/models"
	"github.com/joescharf/tracelink/internal/tracker"
)

var (
	seco1 = issuekey.Key{Prefix: "SECO", Number: 1}
	seco2 = issuekey.Key{Prefix: "SECO", Number: 2}
)

func testSettings() Settings {
	s := DefaultSettings()
	s.Retry.InitialInterval = time.Millisecond
	s.Retry.MaxInterval = 5 * time.Millisecond
	return s
}

func newTestReconciler(t *testing.T, mem *tracker.Memory, s Settings, opts ...Option) *Reconciler {
	t.Helper()
	return New(issuekey.MustGrammar("SECO", "OPS"), mem, s, opts...)
}

func openedEvent() models.LifecycleEvent {
	return models.LifecycleEvent{
		Kind:           models.EventOpened,
		PullRequestID:  "7",
		Repository:     "acme/api",
		BranchName:     "feature/SECO-1-login",
		CommitMessages: []string{"[SECO-1] add login form"},
		URL:            "https://github.com/acme/api/pull/7",
		Timestamp:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestReconcile_DuplicateOpenedIsIdempotent(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateNone)
	r := newTestReconciler(t, mem, testSettings())
	ctx := context.Background()

	first, err := r.Reconcile(ctx, openedEvent())
	require.NoError(t, err)
	require.Len(t, first.Keys, 1)
	assert.Equal(t, LinkCreated, first.Keys[0].Link)
	assert.Equal(t, TransitionApplied, first.Keys[0].Transition)
	assert.True(t, first.Keys[0].Commented)

	second, err := r.Reconcile(ctx, openedEvent())
	require.NoError(t, err)
	require.Len(t, second.Keys, 1)
	assert.Equal(t, LinkExisting, second.Keys[0].Link)
	assert.Equal(t, TransitionSkippedNotNeeded, second.Keys[0].Transition)
	assert.False(t, second.Keys[0].Commented)

	assert.Equal(t, 1, mem.Links(seco1))
	assert.Equal(t, models.StateInReview, mem.State(seco1))
	assert.Equal(t, 1, mem.Calls(tracker.OpTransition))
	assert.Equal(t, []string{"Linked PR: https://github.com/acme/api/pull/7"}, mem.Comments(seco1))
}

func TestReconcile_MergedAfterInReviewIsDone(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateNone)
	r := newTestReconciler(t, mem, testSettings())
	ctx := context.Background()

	_, err := r.Reconcile(ctx, openedEvent())
	require.NoError(t, err)

	merged := openedEvent()
	merged.Kind = models.EventMerged
	res, err := r.Reconcile(ctx, merged)
	require.NoError(t, err)
	require.Len(t, res.Keys, 1)
	assert.Equal(t, TransitionApplied, res.Keys[0].Transition)
	assert.Equal(t, models.StateDone, mem.State(seco1))
	assert.Contains(t, mem.Comments(seco1), "PR merged: https://github.com/acme/api/pull/7")
}

func TestReconcile_StaleOpenedNeverRegresses(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateDone)
	r := newTestReconciler(t, mem, testSettings())

	res, err := r.Reconcile(context.Background(), openedEvent())
	require.NoError(t, err)
	require.Len(t, res.Keys, 1)
	assert.Equal(t, TransitionSkippedNotNeeded, res.Keys[0].Transition)
	assert.Equal(t, models.StateDone, mem.State(seco1))
	assert.Equal(t, 0, mem.Calls(tracker.OpTransition))
}

func TestReconcile_ZeroKeysIsNoOp(t *testing.T) {
	mem := tracker.NewMemory()
	r := newTestReconciler(t, mem, testSettings())

	ev := openedEvent()
	ev.BranchName = "feature/login"
	ev.CommitMessages = []string{"add login form", "mention XSECO-1 only"}

	res, err := r.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Empty(t, res.Keys)
	assert.Equal(t, 0, mem.TotalCalls())
}

func TestReconcile_ClosedLinksWithoutTransition(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateInReview)
	r := newTestReconciler(t, mem, testSettings())

	ev := openedEvent()
	ev.Kind = models.EventClosed
	res, err := r.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, res.Keys, 1)
	assert.Equal(t, LinkCreated, res.Keys[0].Link)
	assert.Equal(t, TransitionNone, res.Keys[0].Transition)
	assert.Equal(t, models.StateInReview, mem.State(seco1))
	assert.Equal(t, []string{"PR closed without merge: https://github.com/acme/api/pull/7"}, mem.Comments(seco1))
}

func TestReconcile_UnconfiguredTransitionSkipped(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateNone)
	s := testSettings()
	delete(s.Transitions, models.StateInReview)
	r := newTestReconciler(t, mem, s)

	res, err := r.Reconcile(context.Background(), openedEvent())
	require.NoError(t, err)
	assert.Equal(t, TransitionSkippedUnconfigured, res.Keys[0].Transition)
	assert.Equal(t, 0, mem.Calls(tracker.OpTransition))
	assert.True(t, res.OK())
}

func TestReconcile_NotAvailableIsSkippedNotFailure(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateNone)
	mem.Unavailable[models.StateInReview] = true
	r := newTestReconciler(t, mem, testSettings())

	res, err := r.Reconcile(context.Background(), openedEvent())
	require.NoError(t, err)
	assert.Equal(t, TransitionSkippedNotAvailable, res.Keys[0].Transition)
	assert.True(t, res.OK())
}

func TestReconcile_TransientErrorsRetried(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateNone)
	boom := tracker.NewTransient(tracker.OpGetLinkage, "SECO-1", &tracker.APIError{StatusCode: 503})
	mem.FailNext(tracker.OpGetLinkage, boom, boom)
	r := newTestReconciler(t, mem, testSettings())

	res, err := r.Reconcile(context.Background(), openedEvent())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, 3, mem.Calls(tracker.OpGetLinkage))
	assert.Equal(t, LinkCreated, res.Keys[0].Link)
	assert.Equal(t, models.StateInReview, mem.State(seco1))
}

func TestReconcile_TransientErrorsExhausted(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateNone)
	boom := tracker.NewTransient(tracker.OpCreateLink, "SECO-1", &tracker.APIError{StatusCode: 429})
	mem.FailNext(tracker.OpCreateLink, boom, boom, boom, boom, boom, boom)
	s := testSettings()
	s.Retry.MaxAttempts = 3
	r := newTestReconciler(t, mem, s)

	res, err := r.Reconcile(context.Background(), openedEvent())
	require.NoError(t, err)
	require.Len(t, res.Failures(), 1)
	kr := res.Keys[0]
	assert.False(t, kr.Permanent)
	assert.Equal(t, 3, mem.Calls(tracker.OpCreateLink))
	assert.Equal(t, 4, kr.Attempts, "one read plus three link attempts")
	assert.Equal(t, 0, mem.Calls(tracker.OpTransition))
}

// stallingAdapter blocks the first GetLinkage until its context expires.
type stallingAdapter struct {
	*tracker.Memory
	mu      sync.Mutex
	stalled bool
}

func (a *stallingAdapter) GetLinkage(ctx context.Context, key issuekey.Key, link models.PullRequestLink) (models.LinkageRecord, error) {
	a.mu.Lock()
	first := !a.stalled
	a.stalled = true
	a.mu.Unlock()
	if first {
		<-ctx.Done()
		return models.LinkageRecord{}, ctx.Err()
	}
	return a.Memory.GetLinkage(ctx, key, link)
}

func TestReconcile_CallTimeoutIsRetried(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateNone)
	s := testSettings()
	s.CallTimeout = 50 * time.Millisecond
	r := New(issuekey.MustGrammar("SECO"), &stallingAdapter{Memory: mem}, s)

	start := time.Now()
	res, err := r.Reconcile(context.Background(), openedEvent())
	require.NoError(t, err)
	require.True(t, res.OK(), "timed-out read must be retried, got %+v", res.Keys)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 1, mem.Calls(tracker.OpGetLinkage), "second attempt reaches the tracker")
	assert.Equal(t, LinkCreated, res.Keys[0].Link)
	assert.Equal(t, models.StateInReview, mem.State(seco1))
}

func TestReconcile_HonoursRetryAfter(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateNone)
	limited := tracker.NewTransient(tracker.OpTransition, "SECO-1",
		&tracker.APIError{StatusCode: 429, RetryAfter: 80 * time.Millisecond})
	mem.FailNext(tracker.OpTransition, limited)
	r := newTestReconciler(t, mem, testSettings())

	start := time.Now()
	res, err := r.Reconcile(context.Background(), openedEvent())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 2, mem.Calls(tracker.OpTransition))
	assert.Equal(t, models.StateInReview, mem.State(seco1))
}

func TestReconcile_PermanentErrorIsolatedPerKey(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco2, models.StateNone)
	r := newTestReconciler(t, mem, testSettings())

	ev := openedEvent()
	ev.BranchName = "feature/SECO-1-and-SECO-2"
	res, err := r.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, res.Keys, 2)

	assert.Equal(t, seco1, res.Keys[0].Key)
	assert.True(t, res.Keys[0].Failed())
	assert.True(t, res.Keys[0].Permanent)
	assert.True(t, errors.Is(res.Keys[0].Err, tracker.ErrNotFound))
	assert.Equal(t, 1, res.Keys[0].Attempts)

	assert.Equal(t, seco2, res.Keys[1].Key)
	assert.False(t, res.Keys[1].Failed())
	assert.Equal(t, models.StateInReview, mem.State(seco2))
	assert.False(t, res.OK())
}

func TestReconcile_CommentFailureIsBestEffort(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateNone)
	mem.FailNext(tracker.OpAddComment, tracker.NewPermanent(tracker.OpAddComment, "SECO-1", tracker.ErrPermissionDenied))
	r := newTestReconciler(t, mem, testSettings())

	res, err := r.Reconcile(context.Background(), openedEvent())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.False(t, res.Keys[0].Commented)
}

func TestReconcile_CommentsDisabled(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateNone)
	s := testSettings()
	s.Comments = false
	r := newTestReconciler(t, mem, s)

	_, err := r.Reconcile(context.Background(), openedEvent())
	require.NoError(t, err)
	assert.Equal(t, 0, mem.Calls(tracker.OpAddComment))
}

func TestReconcile_InvalidEvent(t *testing.T) {
	r := newTestReconciler(t, tracker.NewMemory(), testSettings())
	_, err := r.Reconcile(context.Background(), models.LifecycleEvent{Kind: models.EventOpened})
	require.Error(t, err)
}

func TestKeys_OrderAndPolicy(t *testing.T) {
	ev := models.LifecycleEvent{
		BranchName:     "SECO-3-work",
		CommitMessages: []string{"[OPS-1] infra", "[SECO-3] again", "[SECO-2] other"},
		Title:          "OPS-9 title key",
	}

	r := newTestReconciler(t, tracker.NewMemory(), testSettings())
	assert.Equal(t, []string{"SECO-3", "OPS-1", "SECO-2"}, issuekey.Strings(r.Keys(ev)))

	s := testSettings()
	s.IncludeTitle = true
	r = newTestReconciler(t, tracker.NewMemory(), s)
	assert.Equal(t, []string{"SECO-3", "OPS-1", "SECO-2", "OPS-9"}, issuekey.Strings(r.Keys(ev)))

	s.KeyPolicy = config.KeyPolicyFirst
	r = newTestReconciler(t, tracker.NewMemory(), s)
	assert.Equal(t, []string{"SECO-3"}, issuekey.Strings(r.Keys(ev)))
}

func TestReconcile_ConcurrentEventsSameKey(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateNone)
	r := newTestReconciler(t, mem, testSettings())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Reconcile(context.Background(), openedEvent())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, mem.Links(seco1))
	assert.Equal(t, 1, mem.Calls(tracker.OpTransition))
	assert.Len(t, mem.Comments(seco1), 1)
	assert.Equal(t, 0, r.locks.size())
}

type fakeRecorder struct {
	mu          sync.Mutex
	events      []models.EventRecord
	transitions []models.TransitionRecord
}

func (f *fakeRecorder) RecordEvent(_ context.Context, rec models.EventRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, rec)
	return nil
}

func (f *fakeRecorder) RecordTransition(_ context.Context, rec models.TransitionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, rec)
	return nil
}

func TestReconcile_RecordsHistory(t *testing.T) {
	mem := tracker.NewMemory()
	mem.AddIssue(seco1, models.StateNone)
	rec := &fakeRecorder{}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := newTestReconciler(t, mem, testSettings(), WithRecorder(rec), WithClock(func() time.Time { return now }))

	_, err := r.Reconcile(context.Background(), openedEvent())
	require.NoError(t, err)

	noKey := openedEvent()
	noKey.PullRequestID = "8"
	noKey.BranchName = "main"
	noKey.CommitMessages = nil
	_, err = r.Reconcile(context.Background(), noKey)
	require.NoError(t, err)

	require.Len(t, rec.events, 2)
	assert.Equal(t, []string{"SECO-1"}, rec.events[0].Keys)
	assert.Equal(t, openedEvent().Timestamp, rec.events[0].Timestamp)
	assert.Empty(t, rec.events[1].Keys)

	require.Len(t, rec.transitions, 1)
	assert.Equal(t, "SECO-1", rec.transitions[0].IssueKey)
	assert.Equal(t, models.StateInReview, rec.transitions[0].State)
	assert.Equal(t, now, rec.transitions[0].At)
	assert.Equal(t, "acme/api", rec.transitions[0].Repository)
}

func TestSettingsFrom(t *testing.T) {
	s := SettingsFrom(config.Config{
		Jira:      config.JiraConfig{TransitionDone: "Done"},
		Reconcile: config.ReconcileConfig{KeyPolicy: config.KeyPolicyFirst, Concurrency: 2},
	})
	assert.Equal(t, config.KeyPolicyFirst, s.KeyPolicy)
	assert.Equal(t, 2, s.Concurrency)
	assert.True(t, s.Transitions[models.StateDone])
	assert.False(t, s.Transitions[models.StateInReview])
}

func TestKeyedMutex_Serialises(t *testing.T) {
	km := newKeyedMutex()
	unlock := km.Lock("SECO-1")

	acquired := make(chan struct{})
	go func() {
		u := km.Lock("SECO-1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first held")
	case <-time.After(20 * time.Millisecond):
	}

	other := km.Lock("SECO-2")
	other()

	unlock()
	<-acquired
	assert.Eventually(t, func() bool { return km.size() == 0 }, time.Second, time.Millisecond)
}
