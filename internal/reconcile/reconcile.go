// Package reconcile drives the tracker toward the state implied by a pull
// request lifecycle event.
//
// Every decision is taken from a fresh GetLinkage read, and every write is
// idempotent, so replaying an event (webhook redelivery, CI re-run) converges
// on the same tracker state without duplicate links or regressed issues.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/tracelink/internal/config"
	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/logging"
	"github.com/joescharf/tracelink/internal/models"
	"github.com/joescharf/tracelink/internal/telemetry"
	"github.com/joescharf/tracelink/internal/tracker"
)

const scopeName = "github.com/joescharf/tracelink/reconcile"

// Recorder receives the event history used by the metrics aggregator.
// Recording failures are logged and never fail reconciliation.
type Recorder interface {
	RecordEvent(ctx context.Context, rec models.EventRecord) error
	RecordTransition(ctx context.Context, rec models.TransitionRecord) error
}

// Settings controls reconciliation behaviour.
type Settings struct {
	KeyPolicy    string
	IncludeTitle bool
	Comments     bool
	Concurrency  int
	CallTimeout  time.Duration
	Retry        config.RetryConfig

	// Transitions lists the target states that have a tracker transition
	// configured. Targets missing here are skipped silently.
	Transitions map[models.TransitionState]bool
}

// SettingsFrom derives Settings from the loaded configuration.
func SettingsFrom(cfg config.Config) Settings {
	s := Settings{
		KeyPolicy:    cfg.Reconcile.KeyPolicy,
		IncludeTitle: cfg.Reconcile.IncludeTitle,
		Comments:     cfg.Reconcile.Comments,
		Concurrency:  cfg.Reconcile.Concurrency,
		CallTimeout:  cfg.Reconcile.CallTimeout,
		Retry:        cfg.Reconcile.Retry,
		Transitions:  make(map[models.TransitionState]bool),
	}
	for _, st := range []models.TransitionState{models.StateInReview, models.StateDone} {
		if _, ok := cfg.Jira.Transition(st); ok {
			s.Transitions[st] = true
		}
	}
	return s
}

// DefaultSettings mirrors the configuration defaults with both transitions
// configured.
func DefaultSettings() Settings {
	return Settings{
		KeyPolicy:   config.KeyPolicyAll,
		Comments:    true,
		Concurrency: 4,
		CallTimeout: 20 * time.Second,
		Retry: config.RetryConfig{
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2,
			MaxAttempts:     5,
		},
		Transitions: map[models.TransitionState]bool{
			models.StateInReview: true,
			models.StateDone:     true,
		},
	}
}

// Reconciler applies lifecycle events to a tracker. It is safe for
// concurrent use; work on the same issue key is serialised.
type Reconciler struct {
	grammar  *issuekey.Grammar
	adapter  tracker.Adapter
	settings Settings
	logger   *logging.Logger
	recorder Recorder
	now      func() time.Time
	locks    *keyedMutex

	tracer trace.Tracer
	ops    metric.Int64Counter
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithRecorder appends events and applied transitions to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) { r.recorder = rec }
}

// WithClock overrides time.Now for recorded history.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler.
func New(g *issuekey.Grammar, adapter tracker.Adapter, s Settings, opts ...Option) *Reconciler {
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
	if s.Retry.MaxAttempts < 1 {
		s.Retry.MaxAttempts = 1
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 20 * time.Second
	}
	r := &Reconciler{
		grammar:  g,
		adapter:  adapter,
		settings: s,
		logger:   logging.Discard(),
		now:      time.Now,
		locks:    newKeyedMutex(),
		tracer:   telemetry.Tracer(scopeName),
	}
	for _, o := range opts {
		o(r)
	}
	r.ops, _ = telemetry.Meter(scopeName).Int64Counter("tracelink.reconcile.operations",
		metric.WithDescription("Tracker operations issued by the reconciler, by outcome"),
	)
	return r
}

// Keys returns the issue keys an event refers to: the branch name first,
// then each commit message, then (optionally) the title, deduplicated in
// order. With the "first" policy only the first key is kept.
func (r *Reconciler) Keys(ev models.LifecycleEvent) []issuekey.Key {
	var keys []issuekey.Key
	seen := make(map[issuekey.Key]bool)
	add := func(text string) {
		for _, k := range r.grammar.Extract(text) {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	add(ev.BranchName)
	for _, msg := range ev.CommitMessages {
		add(msg)
	}
	if r.settings.IncludeTitle {
		add(ev.Title)
	}
	if r.settings.KeyPolicy == config.KeyPolicyFirst && len(keys) > 1 {
		keys = keys[:1]
	}
	return keys
}

// Reconcile processes one event. The returned error is non-nil only when
// the event itself is malformed; tracker failures are reported per key in
// the result.
func (r *Reconciler) Reconcile(ctx context.Context, ev models.LifecycleEvent) (EventResult, error) {
	if err := ev.Validate(); err != nil {
		return EventResult{}, fmt.Errorf("invalid event: %w", err)
	}

	keys := r.Keys(ev)
	result := EventResult{PullRequestID: ev.PullRequestID, Kind: ev.Kind}
	r.recordEvent(ctx, ev, keys)

	if len(keys) == 0 {
		result.NoOp = true
		r.logger.Info("no issue keys referenced; nothing to sync", "pull_request", ev.PullRequestID, "kind", ev.Kind)
		return result, nil
	}

	ctx, span := r.tracer.Start(ctx, "reconcile.event", trace.WithAttributes(
		attribute.String("tracelink.event.kind", string(ev.Kind)),
		attribute.String("tracelink.pull_request", ev.PullRequestID),
		attribute.Int("tracelink.keys", len(keys)),
	))
	defer span.End()

	result.Keys = make([]KeyResult, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.settings.Concurrency)
	for i, key := range keys {
		g.Go(func() error {
			result.Keys[i] = r.reconcileKey(gctx, ev, key)
			return nil
		})
	}
	_ = g.Wait()

	if failed := len(result.Failures()); failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d keys failed", failed, len(keys)))
	}
	return result, nil
}

// targetFor returns the workflow state an event kind drives toward.
func targetFor(kind models.EventKind) (models.TransitionState, bool) {
	switch kind {
	case models.EventOpened, models.EventUpdated:
		return models.StateInReview, true
	case models.EventMerged:
		return models.StateDone, true
	default:
		return models.StateNone, false
	}
}

func (r *Reconciler) reconcileKey(ctx context.Context, ev models.LifecycleEvent, key issuekey.Key) (res KeyResult) {
	unlock := r.locks.Lock(key.String())
	defer unlock()

	ctx, span := r.tracer.Start(ctx, "reconcile.key", trace.WithAttributes(
		attribute.String("tracelink.issue.key", key.String()),
	))
	defer span.End()

	log := r.logger.With("issue", key.String(), "pull_request", ev.PullRequestID, "kind", ev.Kind)
	res = KeyResult{Key: key, Transition: TransitionNone}
	defer func() {
		if res.Err != nil {
			res.Error = res.Err.Error()
			res.Permanent = tracker.IsPermanent(res.Err)
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			log.Warn("reconcile failed", "error", res.Err, "permanent", res.Permanent, "attempts", res.Attempts)
		}
	}()

	var rec models.LinkageRecord
	err := r.call(ctx, &res, tracker.OpGetLinkage, func(ctx context.Context) error {
		var err error
		rec, err = r.adapter.GetLinkage(ctx, key, ev.Link())
		return err
	})
	if err != nil {
		res.Err = err
		return res
	}

	wrote := false
	res.Link = LinkExisting
	if !rec.LinkExists {
		var lr tracker.LinkResult
		err := r.call(ctx, &res, tracker.OpCreateLink, func(ctx context.Context) error {
			var err error
			lr, err = r.adapter.CreateLink(ctx, key, ev.Link())
			return err
		})
		if err != nil {
			res.Link = LinkUnknown
			res.Err = err
			return res
		}
		if lr == tracker.Linked {
			res.Link = LinkCreated
			wrote = true
			log.Info("linked pull request")
		}
	}

	target, wants := targetFor(ev.Kind)
	switch {
	case !wants:
		res.Transition = TransitionNone
	case !r.settings.Transitions[target]:
		res.Transition = TransitionSkippedUnconfigured
	case rec.CurrentTransitionState.AtLeast(target):
		res.Transition = TransitionSkippedNotNeeded
	default:
		var tr tracker.TransitionResult
		err := r.call(ctx, &res, tracker.OpTransition, func(ctx context.Context) error {
			var err error
			tr, err = r.adapter.Transition(ctx, key, target)
			return err
		})
		if err != nil {
			res.Err = err
			return res
		}
		if tr == tracker.TransitionApplied {
			res.Transition = TransitionApplied
			wrote = true
			r.recordTransition(ctx, ev, key, target)
			log.Info("transitioned issue", "from", rec.CurrentTransitionState, "to", target)
		} else {
			res.Transition = TransitionSkippedNotAvailable
			log.Info("workflow offers no matching transition; skipping", "target", target)
		}
	}

	if wrote && r.settings.Comments {
		text := commentText(ev)
		err := r.call(ctx, &res, tracker.OpAddComment, func(ctx context.Context) error {
			return r.adapter.AddComment(ctx, key, text)
		})
		if err != nil {
			log.Warn("comment failed", "error", err)
		} else {
			res.Commented = true
		}
	}
	return res
}

// commentText is the issue comment posted after a successful write.
func commentText(ev models.LifecycleEvent) string {
	ref := ev.URL
	if ref == "" {
		ref = ev.Link().DisplayTitle()
	}
	switch ev.Kind {
	case models.EventMerged:
		return "PR merged: " + ref
	case models.EventClosed:
		return "PR closed without merge: " + ref
	default:
		return "Linked PR: " + ref
	}
}

// call runs fn with a per-attempt timeout, retrying transient failures with
// exponential backoff. Permanent failures stop immediately.
func (r *Reconciler) call(ctx context.Context, res *KeyResult, op string, fn func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.settings.Retry.InitialInterval
	bo.MaxInterval = r.settings.Retry.MaxInterval
	bo.Multiplier = r.settings.Retry.Multiplier
	bo.MaxElapsedTime = 0
	ra := &retryAfterBackOff{BackOff: backoff.WithMaxRetries(bo, uint64(r.settings.Retry.MaxAttempts-1))}
	policy := backoff.WithContext(ra, ctx)

	err := backoff.RetryNotify(func() error {
		res.Attempts++
		callCtx, cancel := context.WithTimeout(ctx, r.settings.CallTimeout)
		defer cancel()

		err := fn(callCtx)
		if err != nil && !tracker.IsTransient(err) {
			return backoff.Permanent(err)
		}
		ra.wait = tracker.RetryAfter(err)
		return err
	}, policy, func(err error, wait time.Duration) {
		r.logger.Debug("transient tracker error; retrying", "op", op, "issue", res.Key.String(), "error", err, "wait", wait)
	})

	outcome := "ok"
	switch {
	case err == nil:
	case tracker.IsTransient(err):
		outcome = "transient_error"
	default:
		outcome = "permanent_error"
	}
	r.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
	return err
}

// retryAfterBackOff stretches the next interval to the wait requested by a
// rate-limited tracker. The attempt limit of the wrapped policy still applies.
type retryAfterBackOff struct {
	backoff.BackOff
	wait time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	return max(next, b.wait)
}

func (r *Reconciler) recordEvent(ctx context.Context, ev models.LifecycleEvent, keys []issuekey.Key) {
	if r.recorder == nil {
		return
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	err := r.recorder.RecordEvent(ctx, models.EventRecord{
		Kind:          ev.Kind,
		PullRequestID: ev.PullRequestID,
		Repository:    ev.Repository,
		BranchName:    ev.BranchName,
		Title:         ev.Title,
		Keys:          issuekey.Strings(keys),
		Timestamp:     ts,
		RecordedAt:    r.now(),
	})
	if err != nil {
		r.logger.Warn("record event failed", "pull_request", ev.PullRequestID, "error", err)
	}
}

func (r *Reconciler) recordTransition(ctx context.Context, ev models.LifecycleEvent, key issuekey.Key, state models.TransitionState) {
	if r.recorder == nil {
		return
	}
	err := r.recorder.RecordTransition(ctx, models.TransitionRecord{
		IssueKey:      key.String(),
		PullRequestID: ev.PullRequestID,
		Repository:    ev.Repository,
		State:         state,
		At:            r.now(),
	})
	if err != nil {
		r.logger.Warn("record transition failed", "issue", key.String(), "error", err)
	}
}
