package reconcile

import (
	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/models"
)

// LinkOutcome reports what happened to the (issue, pull request) link.
type LinkOutcome string

const (
	LinkUnknown  LinkOutcome = ""
	LinkCreated  LinkOutcome = "created"
	LinkExisting LinkOutcome = "existing"
)

// TransitionOutcome reports what happened to the issue's workflow state.
type TransitionOutcome string

const (
	TransitionNone                TransitionOutcome = "none"
	TransitionApplied             TransitionOutcome = "applied"
	TransitionSkippedNotNeeded    TransitionOutcome = "skipped-not-needed"
	TransitionSkippedUnconfigured TransitionOutcome = "skipped-unconfigured"
	TransitionSkippedNotAvailable TransitionOutcome = "skipped-not-available"
)

// KeyResult is the per-issue outcome of one event.
type KeyResult struct {
	Key        issuekey.Key      `json:"key"`
	Link       LinkOutcome       `json:"link,omitempty"`
	Transition TransitionOutcome `json:"transition,omitempty"`
	Commented  bool              `json:"commented,omitempty"`
	Err        error             `json:"-"`
	Error      string            `json:"error,omitempty"`
	Permanent  bool              `json:"permanent,omitempty"`
	Attempts   int               `json:"attempts"`
}

// Failed reports whether reconciling this key ended in an error.
func (r KeyResult) Failed() bool { return r.Err != nil }

// EventResult is the outcome of reconciling one lifecycle event.
type EventResult struct {
	PullRequestID string           `json:"pull_request_id"`
	Kind          models.EventKind `json:"kind"`
	NoOp          bool             `json:"no_op"`
	Keys          []KeyResult      `json:"keys"`
}

// Failures returns the keys whose reconciliation failed.
func (r EventResult) Failures() []KeyResult {
	var out []KeyResult
	for _, k := range r.Keys {
		if k.Failed() {
			out = append(out, k)
		}
	}
	return out
}

// OK reports whether every key was reconciled.
func (r EventResult) OK() bool { return len(r.Failures()) == 0 }
