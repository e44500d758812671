// Package tracker defines the boundary between the reconciler and an
// external issue tracker.
//
// Adapters offer no cross-call transactions. Every write the reconciler
// issues is therefore idempotent: creating a link that already exists
// reports AlreadyLinked, and transitions are only requested when the
// projection read beforehand shows the issue behind the target state.
package tracker

import (
	"context"

	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/models"
)

// LinkResult is the outcome of CreateLink.
type LinkResult string

const (
	Linked        LinkResult = "linked"
	AlreadyLinked LinkResult = "already_linked"
)

// TransitionResult is the outcome of Transition.
type TransitionResult string

const (
	TransitionApplied      TransitionResult = "applied"
	TransitionNotAvailable TransitionResult = "not_available"
)

// Adapter reads and writes issue state in the external tracker.
type Adapter interface {
	// GetLinkage returns the projection for the issue and the pull request
	// identified by link. A missing link is reported through LinkExists; a
	// missing issue is ErrNotFound.
	GetLinkage(ctx context.Context, key issuekey.Key, link models.PullRequestLink) (models.LinkageRecord, error)

	// CreateLink associates the pull request with the issue. Creating a link
	// that already exists returns AlreadyLinked and no error.
	CreateLink(ctx context.Context, key issuekey.Key, link models.PullRequestLink) (LinkResult, error)

	// Transition moves the issue to target. If the workflow does not offer
	// a matching transition it returns TransitionNotAvailable and no error.
	Transition(ctx context.Context, key issuekey.Key, target models.TransitionState) (TransitionResult, error)

	// AddComment posts a plain-text comment on the issue.
	AddComment(ctx context.Context, key issuekey.Key, text string) error
}
