package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/tracelink/internal/issuekey"
)

// TransitionState is the workflow position of an issue as far as pull
// request traceability is concerned. States are ordered None < InReview < Done.
type TransitionState int

const (
	StateNone TransitionState = iota
	StateInReview
	StateDone
)

func (s TransitionState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateInReview:
		return "in_review"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("TransitionState(%d)", int(s))
	}
}

// ParseTransitionState parses the String form.
func ParseTransitionState(s string) (TransitionState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return StateNone, nil
	case "in_review", "inreview", "in-review":
		return StateInReview, nil
	case "done":
		return StateDone, nil
	default:
		return StateNone, fmt.Errorf("unknown transition state: %q", s)
	}
}

// Less reports whether s comes strictly before other.
func (s TransitionState) Less(other TransitionState) bool { return s < other }

// AtLeast reports whether s has reached other.
func (s TransitionState) AtLeast(other TransitionState) bool { return s >= other }

// MarshalText implements encoding.TextMarshaler.
func (s TransitionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TransitionState) UnmarshalText(b []byte) error {
	v, err := ParseTransitionState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// LinkageRecord is the tracker-side projection for one (issue, pull request)
// pair. The tracker owns it; callers only read it before deciding what to write.
type LinkageRecord struct {
	IssueKey               issuekey.Key    `json:"issue_key"`
	PullRequestID          string          `json:"pull_request_id"`
	LinkExists             bool            `json:"link_exists"`
	CurrentTransitionState TransitionState `json:"current_transition_state"`
}

// PullRequestLink describes the pull request written into a tracker link.
type PullRequestLink struct {
	PullRequestID string
	Repository    string
	URL           string
	Title         string
	BranchName    string
	BaseBranch    string
}

// GlobalID is the stable identity of the link inside the tracker. Writing
// the same GlobalID twice updates rather than duplicates the link.
func (l PullRequestLink) GlobalID() string {
	if l.Repository == "" {
		return "tracelink:pr:" + l.PullRequestID
	}
	return "tracelink:" + l.Repository + "#" + l.PullRequestID
}

// PullRequestURL is the web URL of the pull request, derived from the
// repository when no URL was supplied. Empty when neither is known.
func (l PullRequestLink) PullRequestURL() string {
	if l.URL != "" {
		return l.URL
	}
	if l.Repository == "" || l.PullRequestID == "" {
		return ""
	}
	return fmt.Sprintf("https://github.com/%s/pull/%s", l.Repository, l.PullRequestID)
}

// DisplayTitle is the link label shown on the issue.
func (l PullRequestLink) DisplayTitle() string {
	title := "GitHub PR #" + l.PullRequestID
	if l.BranchName != "" && l.BaseBranch != "" {
		title += fmt.Sprintf(" (%s → %s)", l.BranchName, l.BaseBranch)
	}
	return title
}

// TransitionRecord is an observed state change for an issue, appended to
// the event history so review latency can be computed later.
type TransitionRecord struct {
	ID            string
	IssueKey      string
	PullRequestID string
	Repository    string
	State         TransitionState
	At            time.Time
}
