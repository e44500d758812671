package models

import (
	"fmt"
	"strings"
	"time"
)

// EventKind is the pull request lifecycle stage an event reports.
type EventKind string

const (
	EventOpened  EventKind = "opened"
	EventUpdated EventKind = "updated"
	EventMerged  EventKind = "merged"
	EventClosed  EventKind = "closed"
)

// ParseEventKind accepts the canonical kind names, case-insensitively.
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(strings.ToLower(strings.TrimSpace(s))); k {
	case EventOpened, EventUpdated, EventMerged, EventClosed:
		return k, nil
	default:
		return "", fmt.Errorf("unknown event kind: %q (use: opened, updated, merged, closed)", s)
	}
}

// LifecycleEvent is a pull request notification from the hosting platform.
// Consumers treat it as read-only.
type LifecycleEvent struct {
	Kind           EventKind `json:"kind"`
	PullRequestID  string    `json:"pull_request_id"`
	BranchName     string    `json:"branch_name"`
	CommitMessages []string  `json:"commit_messages"`
	Timestamp      time.Time `json:"timestamp"`

	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
	BaseBranch string `json:"base_branch,omitempty"`
	Repository string `json:"repository,omitempty"`
	DeliveryID string `json:"delivery_id,omitempty"`
}

// Validate checks the fields the reconciler depends on.
func (e *LifecycleEvent) Validate() error {
	if _, err := ParseEventKind(string(e.Kind)); err != nil {
		return err
	}
	if e.PullRequestID == "" {
		return fmt.Errorf("event is missing pull_request_id")
	}
	return nil
}

// Link returns the pull request reference written into the tracker.
func (e *LifecycleEvent) Link() PullRequestLink {
	return PullRequestLink{
		PullRequestID: e.PullRequestID,
		Repository:    e.Repository,
		URL:           e.URL,
		Title:         e.Title,
		BranchName:    e.BranchName,
		BaseBranch:    e.BaseBranch,
	}
}
