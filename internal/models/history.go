package models

import "time"

// EventRecord is a lifecycle event as persisted in the event history.
type EventRecord struct {
	ID            string
	Kind          EventKind
	PullRequestID string
	Repository    string
	BranchName    string
	Title         string
	Keys          []string
	Timestamp     time.Time
	RecordedAt    time.Time
}

// HistoryEntryType distinguishes the two kinds of replayable history.
type HistoryEntryType string

const (
	HistoryEvent      HistoryEntryType = "event"
	HistoryTransition HistoryEntryType = "transition"
)

// HistoricalEvent is one replayable entry fed to the metrics aggregator:
// either a lifecycle event or an observed transition, with its resolved
// timestamp and the keys it referenced.
type HistoricalEvent struct {
	Type          HistoryEntryType
	Kind          EventKind       // set for HistoryEvent
	State         TransitionState // set for HistoryTransition
	PullRequestID string
	Repository    string
	Keys          []string
	At            time.Time
}

// PullRequestRef identifies the pull request across repositories:
// "owner/repo#42", or the bare number when the repository is unknown.
func (e HistoricalEvent) PullRequestRef() string {
	if e.PullRequestID == "" || e.Repository == "" {
		return e.PullRequestID
	}
	return e.Repository + "#" + e.PullRequestID
}
