package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/models"
)

// Operation names, used for call accounting and error messages.
const (
	OpGetLinkage = "get_linkage"
	OpCreateLink = "create_link"
	OpTransition = "transition"
	OpAddComment = "add_comment"
)

type memoryIssue struct {
	state    models.TransitionState
	links    map[string]models.PullRequestLink // by GlobalID
	comments []string
}

// Memory is an in-process Adapter. Issues must be registered with AddIssue
// before use; unknown keys behave like issues missing from the tracker.
type Memory struct {
	mu       sync.Mutex
	issues   map[issuekey.Key]*memoryIssue
	calls    map[string]int
	failures map[string][]error

	// Unavailable lists target states the workflow does not offer.
	Unavailable map[models.TransitionState]bool
}

// NewMemory returns an empty in-memory tracker.
func NewMemory() *Memory {
	return &Memory{
		issues:      make(map[issuekey.Key]*memoryIssue),
		calls:       make(map[string]int),
		failures:    make(map[string][]error),
		Unavailable: make(map[models.TransitionState]bool),
	}
}

// AddIssue registers an issue in the given state.
func (m *Memory) AddIssue(key issuekey.Key, state models.TransitionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[key] = &memoryIssue{state: state, links: make(map[string]models.PullRequestLink)}
}

// FailNext queues errors returned by the next calls of op, one per call.
func (m *Memory) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

// Calls returns how many times op was invoked, failed attempts included.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of adapter invocations of any kind.
func (m *Memory) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// State returns the current state of an issue.
func (m *Memory) State(key issuekey.Key) models.TransitionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if is, ok := m.issues[key]; ok {
		return is.state
	}
	return models.StateNone
}

// Links returns the number of distinct pull request links on an issue.
func (m *Memory) Links(key issuekey.Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if is, ok := m.issues[key]; ok {
		return len(is.links)
	}
	return 0
}

// Comments returns a copy of the comments posted on an issue.
func (m *Memory) Comments(key issuekey.Key) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if is, ok := m.issues[key]; ok {
		return append([]string(nil), is.comments...)
	}
	return nil
}

// begin records a call and pops an injected failure. Must hold m.mu.
func (m *Memory) begin(op string, key issuekey.Key) (*memoryIssue, error) {
	m.calls[op]++
	if q := m.failures[op]; len(q) > 0 {
		m.failures[op] = q[1:]
		return nil, q[0]
	}
	is, ok := m.issues[key]
	if !ok {
		return nil, NewPermanent(op, key.String(), ErrNotFound)
	}
	return is, nil
}

func (m *Memory) GetLinkage(_ context.Context, key issuekey.Key, link models.PullRequestLink) (models.LinkageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	is, err := m.begin(OpGetLinkage, key)
	if err != nil {
		return models.LinkageRecord{}, err
	}
	_, linked := is.links[link.GlobalID()]
	return models.LinkageRecord{
		IssueKey:               key,
		PullRequestID:          link.PullRequestID,
		LinkExists:             linked,
		CurrentTransitionState: is.state,
	}, nil
}

func (m *Memory) CreateLink(_ context.Context, key issuekey.Key, link models.PullRequestLink) (LinkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	is, err := m.begin(OpCreateLink, key)
	if err != nil {
		return "", err
	}
	if _, ok := is.links[link.GlobalID()]; ok {
		return AlreadyLinked, nil
	}
	is.links[link.GlobalID()] = link
	return Linked, nil
}

func (m *Memory) Transition(_ context.Context, key issuekey.Key, target models.TransitionState) (TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	is, err := m.begin(OpTransition, key)
	if err != nil {
		return "", err
	}
	if m.Unavailable[target] {
		return TransitionNotAvailable, nil
	}
	is.state = target
	return TransitionApplied, nil
}

func (m *Memory) AddComment(_ context.Context, key issuekey.Key, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	is, err := m.begin(OpAddComment, key)
	if err != nil {
		return err
	}
	if text == "" {
		return NewPermanent(OpAddComment, key.String(), fmt.Errorf("empty comment"))
	}
	is.comments = append(is.comments, text)
	return nil
}
