package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionState_Ordering(t *testing.T) {
	assert.True(t, StateNone.Less(StateInReview))
	assert.True(t, StateInReview.Less(StateDone))
	assert.False(t, StateDone.Less(StateInReview))
	assert.True(t, StateDone.AtLeast(StateInReview))
	assert.True(t, StateInReview.AtLeast(StateInReview))
	assert.False(t, StateNone.AtLeast(StateInReview))
}

func TestTransitionState_JSONRoundTrip(t *testing.T) {
	rec := LinkageRecord{PullRequestID: "7", CurrentTransitionState: StateInReview}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"current_transition_state":"in_review"`)

	var got LinkageRecord
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, StateInReview, got.CurrentTransitionState)
}

func TestParseTransitionState_Unknown(t *testing.T) {
	_, err := ParseTransitionState("archived")
	assert.Error(t, err)
}

func TestParseEventKind(t *testing.T) {
	k, err := ParseEventKind(" Merged ")
	require.NoError(t, err)
	assert.Equal(t, EventMerged, k)

	_, err = ParseEventKind("reopened")
	assert.Error(t, err)
}

func TestLifecycleEvent_Validate(t *testing.T) {
	e := &LifecycleEvent{Kind: EventOpened}
	assert.Error(t, e.Validate(), "missing pull request id")

	e.PullRequestID = "12"
	assert.NoError(t, e.Validate())

	e.Kind = "bogus"
	assert.Error(t, e.Validate())
}

func TestPullRequestLink_GlobalIDAndTitle(t *testing.T) {
	e := &LifecycleEvent{
		PullRequestID: "42",
		Repository:    "acme/api",
		BranchName:    "feature/SECO-1",
		BaseBranch:    "main",
	}
	link := e.Link()
	assert.Equal(t, "tracelink:acme/api#42", link.GlobalID())
	assert.Equal(t, "GitHub PR #42 (feature/SECO-1 → main)", link.DisplayTitle())

	assert.Equal(t, "tracelink:pr:9", PullRequestLink{PullRequestID: "9"}.GlobalID())
	assert.Equal(t, "GitHub PR #9", PullRequestLink{PullRequestID: "9"}.DisplayTitle())
}
