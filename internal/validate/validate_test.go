package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracelink/internal/issuekey"
)

func newTestValidator() *Validator {
	return New(issuekey.MustGrammar("SECO", "OPS"))
}

func TestValidateBranch(t *testing.T) {
	v := newTestValidator()

	ok := v.ValidateBranch("feature/SECO-12-login")
	assert.True(t, ok.Passed)
	assert.Equal(t, ReasonOK, ok.Reason)
	assert.Equal(t, SubjectBranch, ok.SubjectKind)
	assert.Equal(t, "feature/SECO-12-login", ok.SubjectID)
	assert.Equal(t, []string{"SECO-12"}, issuekey.Strings(ok.KeysFound))

	bad := v.ValidateBranch("feature/login")
	assert.False(t, bad.Passed)
	assert.Equal(t, ReasonNoKeyFound, bad.Reason)
	assert.Empty(t, bad.KeysFound)
}

func TestValidateCommits_Examples(t *testing.T) {
	v := newTestValidator()

	verdicts := v.ValidateCommits([]string{"[SECO-1] fix bug", "fix SECO-1 bug", "fix bug"})
	require.Len(t, verdicts, 3)

	assert.True(t, verdicts[0].Passed)
	assert.Equal(t, ReasonOK, verdicts[0].Reason)

	assert.False(t, verdicts[1].Passed)
	assert.Equal(t, ReasonKeyNotLeading, verdicts[1].Reason)
	assert.Equal(t, []string{"SECO-1"}, issuekey.Strings(verdicts[1].KeysFound))

	assert.False(t, verdicts[2].Passed)
	assert.Equal(t, ReasonNoKeyFound, verdicts[2].Reason)
}

func TestValidateCommits_Trimming(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		msg    string
		reason Reason
	}{
		{"  [SECO-1] padded\n", ReasonOK},
		{"\n[OPS-3] leading newline", ReasonOK},
		{"[ SECO-1] space inside", ReasonKeyNotLeading},
		{"(SECO-1) wrong brackets", ReasonKeyNotLeading},
		{"[ABC-1] unknown project", ReasonNoKeyFound},
		{"", ReasonNoKeyFound},
		{"subject\n\nRefs SECO-9", ReasonKeyNotLeading},
	}
	for _, tt := range tests {
		got := v.ValidateCommits([]string{tt.msg})
		require.Len(t, got, 1)
		assert.Equal(t, tt.reason, got[0].Reason, "message %q", tt.msg)
		assert.Equal(t, tt.reason == ReasonOK, got[0].Passed)
	}
}

func TestValidateCommitList_UsesSHAAsSubject(t *testing.T) {
	v := newTestValidator()
	got := v.ValidateCommitList([]Commit{
		{SHA: "abc123", Message: "[SECO-1] one"},
		{Message: "no key\n\nbody"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "abc123", got[0].SubjectID)
	assert.Equal(t, "no key", got[1].SubjectID)
}

func TestReport(t *testing.T) {
	v := newTestValidator()

	var r Report
	r.Add(v.ValidateBranch("SECO-1-x"))
	r.Add(v.ValidateCommits([]string{"[SECO-1] ok"})...)
	assert.True(t, r.Passed())
	assert.NoError(t, r.Err())

	r.Add(v.ValidateCommits([]string{"bad one", "fix SECO-2"})...)
	assert.False(t, r.Passed())
	require.Len(t, r.Failures(), 2)

	err := r.Err()
	require.Error(t, err)
	var gate *GateError
	require.True(t, errors.As(err, &gate))
	assert.Len(t, gate.Failures, 2)
	assert.Contains(t, err.Error(), "2 subject(s)")
	assert.Contains(t, err.Error(), `commit "bad one": NoKeyFound`)
	assert.Contains(t, err.Error(), `commit "fix SECO-2": KeyNotLeading`)
}

func TestReport_EmptyPasses(t *testing.T) {
	var r Report
	assert.True(t, r.Passed())
	assert.Nil(t, r.Err())
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "first", Subject("first\r\nsecond"))
	assert.Equal(t, "only", Subject("only"))
}

func TestSplitMessages(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitMessages("a\n\nb\n"))
	assert.Equal(t,
		[]string{"[SECO-1] subject\n\nbody", "[SECO-2] next"},
		SplitMessages("[SECO-1] subject\n\nbody\n---\n[SECO-2] next\n---\n"))
	assert.Empty(t, SplitMessages(""))
}
