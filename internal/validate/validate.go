package validate

import (
	"fmt"
	"strings"

	"github.com/joescharf/tracelink/internal/issuekey"
)

// SubjectKind identifies what was validated.
type SubjectKind string

const (
	SubjectBranch SubjectKind = "branch"
	SubjectCommit SubjectKind = "commit"
)

// Reason is the outcome code of a validation.
type Reason string

const (
	ReasonOK            Reason = "Ok"
	ReasonNoKeyFound    Reason = "NoKeyFound"
	ReasonKeyNotLeading Reason = "KeyNotLeading"
)

// Verdict is the result of validating one branch name or commit message.
type Verdict struct {
	SubjectKind SubjectKind    `json:"subject_kind"`
	SubjectID   string         `json:"subject_id"`
	KeysFound   []issuekey.Key `json:"keys_found"`
	Passed      bool           `json:"passed"`
	Reason      Reason         `json:"reason"`
}

// Commit is a commit message with an optional identifier (usually the SHA).
type Commit struct {
	SHA     string
	Message string
}

// Validator applies a Grammar to branches and commits. It makes pass/fail
// decisions only; what to do about a failure is up to the caller.
type Validator struct {
	grammar *issuekey.Grammar
}

// New returns a Validator for the given grammar.
func New(g *issuekey.Grammar) *Validator {
	return &Validator{grammar: g}
}

// Grammar returns the grammar the validator uses.
func (v *Validator) Grammar() *issuekey.Grammar { return v.grammar }

// ValidateBranch passes iff the branch name contains at least one key.
func (v *Validator) ValidateBranch(name string) Verdict {
	keys := v.grammar.Extract(name)
	verdict := Verdict{
		SubjectKind: SubjectBranch,
		SubjectID:   name,
		KeysFound:   keys,
		Passed:      len(keys) > 0,
		Reason:      ReasonOK,
	}
	if !verdict.Passed {
		verdict.Reason = ReasonNoKeyFound
	}
	return verdict
}

// ValidateCommits validates each message in order. A message passes iff,
// after trimming, it begins with "[KEY]".
func (v *Validator) ValidateCommits(messages []string) []Verdict {
	commits := make([]Commit, len(messages))
	for i, m := range messages {
		commits[i] = Commit{Message: m}
	}
	return v.ValidateCommitList(commits)
}

// ValidateCommitList is ValidateCommits for commits with known identifiers.
func (v *Validator) ValidateCommitList(commits []Commit) []Verdict {
	verdicts := make([]Verdict, 0, len(commits))
	for _, c := range commits {
		verdicts = append(verdicts, v.validateCommit(c))
	}
	return verdicts
}

func (v *Validator) validateCommit(c Commit) Verdict {
	msg := strings.TrimSpace(c.Message)
	id := c.SHA
	if id == "" {
		id = Subject(msg)
	}

	keys := v.grammar.Extract(msg)
	verdict := Verdict{
		SubjectKind: SubjectCommit,
		SubjectID:   id,
		KeysFound:   keys,
	}

	switch _, leading := v.grammar.LeadingBracketed(msg); {
	case leading:
		verdict.Passed = true
		verdict.Reason = ReasonOK
	case len(keys) > 0:
		verdict.Reason = ReasonKeyNotLeading
	default:
		verdict.Reason = ReasonNoKeyFound
	}
	return verdict
}

// Subject returns the first line of a commit message.
func Subject(msg string) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return strings.TrimRight(msg[:i], "\r")
	}
	return msg
}

// Report collects verdicts from one gate run.
type Report struct {
	Verdicts []Verdict `json:"verdicts"`
}

// Add appends verdicts to the report.
func (r *Report) Add(v ...Verdict) {
	r.Verdicts = append(r.Verdicts, v...)
}

// Failures returns the failing verdicts in order.
func (r *Report) Failures() []Verdict {
	var out []Verdict
	for _, v := range r.Verdicts {
		if !v.Passed {
			out = append(out, v)
		}
	}
	return out
}

// Passed reports whether every verdict passed. An empty report passes.
func (r *Report) Passed() bool {
	return len(r.Failures()) == 0
}

// Err returns a *GateError listing every failure, or nil.
func (r *Report) Err() error {
	failures := r.Failures()
	if len(failures) == 0 {
		return nil
	}
	return &GateError{Failures: failures}
}

// GateError is returned when validation should block a merge.
type GateError struct {
	Failures []Verdict
}

func (e *GateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "traceability check failed for %d subject(s)", len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  %s %q: %s", f.SubjectKind, f.SubjectID, f.Reason)
	}
	return b.String()
}

// SplitMessages splits a block of commit messages. When any line is
// exactly "---" those lines separate messages; otherwise every non-blank
// line is one message.
func SplitMessages(raw string) []string {
	if !hasSeparator(raw) {
		var out []string
		for line := range strings.Lines(raw) {
			if msg := strings.TrimSpace(line); msg != "" {
				out = append(out, msg)
			}
		}
		return out
	}

	var (
		out []string
		cur []string
	)
	flush := func() {
		msg := strings.TrimSpace(strings.Join(cur, "\n"))
		if msg != "" {
			out = append(out, msg)
		}
		cur = cur[:0]
	}
	for line := range strings.Lines(raw) {
		if strings.TrimSpace(line) == "---" {
			flush()
			continue
		}
		cur = append(cur, strings.TrimRight(line, "\r\n"))
	}
	flush()
	return out
}

func hasSeparator(raw string) bool {
	for line := range strings.Lines(raw) {
		if strings.TrimSpace(line) == "---" {
			return true
		}
	}
	return false
}
