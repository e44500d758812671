// Package githubevent turns GitHub pull_request webhook payloads (and the
// native tracelink JSON form) into lifecycle events.
package githubevent

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/tracelink/internal/models"
)

// ErrIgnoredAction is returned for pull_request actions that do not affect
// traceability (labeled, assigned, review_requested, ...).
var ErrIgnoredAction = errors.New("pull_request action does not affect traceability")

// ErrNotPullRequest is returned when a payload carries no pull_request.
var ErrNotPullRequest = errors.New("payload is not a pull_request event")

// Payload is the subset of the GitHub pull_request webhook body we read.
type Payload struct {
	Action      string       `json:"action"`
	Number      int          `json:"number"`
	PullRequest *PullRequest `json:"pull_request"`
	Repository  struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

type PullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	HTMLURL   string     `json:"html_url"`
	State     string     `json:"state"`
	Merged    bool       `json:"merged"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	MergedAt  *time.Time `json:"merged_at"`
	Head      struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

// KindForAction maps a pull_request action to an event kind.
func KindForAction(action string, merged bool) (models.EventKind, error) {
	switch action {
	case "opened", "reopened", "ready_for_review":
		return models.EventOpened, nil
	case "synchronize", "edited":
		return models.EventUpdated, nil
	case "closed":
		if merged {
			return models.EventMerged, nil
		}
		return models.EventClosed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrIgnoredAction, action)
	}
}

// Event converts the payload into a lifecycle event. CommitMessages is left
// empty; webhook bodies do not carry them.
func (p *Payload) Event() (models.LifecycleEvent, error) {
	pr := p.PullRequest
	if pr == nil {
		return models.LifecycleEvent{}, ErrNotPullRequest
	}
	kind, err := KindForAction(p.Action, pr.Merged)
	if err != nil {
		return models.LifecycleEvent{}, err
	}

	number := pr.Number
	if number == 0 {
		number = p.Number
	}

	ts := pr.UpdatedAt
	switch kind {
	case models.EventOpened:
		if p.Action == "opened" && !pr.CreatedAt.IsZero() {
			ts = pr.CreatedAt
		}
	case models.EventMerged:
		if pr.MergedAt != nil {
			ts = *pr.MergedAt
		}
	case models.EventClosed:
		if pr.ClosedAt != nil {
			ts = *pr.ClosedAt
		}
	}

	return models.LifecycleEvent{
		Kind:          kind,
		PullRequestID: strconv.Itoa(number),
		BranchName:    pr.Head.Ref,
		Timestamp:     ts,
		Title:         pr.Title,
		URL:           pr.HTMLURL,
		BaseBranch:    pr.Base.Ref,
		Repository:    p.Repository.FullName,
	}, nil
}

// HeadSHA returns the pull request head commit, if present.
func (p *Payload) HeadSHA() string {
	if p.PullRequest == nil {
		return ""
	}
	return p.PullRequest.Head.SHA
}

// Decode accepts either a GitHub pull_request payload or a native
// LifecycleEvent JSON document.
func Decode(data []byte) (models.LifecycleEvent, *Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return models.LifecycleEvent{}, nil, fmt.Errorf("parse event: %w", err)
	}

	if _, ok := fields["pull_request"]; ok {
		var p Payload
		if err := json.Unmarshal(data, &p); err != nil {
			return models.LifecycleEvent{}, nil, fmt.Errorf("parse pull_request payload: %w", err)
		}
		ev, err := p.Event()
		return ev, &p, err
	}

	if _, ok := fields["kind"]; ok {
		var ev models.LifecycleEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return models.LifecycleEvent{}, nil, fmt.Errorf("parse lifecycle event: %w", err)
		}
		kind, err := models.ParseEventKind(string(ev.Kind))
		if err != nil {
			return models.LifecycleEvent{}, nil, err
		}
		ev.Kind = kind
		return ev, nil, ev.Validate()
	}

	return models.LifecycleEvent{}, nil, ErrNotPullRequest
}

// ReadFile decodes an event file such as $GITHUB_EVENT_PATH.
func ReadFile(path string) (models.LifecycleEvent, *Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.LifecycleEvent{}, nil, fmt.Errorf("read event file: %w", err)
	}
	return Decode(data)
}

// VerifySignature checks a GitHub X-Hub-Signature-256 header against body.
func VerifySignature(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return errors.New("webhook HMAC: secret is empty")
	}
	if signature == "" {
		return errors.New("webhook HMAC: signature is empty")
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return fmt.Errorf("webhook HMAC: invalid hex signature: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if subtle.ConstantTimeCompare(mac.Sum(nil), sig) != 1 {
		return errors.New("webhook HMAC: signature mismatch")
	}
	return nil
}

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
