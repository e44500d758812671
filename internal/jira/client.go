// Package jira implements tracker.Adapter on top of the Jira Cloud REST API v3.
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joescharf/tracelink/internal/config"
	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/models"
	"github.com/joescharf/tracelink/internal/tracker"
)

const (
	defaultTimeout = 20 * time.Second
	userAgent      = "tracelink-jira-sync/1.0"
	githubIcon     = "https://github.githubassets.com/favicons/favicon.png"
)

// Status category keys reported by Jira.
const (
	categoryIndeterminate = "indeterminate"
	categoryDone          = "done"
)

// Client provides HTTP access to a Jira instance.
type Client struct {
	URL        string
	Username   string
	APIToken   string
	Auth       string
	HTTPClient *http.Client

	transitions    map[models.TransitionState]string
	statusInReview string
}

var _ tracker.Adapter = (*Client)(nil)

// NewClient creates a Jira client from validated settings.
func NewClient(cfg config.JiraConfig) *Client {
	c := &Client{
		URL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		Username: cfg.Email,
		APIToken: cfg.Token,
		Auth:     cfg.Auth,
		HTTPClient: &http.Client{
			Timeout: defaultTimeout,
		},
		transitions:    make(map[models.TransitionState]string),
		statusInReview: cfg.StatusInReview,
	}
	for _, s := range []models.TransitionState{models.StateInReview, models.StateDone} {
		if v, ok := cfg.Transition(s); ok {
			c.transitions[s] = v
		}
	}
	return c
}

type statusCategory struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type status struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	StatusCategory statusCategory `json:"statusCategory"`
}

type remoteLink struct {
	ID       int    `json:"id,omitempty"`
	GlobalID string `json:"globalId"`
	Object   struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"object"`
}

type transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   status `json:"to"`
}

// GetLinkage reads the issue status and looks for a remote link to the
// pull request.
func (c *Client) GetLinkage(ctx context.Context, key issuekey.Key, link models.PullRequestLink) (models.LinkageRecord, error) {
	st, err := c.getStatus(ctx, key)
	if err != nil {
		return models.LinkageRecord{}, classify(tracker.OpGetLinkage, key, err)
	}
	links, err := c.remoteLinks(ctx, key)
	if err != nil {
		return models.LinkageRecord{}, classify(tracker.OpGetLinkage, key, err)
	}

	rec := models.LinkageRecord{
		IssueKey:               key,
		PullRequestID:          link.PullRequestID,
		CurrentTransitionState: c.stateOf(st),
	}
	for _, l := range links {
		if linksPullRequest(l, link) {
			rec.LinkExists = true
			break
		}
	}
	return rec, nil
}

// CreateLink adds a remote link keyed by the link's GlobalID. An existing
// link with the same GlobalID is reported as AlreadyLinked.
func (c *Client) CreateLink(ctx context.Context, key issuekey.Key, link models.PullRequestLink) (tracker.LinkResult, error) {
	target := link.PullRequestURL()
	if target == "" {
		return "", tracker.NewPermanent(tracker.OpCreateLink, key.String(), errors.New("pull request has no URL"))
	}

	links, err := c.remoteLinks(ctx, key)
	if err != nil {
		return "", classify(tracker.OpCreateLink, key, err)
	}
	for _, l := range links {
		if l.GlobalID == link.GlobalID() {
			return tracker.AlreadyLinked, nil
		}
	}

	object := map[string]any{
		"url":   target,
		"title": link.DisplayTitle(),
		"icon":  map[string]any{"url16x16": githubIcon, "title": "GitHub"},
	}
	if link.Title != "" {
		object["summary"] = link.Title
	}
	payload := map[string]any{
		"globalId":     link.GlobalID(),
		"relationship": "pull request",
		"application": map[string]any{
			"type": "com.github",
			"name": "GitHub",
		},
		"object": object,
	}

	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/remotelink", c.URL, url.PathEscape(key.String()))
	if _, err := c.doJSON(ctx, http.MethodPost, apiURL, payload); err != nil {
		return "", classify(tracker.OpCreateLink, key, err)
	}
	return tracker.Linked, nil
}

// Transition applies the configured transition for target, matched by id or
// by case-insensitive name among the transitions the workflow offers.
func (c *Client) Transition(ctx context.Context, key issuekey.Key, target models.TransitionState) (tracker.TransitionResult, error) {
	want, ok := c.transitions[target]
	if !ok {
		return tracker.TransitionNotAvailable, nil
	}

	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/transitions", c.URL, url.PathEscape(key.String()))
	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", classify(tracker.OpTransition, key, err)
	}

	var resp struct {
		Transitions []transition `json:"transitions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", tracker.NewPermanent(tracker.OpTransition, key.String(), fmt.Errorf("parse transitions: %w", err))
	}

	id := matchTransition(resp.Transitions, want)
	if id == "" {
		return tracker.TransitionNotAvailable, nil
	}

	payload := map[string]any{"transition": map[string]string{"id": id}}
	if _, err := c.doJSON(ctx, http.MethodPost, apiURL, payload); err != nil {
		return "", classify(tracker.OpTransition, key, err)
	}
	return tracker.TransitionApplied, nil
}

// AddComment posts text as an ADF comment.
func (c *Client) AddComment(ctx context.Context, key issuekey.Key, text string) error {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/comment", c.URL, url.PathEscape(key.String()))
	payload := map[string]any{"body": PlainTextToADF(text)}
	if _, err := c.doJSON(ctx, http.MethodPost, apiURL, payload); err != nil {
		return classify(tracker.OpAddComment, key, err)
	}
	return nil
}

func (c *Client) getStatus(ctx context.Context, key issuekey.Key) (status, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s?fields=status", c.URL, url.PathEscape(key.String()))
	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return status{}, err
	}
	var issue struct {
		Key    string `json:"key"`
		Fields struct {
			Status status `json:"status"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(body, &issue); err != nil {
		return status{}, fmt.Errorf("parse issue response: %w", err)
	}
	return issue.Fields.Status, nil
}

func (c *Client) remoteLinks(ctx context.Context, key issuekey.Key) ([]remoteLink, error) {
	apiURL := fmt.Sprintf("%s/rest/api/3/issue/%s/remotelink", c.URL, url.PathEscape(key.String()))
	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	var links []remoteLink
	if err := json.Unmarshal(body, &links); err != nil {
		return nil, fmt.Errorf("parse remote links: %w", err)
	}
	return links, nil
}

// stateOf maps a Jira status onto the three traceability states. Only the
// configured review status counts as InReview; other in-progress statuses
// are still None so the review transition is attempted.
func (c *Client) stateOf(st status) models.TransitionState {
	switch st.StatusCategory.Key {
	case categoryDone:
		return models.StateDone
	case categoryIndeterminate:
		if c.statusInReview != "" && strings.EqualFold(st.Name, c.statusInReview) {
			return models.StateInReview
		}
		if want, ok := c.transitions[models.StateInReview]; ok && strings.EqualFold(st.Name, want) {
			return models.StateInReview
		}
		return models.StateNone
	default:
		return models.StateNone
	}
}

// linksPullRequest matches the link's exact globalId, or a plain link to
// the pull request's URL when that URL is known. Pull requests from other
// repositories with the same number never match.
func linksPullRequest(l remoteLink, link models.PullRequestLink) bool {
	if l.GlobalID == link.GlobalID() {
		return true
	}
	want := link.PullRequestURL()
	if want == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSuffix(l.Object.URL, "/"), strings.TrimSuffix(want, "/"))
}

func matchTransition(ts []transition, want string) string {
	for _, t := range ts {
		if t.ID == want || strings.EqualFold(t.Name, want) {
			return t.ID
		}
	}
	return ""
}

func (c *Client) doJSON(ctx context.Context, method, apiURL string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.doRequest(ctx, method, apiURL, data)
}

// doRequest executes an authenticated HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("jira URL not configured")
	}
	if c.APIToken == "" {
		return nil, fmt.Errorf("jira API token not configured")
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setAuth(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &tracker.APIError{
			StatusCode: resp.StatusCode,
			Messages:   errorMessages(respBody),
			RetryAfter: tracker.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	return respBody, nil
}

// setAuth sets the appropriate authentication header on the request.
func (c *Client) setAuth(req *http.Request) {
	if c.Auth == config.AuthBearer || c.Username == "" {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
		return
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.APIToken))
	req.Header.Set("Authorization", "Basic "+auth)
}

// errorMessages extracts Jira's errorMessages/errors body, falling back to
// the raw text.
func errorMessages(body []byte) []string {
	var payload struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		if s := strings.TrimSpace(string(body)); s != "" {
			return []string{s}
		}
		return nil
	}
	msgs := append([]string(nil), payload.ErrorMessages...)
	for field, msg := range payload.Errors {
		msgs = append(msgs, field+": "+msg)
	}
	return msgs
}

// classify turns a raw request error into a tracker.Error.
func classify(op string, key issuekey.Key, err error) error {
	var apiErr *tracker.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			return tracker.NewPermanent(op, key.String(), fmt.Errorf("%w: %w", tracker.ErrNotFound, apiErr))
		case http.StatusUnauthorized, http.StatusForbidden:
			return tracker.NewPermanent(op, key.String(), fmt.Errorf("%w: %w", tracker.ErrPermissionDenied, apiErr))
		}
		if tracker.ClassifyStatus(apiErr.StatusCode) == tracker.Transient {
			return tracker.NewTransient(op, key.String(), apiErr)
		}
		return tracker.NewPermanent(op, key.String(), apiErr)
	}
	if tracker.IsTransient(err) {
		return tracker.NewTransient(op, key.String(), err)
	}
	return tracker.NewPermanent(op, key.String(), err)
}
