// Package api serves the GitHub webhook receiver and the validation
// endpoints used by CI jobs that cannot run the CLI.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/joescharf/tracelink/internal/githubevent"
	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/logging"
	"github.com/joescharf/tracelink/internal/models"
	"github.com/joescharf/tracelink/internal/reconcile"
	"github.com/joescharf/tracelink/internal/validate"
)

const maxWebhookBodySize = 32 << 20

// Reconciler applies one lifecycle event to the tracker.
type Reconciler interface {
	Reconcile(ctx context.Context, ev models.LifecycleEvent) (reconcile.EventResult, error)
}

// DeliveryStore persists webhook delivery IDs across restarts.
type DeliveryStore interface {
	MarkDelivery(ctx context.Context, id string, at time.Time) (bool, error)
	ForgetDelivery(ctx context.Context, id string) error
}

// CommitSource fills in commit messages missing from webhook payloads.
type CommitSource interface {
	PullRequestCommits(repo, number string) ([]validate.Commit, error)
}

// Server provides the HTTP handlers.
type Server struct {
	grammar    *issuekey.Grammar
	validator  *validate.Validator
	reconciler Reconciler
	secret     []byte
	dedupe     *githubevent.Deduper
	deliveries DeliveryStore
	commits    CommitSource
	logger     *logging.Logger
	timeout    time.Duration

	// Reconciliations outlive the request that triggered them.
	baseCtx context.Context
	wg      sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithSecret enables X-Hub-Signature-256 verification.
func WithSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.secret = []byte(secret)
		}
	}
}

func WithDeliveryStore(d DeliveryStore) Option { return func(s *Server) { s.deliveries = d } }

func WithCommitSource(c CommitSource) Option { return func(s *Server) { s.commits = c } }

func WithLogger(l *logging.Logger) Option { return func(s *Server) { s.logger = l } }

// WithRequestTimeout bounds synchronous handlers. Zero disables the limit.
func WithRequestTimeout(d time.Duration) Option { return func(s *Server) { s.timeout = d } }

// WithBaseContext sets the parent context of background reconciliations.
func WithBaseContext(ctx context.Context) Option { return func(s *Server) { s.baseCtx = ctx } }

// NewServer creates a new API server. rec may be nil, in which case webhook
// deliveries are parsed and acknowledged but not reconciled.
func NewServer(g *issuekey.Grammar, rec Reconciler, opts ...Option) *Server {
	s := &Server{
		grammar:    g,
		validator:  validate.New(g),
		reconciler: rec,
		dedupe:     githubevent.NewDeduper(githubevent.DeliveryWindow),
		logger:     logging.Discard(),
		timeout:    60 * time.Second,
		baseCtx:    context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.Component("api")
	return s
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger(s.logger))
	r.Use(Recovery(s.logger))
	if s.timeout > 0 {
		r.Use(Timeout(s.timeout))
	}

	r.Get("/health", s.health)
	r.Post("/webhook/github", s.githubWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/validate", s.validate)
		r.Post("/extract", s.extract)
	})

	return r
}

// Wait blocks until background reconciliations have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"project_keys": s.grammar.Prefixes(),
	})
}

// --- Validation ---

type commitRequest struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
}

type validateRequest struct {
	Branch   string          `json:"branch"`
	Commits  []commitRequest `json:"commits"`
	Messages []string        `json:"messages"`
}

type validateResponse struct {
	Passed   bool               `json:"passed"`
	Verdicts []validate.Verdict `json:"verdicts"`
	Failures []validate.Verdict `json:"failures"`
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Branch == "" && len(req.Commits) == 0 && len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "branch, commits or messages required")
		return
	}

	var report validate.Report
	if req.Branch != "" {
		report.Add(s.validator.ValidateBranch(req.Branch))
	}
	commits := make([]validate.Commit, 0, len(req.Commits))
	for _, c := range req.Commits {
		commits = append(commits, validate.Commit{SHA: c.SHA, Message: c.Message})
	}
	report.Add(s.validator.ValidateCommitList(commits)...)
	report.Add(s.validator.ValidateCommits(req.Messages)...)

	failures := report.Failures()
	if failures == nil {
		failures = []validate.Verdict{}
	}
	writeJSON(w, http.StatusOK, validateResponse{
		Passed:   report.Passed(),
		Verdicts: report.Verdicts,
		Failures: failures,
	})
}

type extractRequest struct {
	Text string `json:"text"`
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	keys := s.grammar.Extract(req.Text)
	writeJSON(w, http.StatusOK, map[string]any{"keys": issuekey.Strings(keys)})
}
