package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/joescharf/tracelink/internal/githubevent"
	"github.com/joescharf/tracelink/internal/models"
)

type webhookResponse struct {
	Status        string `json:"status"`
	PullRequestID string `json:"pull_request_id,omitempty"`
	Kind          string `json:"kind,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// githubWebhook acknowledges a delivery and reconciles it in the
// background. Anything that is not an actionable pull_request event gets a
// 200 so GitHub does not retry it. A delivery is only remembered once it
// reconciled cleanly; rejected or failed ones stay eligible for redelivery.
func (s *Server) githubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large or unreadable")
		return
	}

	if s.secret != nil {
		if err := githubevent.VerifySignature(s.secret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
			s.logger.Warn("webhook signature rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	log := s.logger.With("event", eventType, "delivery", deliveryID)

	switch eventType {
	case "ping":
		writeJSON(w, http.StatusOK, webhookResponse{Status: "pong"})
		return
	case "pull_request":
	default:
		log.Debug("ignoring unhandled event type")
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored", Reason: "unhandled event type"})
		return
	}

	if s.duplicate(r.Context(), deliveryID) {
		log.Info("duplicate delivery")
		writeJSON(w, http.StatusOK, webhookResponse{Status: "duplicate"})
		return
	}

	ev, payload, err := githubevent.Decode(body)
	switch {
	case errors.Is(err, githubevent.ErrIgnoredAction):
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored", Reason: err.Error()})
		return
	case err != nil:
		log.Warn("webhook payload rejected", "error", err)
		s.forget(deliveryID)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev.DeliveryID = deliveryID

	resp := webhookResponse{Status: "accepted", PullRequestID: ev.PullRequestID, Kind: string(ev.Kind)}
	if s.reconciler == nil {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if !s.process(ev, payload != nil) {
			s.forget(ev.DeliveryID)
		}
	}()
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) duplicate(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	if s.dedupe.Seen(id) {
		return true
	}
	if s.deliveries == nil {
		return false
	}
	fresh, err := s.deliveries.MarkDelivery(ctx, id, time.Now())
	if err != nil {
		s.logger.Warn("delivery store unavailable", "delivery", id, "error", err)
		return false
	}
	return !fresh
}

// forget lets a delivery ID through again.
func (s *Server) forget(id string) {
	if id == "" {
		return
	}
	s.dedupe.Forget(id)
	if s.deliveries == nil {
		return
	}
	if err := s.deliveries.ForgetDelivery(s.baseCtx, id); err != nil {
		s.logger.Warn("could not forget delivery", "delivery", id, "error", err)
	}
}

// process reconciles ev and reports whether every key succeeded.
func (s *Server) process(ev models.LifecycleEvent, fromGitHub bool) bool {
	log := s.logger.With("pr", ev.PullRequestID, "kind", ev.Kind, "delivery", ev.DeliveryID)

	if fromGitHub && len(ev.CommitMessages) == 0 && s.commits != nil {
		commits, err := s.commits.PullRequestCommits(ev.Repository, ev.PullRequestID)
		if err != nil {
			log.Warn("could not fetch commit messages", "error", err)
		}
		for _, c := range commits {
			ev.CommitMessages = append(ev.CommitMessages, c.Message)
		}
	}

	res, err := s.reconciler.Reconcile(s.baseCtx, ev)
	if err != nil {
		log.Error("reconcile failed", "error", err)
		return false
	}
	if res.NoOp {
		log.Info("no issue keys referenced")
		return true
	}
	for _, k := range res.Keys {
		if k.Failed() {
			log.Error("key reconcile failed", "key", k.Key.String(), "error", k.Err, "permanent", k.Permanent, "attempts", k.Attempts)
			continue
		}
		log.Info("key reconciled", "key", k.Key.String(), "link", k.Link, "transition", k.Transition)
	}
	return res.OK()
}
