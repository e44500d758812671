package tracker

import (
	"context"
	"log/slog"

	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/models"
)

// DryRun forwards reads to the wrapped adapter and turns writes into log
// lines that report success.
type DryRun struct {
	next   Adapter
	logger *slog.Logger
}

// NewDryRun wraps next. A nil logger uses slog.Default.
func NewDryRun(next Adapter, logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{next: next, logger: logger}
}

func (d *DryRun) GetLinkage(ctx context.Context, key issuekey.Key, link models.PullRequestLink) (models.LinkageRecord, error) {
	return d.next.GetLinkage(ctx, key, link)
}

func (d *DryRun) CreateLink(_ context.Context, key issuekey.Key, link models.PullRequestLink) (LinkResult, error) {
	d.logger.Info("dry-run: would create link", "issue", key.String(), "pull_request", link.PullRequestID, "global_id", link.GlobalID())
	return Linked, nil
}

func (d *DryRun) Transition(_ context.Context, key issuekey.Key, target models.TransitionState) (TransitionResult, error) {
	d.logger.Info("dry-run: would transition issue", "issue", key.String(), "target", target.String())
	return TransitionApplied, nil
}

func (d *DryRun) AddComment(_ context.Context, key issuekey.Key, text string) error {
	d.logger.Info("dry-run: would comment", "issue", key.String(), "text", text)
	return nil
}
