package store

import (
	"context"
	"time"

	"github.com/joescharf/tracelink/internal/models"
)

// HistoryFilter narrows ListHistory.
type HistoryFilter struct {
	Repository string
	Since      time.Time
}

// Store defines the persistence interface for tracelink's event history.
type Store interface {
	// History
	RecordEvent(ctx context.Context, rec models.EventRecord) error
	RecordTransition(ctx context.Context, rec models.TransitionRecord) error
	ListEvents(ctx context.Context, filter HistoryFilter) ([]models.EventRecord, error)
	ListTransitions(ctx context.Context, filter HistoryFilter) ([]models.TransitionRecord, error)
	ListHistory(ctx context.Context, filter HistoryFilter) ([]models.HistoricalEvent, error)

	// Deliveries
	MarkDelivery(ctx context.Context, id string, at time.Time) (bool, error)
	ForgetDelivery(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
