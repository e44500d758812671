package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/tracelink/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
// It also satisfies reconcile.Recorder.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Events ---

// RecordEvent appends a lifecycle event to the history.
func (s *SQLiteStore) RecordEvent(ctx context.Context, rec models.EventRecord) error {
	if rec.ID == "" {
		rec.ID = newULID()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	keys := rec.Keys
	if keys == nil {
		keys = []string{}
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encode keys: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, kind, pull_request_id, repository, branch_name, title, keys, occurred_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.PullRequestID, rec.Repository, rec.BranchName, rec.Title,
		string(data), rec.Timestamp.UTC(), rec.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// ListEvents returns recorded events ordered by occurrence.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter HistoryFilter) ([]models.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, pull_request_id, repository, branch_name, title, keys, occurred_at, recorded_at
		FROM events WHERE (? = '' OR repository = ?) ORDER BY occurred_at, id`,
		filter.Repository, filter.Repository)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []models.EventRecord
	for rows.Next() {
		var rec models.EventRecord
		var kind, keys string
		if err := rows.Scan(&rec.ID, &kind, &rec.PullRequestID, &rec.Repository, &rec.BranchName, &rec.Title, &keys, &rec.Timestamp, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Kind = models.EventKind(kind)
		if err := json.Unmarshal([]byte(keys), &rec.Keys); err != nil {
			return nil, fmt.Errorf("decode keys for event %s: %w", rec.ID, err)
		}
		if !filter.Since.IsZero() && rec.Timestamp.Before(filter.Since) {
			continue
		}
		events = append(events, rec)
	}
	return events, rows.Err()
}

// --- Transitions ---

// RecordTransition appends an observed issue state change to the history.
func (s *SQLiteStore) RecordTransition(ctx context.Context, rec models.TransitionRecord) error {
	if rec.ID == "" {
		rec.ID = newULID()
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (id, issue_key, pull_request_id, repository, state, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.IssueKey, rec.PullRequestID, rec.Repository, rec.State.String(), rec.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// ListTransitions returns recorded transitions ordered by occurrence.
func (s *SQLiteStore) ListTransitions(ctx context.Context, filter HistoryFilter) ([]models.TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, issue_key, pull_request_id, repository, state, occurred_at FROM transitions
		WHERE (? = '' OR repository = ?)
		ORDER BY occurred_at, id`,
		filter.Repository, filter.Repository)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.TransitionRecord
	for rows.Next() {
		var rec models.TransitionRecord
		var state string
		if err := rows.Scan(&rec.ID, &rec.IssueKey, &rec.PullRequestID, &rec.Repository, &state, &rec.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if rec.State, err = models.ParseTransitionState(state); err != nil {
			return nil, fmt.Errorf("transition %s: %w", rec.ID, err)
		}
		if !filter.Since.IsZero() && rec.At.Before(filter.Since) {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- History ---

// ListHistory merges events and transitions into one replayable stream
// ordered by time. Ties keep events ahead of transitions.
func (s *SQLiteStore) ListHistory(ctx context.Context, filter HistoryFilter) ([]models.HistoricalEvent, error) {
	events, err := s.ListEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	transitions, err := s.ListTransitions(ctx, filter)
	if err != nil {
		return nil, err
	}

	history := make([]models.HistoricalEvent, 0, len(events)+len(transitions))
	for _, ev := range events {
		history = append(history, models.HistoricalEvent{
			Type:          models.HistoryEvent,
			Kind:          ev.Kind,
			PullRequestID: ev.PullRequestID,
			Repository:    ev.Repository,
			Keys:          ev.Keys,
			At:            ev.Timestamp,
		})
	}
	for _, tr := range transitions {
		history = append(history, models.HistoricalEvent{
			Type:          models.HistoryTransition,
			State:         tr.State,
			PullRequestID: tr.PullRequestID,
			Repository:    tr.Repository,
			Keys:          []string{tr.IssueKey},
			At:            tr.At,
		})
	}
	slices.SortStableFunc(history, func(a, b models.HistoricalEvent) int {
		return a.At.Compare(b.At)
	})
	return history, nil
}

// --- Deliveries ---

// MarkDelivery records a webhook delivery ID. It reports false when the ID
// was already recorded.
func (s *SQLiteStore) MarkDelivery(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO deliveries (delivery_id, received_at) VALUES (?, ?)`, id, at.UTC())
	if err != nil {
		return false, fmt.Errorf("mark delivery: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// ForgetDelivery removes a delivery ID so a redelivery is processed again.
func (s *SQLiteStore) ForgetDelivery(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE delivery_id = ?`, id); err != nil {
		return fmt.Errorf("forget delivery: %w", err)
	}
	return nil
}

// PruneDeliveries removes delivery IDs received before cutoff.
func (s *SQLiteStore) PruneDeliveries(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE received_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return result.RowsAffected()
}
