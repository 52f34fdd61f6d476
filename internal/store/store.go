// Package store keeps an audit ledger of batch submissions and outcomes.
// The queue and pending files remain the source of truth; the ledger is
// read by the status command and the status API.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/config"
)

// EventKind names a step in a batch's life.
type EventKind string

const (
	EventSubmitted EventKind = "submitted"
	EventSplit     EventKind = "split"
	EventContinued EventKind = "continued"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventMerged    EventKind = "merged"
)

// Event is one ledger entry.
type Event struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batch_id"`
	InputFile string    `json:"input_file"`
	Kind      EventKind `json:"kind"`
	Requests  int       `json:"requests"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	BatchID   string    `json:"batch_id,omitempty"`
	InputFile string    `json:"input_file,omitempty"`
	Kind      EventKind `json:"kind,omitempty"`

	// CreatedAfter keeps events recorded at or after this time.
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
}

// Ledger defines the persistence interface for batch events.
type Ledger interface {
	RecordEvent(ctx context.Context, ev Event) (*Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// Open returns the ledger selected by cfg, migrated and ready. Driver
// "none" (or empty) yields a ledger that records nothing.
func Open(ctx context.Context, cfg config.StoreConfig) (Ledger, error) {
	var (
		l   Ledger
		err error
	)
	switch cfg.Driver {
	case "", "none":
		return Nop{}, nil
	case "sqlite":
		l, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		l, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// Record writes ev and logs instead of failing: a ledger outage never
// stops tagging.
func Record(ctx context.Context, l Ledger, ev Event) {
	if l == nil {
		return
	}
	if _, err := l.RecordEvent(ctx, ev); err != nil {
		zap.L().Warn("store: record event failed",
			zap.String("batch_id", ev.BatchID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
	}
}

// Nop is a ledger that keeps nothing.
type Nop struct{}

func (Nop) RecordEvent(_ context.Context, ev Event) (*Event, error) { return &ev, nil }

func (Nop) ListEvents(context.Context, EventFilter) ([]Event, error) { return nil, nil }

func (Nop) Migrate(context.Context) error { return nil }

func (Nop) Close() error { return nil }

func limitOf(f EventFilter) int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}
