// Package trace persists the scheduler's event stream. The Recorder takes
// events off the dispatch goroutine without blocking it; the Store writes
// them to SQLite and answers queries from the API and CLI.
package trace

import (
	"context"

	"github.com/me/atomsched/pkg/model"
)

// Store is the persistence interface for trace events.
type Store interface {
	// AppendEvents writes a batch of events in one transaction.
	AppendEvents(ctx context.Context, events []model.Event) error

	// ListEvents returns events in insertion order, honoring the filter and
	// pagination in opts, plus the total count matching the filter.
	ListEvents(ctx context.Context, opts model.ListOptions) ([]model.Event, int, error)

	// Summarize returns event counts grouped by kind.
	Summarize(ctx context.Context) (map[model.EventKind]int, error)

	// Migrate creates all required tables and indexes.
	Migrate(ctx context.Context) error

	// Close releases the underlying database.
	Close() error
}
