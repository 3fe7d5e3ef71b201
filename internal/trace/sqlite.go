package trace

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/atomsched/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a
// Store. Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode so list queries don't stall the event writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "trace"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// AppendEvents writes the batch inside one transaction.
func (s *SQLiteStore) AppendEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.logger.Debug("sql", "op", "insert", "table", "events", "batch", len(events))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (ts, kind, atom_id, connection_id, slot, priority, result, latency_ns, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.Time.Format(time.RFC3339Nano), string(ev.Kind), ev.AtomID, ev.ConnectionID,
			ev.Slot, string(ev.Priority), ev.Result, int64(ev.Latency), ev.Detail,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

// ListEvents returns events in insertion order with the total matching count.
func (s *SQLiteStore) ListEvents(ctx context.Context, opts model.ListOptions) ([]model.Event, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "events", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	// Build WHERE clause dynamically based on filters.
	var whereClauses []string
	var countArgs []any

	if opts.Kind != "" {
		whereClauses = append(whereClauses, "kind = ?")
		countArgs = append(countArgs, opts.Kind)
	}
	if opts.AtomID != 0 {
		whereClauses = append(whereClauses, "atom_id = ?")
		countArgs = append(countArgs, opts.AtomID)
	}
	if opts.ConnectionID != "" {
		whereClauses = append(whereClauses, "connection_id = ?")
		countArgs = append(countArgs, opts.ConnectionID)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	// Count query.
	var total int
	countQuery := `SELECT COUNT(*) FROM events` + whereSQL
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// List query with pagination. Traces read forward, so order ascending.
	listQuery := `SELECT ts, kind, atom_id, connection_id, slot, priority, result, latency_ns, detail
		FROM events` + whereSQL + ` ORDER BY id ASC LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var ts, kind, priority string
		var latencyNS int64

		if err := rows.Scan(&ts, &kind, &ev.AtomID, &ev.ConnectionID,
			&ev.Slot, &priority, &ev.Result, &latencyNS, &ev.Detail); err != nil {
			return nil, 0, err
		}
		ev.Time, _ = time.Parse(time.RFC3339Nano, ts)
		ev.Kind = model.EventKind(kind)
		ev.Priority = model.Priority(priority)
		ev.Latency = time.Duration(latencyNS)

		events = append(events, ev)
	}
	return events, total, rows.Err()
}

// Summarize returns event counts grouped by kind.
func (s *SQLiteStore) Summarize(ctx context.Context) (map[model.EventKind]int, error) {
	s.logger.Debug("sql", "op", "summarize", "table", "events")

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.EventKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[model.EventKind(kind)] = n
	}
	return counts, rows.Err()
}
