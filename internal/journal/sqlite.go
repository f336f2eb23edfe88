// Package journal keeps an append-only SQLite audit trail of orders and
// fills.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ducminhle1904/hft-trading-engine/internal/engine"
	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/position"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	started_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
	session_id  TEXT NOT NULL,
	order_id    INTEGER NOT NULL,
	instrument  TEXT NOT NULL,
	side        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	quantity    REAL NOT NULL,
	price       REAL NOT NULL,
	status      TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	broker_ref  TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	fill_price  REAL NOT NULL DEFAULT 0,
	latency_ms  REAL NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (session_id, order_id)
);
CREATE TABLE IF NOT EXISTS order_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	order_id   INTEGER NOT NULL,
	status     TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	at         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS fills (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     TEXT NOT NULL,
	order_id       INTEGER NOT NULL,
	strategy       TEXT NOT NULL,
	instrument     TEXT NOT NULL,
	side           TEXT NOT NULL,
	quantity       REAL NOT NULL,
	price          REAL NOT NULL,
	realized       REAL NOT NULL,
	closed_qty     REAL NOT NULL,
	position_after REAL NOT NULL,
	at             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_session ON fills(session_id);
CREATE INDEX IF NOT EXISTS idx_events_order ON order_events(session_id, order_id);
`

// Store writes one session's orders and fills. It implements engine.Journal.
type Store struct {
	db      *sql.DB
	session string
	log     *logger.Logger
}

var _ engine.Journal = (*Store)(nil)

// FillRecord is a journaled fill.
type FillRecord struct {
	OrderID       uint64
	Strategy      string
	Instrument    string
	Side          types.Side
	Quantity      float64
	Price         float64
	Realized      float64
	ClosedQty     float64
	PositionAfter float64
	At            time.Time
}

// OrderEvent is one journaled status transition.
type OrderEvent struct {
	OrderID uint64
	Status  order.Status
	Reason  string
	At      time.Time
}

// Open opens or creates the journal at path and starts a new session.
func Open(ctx context.Context, path, mode string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	s := &Store{db: db, session: uuid.NewString(), log: log.Component("journal")}
	if _, err := db.ExecContext(ctx, `INSERT INTO sessions (id, mode, started_at) VALUES (?, ?, ?)`,
		s.session, mode, stamp(time.Now())); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("journal session %s opened at %s", s.session, path)
	return s, nil
}

// Session returns the id every record of this store is written under.
func (s *Store) Session() string {
	return s.session
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RecordOrder upserts the order's latest state and appends the transition.
func (s *Store) RecordOrder(ctx context.Context, o order.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	updated := o.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (session_id, order_id, instrument, side, kind, quantity, price, status,
			strategy, broker_ref, reason, fill_price, latency_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, order_id) DO UPDATE SET
			status = excluded.status,
			broker_ref = excluded.broker_ref,
			reason = excluded.reason,
			fill_price = excluded.fill_price,
			latency_ms = excluded.latency_ms,
			price = excluded.price,
			quantity = excluded.quantity,
			updated_at = excluded.updated_at`,
		s.session, int64(o.ID), o.Instrument, string(o.Side), string(o.Kind), o.Quantity, o.Price, string(o.Status),
		o.StrategyRef, o.BrokerRef, o.Reason, o.FillPrice, o.LatencyMs, stamp(o.CreatedAt), stamp(updated)); err != nil {
		return fmt.Errorf("upsert order %d: %w", o.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_events (session_id, order_id, status, reason, at) VALUES (?, ?, ?, ?, ?)`,
		s.session, int64(o.ID), string(o.Status), o.Reason, stamp(updated)); err != nil {
		return fmt.Errorf("append order event %d: %w", o.ID, err)
	}
	return tx.Commit()
}

// RecordFill appends a fill and the position it left behind.
func (s *Store) RecordFill(ctx context.Context, o order.Order, res position.FillResult) error {
	at := o.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (session_id, order_id, strategy, instrument, side, quantity, price, realized,
			closed_qty, position_after, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.session, int64(o.ID), o.StrategyRef, o.Instrument, string(o.Side), o.Quantity, o.FillPrice,
		res.Realized, res.ClosedQuantity, res.Position.Quantity, stamp(at))
	if err != nil {
		return fmt.Errorf("insert fill %d: %w", o.ID, err)
	}
	return nil
}

// Orders returns the latest state of every order of a session.
func (s *Store) Orders(ctx context.Context, session string) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, instrument, side, kind, quantity, price, status, strategy, broker_ref, reason,
			fill_price, latency_ms, created_at, updated_at
		FROM orders WHERE session_id = ? ORDER BY order_id`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		var (
			o                  order.Order
			id                 int64
			side, kind, status string
			created, updated   string
		)
		if err := rows.Scan(&id, &o.Instrument, &side, &kind, &o.Quantity, &o.Price, &status, &o.StrategyRef,
			&o.BrokerRef, &o.Reason, &o.FillPrice, &o.LatencyMs, &created, &updated); err != nil {
			return nil, err
		}
		o.ID = uint64(id)
		o.Side = types.Side(side)
		o.Kind = types.OrderKind(kind)
		o.Status = order.Status(status)
		o.CreatedAt = parseStamp(created)
		o.UpdatedAt = parseStamp(updated)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Events returns the status history of one order.
func (s *Store) Events(ctx context.Context, session string, orderID uint64) ([]OrderEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, reason, at FROM order_events
		WHERE session_id = ? AND order_id = ? ORDER BY id`, session, int64(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderEvent
	for rows.Next() {
		var status, at string
		ev := OrderEvent{OrderID: orderID}
		if err := rows.Scan(&status, &ev.Reason, &at); err != nil {
			return nil, err
		}
		ev.Status = order.Status(status)
		ev.At = parseStamp(at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Fills returns the fills of a session in journal order.
func (s *Store) Fills(ctx context.Context, session string) ([]FillRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, strategy, instrument, side, quantity, price, realized, closed_qty, position_after, at
		FROM fills WHERE session_id = ? ORDER BY id`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		var (
			f        FillRecord
			id       int64
			side, at string
		)
		if err := rows.Scan(&id, &f.Strategy, &f.Instrument, &side, &f.Quantity, &f.Price, &f.Realized,
			&f.ClosedQty, &f.PositionAfter, &at); err != nil {
			return nil, err
		}
		f.OrderID = uint64(id)
		f.Side = types.Side(side)
		f.At = parseStamp(at)
		out = append(out, f)
	}
	return out, rows.Err()
}

// RealizedPnL sums the realized P&L of a session's fills.
func (s *Store) RealizedPnL(ctx context.Context, session string) (float64, error) {
	var total sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(realized) FROM fills WHERE session_id = ?`, session).Scan(&total); err != nil {
		return 0, err
	}
	return total.Float64, nil
}

// Sessions lists session ids, newest first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
