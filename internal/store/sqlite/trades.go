// Package sqlite persists the trades table: one row per pos_id, upserted on
// each major lifecycle transition so an external reconciliation process can
// diff broker state against it.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"exec-enginev1/internal/model"
)

// TradeStore reads and writes trade records in SQLite.
type TradeStore struct {
	mu sync.Mutex
	db *sql.DB
}

// New opens (or creates) the trades database.
func New(dbPath string) (*TradeStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		pos_id       TEXT NOT NULL UNIQUE,
		symbol       TEXT NOT NULL,
		direction    TEXT NOT NULL,
		qty          INTEGER NOT NULL,
		entry_price  REAL DEFAULT 0,
		exit_price   REAL DEFAULT 0,
		state        TEXT NOT NULL,
		opened_at    DATETIME NOT NULL,
		closed_at    DATETIME,
		close_reason TEXT,
		pnl          REAL DEFAULT 0,
		updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_state ON trades(state);
	CREATE INDEX IF NOT EXISTS idx_trades_opened_at ON trades(opened_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Printf("[sqlite] opened trade store at %s", dbPath)
	return &TradeStore{db: db}, nil
}

const upsertSQL = `
INSERT INTO trades (pos_id, symbol, direction, qty, entry_price, exit_price, state, opened_at, closed_at, close_reason, pnl, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(pos_id) DO UPDATE SET
	symbol = excluded.symbol,
	direction = excluded.direction,
	qty = excluded.qty,
	entry_price = excluded.entry_price,
	exit_price = excluded.exit_price,
	state = excluded.state,
	opened_at = excluded.opened_at,
	closed_at = excluded.closed_at,
	close_reason = excluded.close_reason,
	pnl = excluded.pnl,
	updated_at = CURRENT_TIMESTAMP`

// Insert upserts the record and returns the row id. A pos_id reused by the
// strategy layer after a close takes over the existing row.
func (s *TradeStore) Insert(rec model.TradeRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertLocked(rec); err != nil {
		return 0, err
	}
	var id int64
	if err := s.db.QueryRow(`SELECT id FROM trades WHERE pos_id = ?`, rec.PosID).Scan(&id); err != nil {
		return 0, fmt.Errorf("select id for %s: %w", rec.PosID, err)
	}
	return id, nil
}

// Update upserts the record on a lifecycle transition.
func (s *TradeStore) Update(rec model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(rec)
}

func (s *TradeStore) upsertLocked(rec model.TradeRecord) error {
	var closedAt interface{}
	if rec.ClosedAt != nil {
		closedAt = rec.ClosedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.Exec(upsertSQL,
		rec.PosID, rec.Symbol, string(rec.Direction), rec.Qty,
		rec.EntryPrice, rec.ExitPrice, string(rec.State),
		rec.OpenedAt.UTC().Format(time.RFC3339Nano), closedAt,
		rec.CloseReason, rec.PnL,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.PosID, err)
	}
	return nil
}

// GetByPosID returns the row for one trade identifier.
func (s *TradeStore) GetByPosID(posID string) (model.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRow(
		`SELECT id, pos_id, symbol, direction, qty, entry_price, exit_price, state, opened_at, closed_at, close_reason, pnl
		 FROM trades WHERE pos_id = ?`, posID)
	return scanTrade(row.Scan)
}

// GetTrades returns the last N trades, newest first.
func (s *TradeStore) GetTrades(limit int) ([]model.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(
		`SELECT id, pos_id, symbol, direction, qty, entry_price, exit_price, state, opened_at, closed_at, close_reason, pnl
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []model.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows.Scan)
		if err != nil {
			log.Printf("[sqlite] skipping unreadable trade row: %v", err)
			continue
		}
		trades = append(trades, rec)
	}
	return trades, rows.Err()
}

func scanTrade(scan func(dest ...interface{}) error) (model.TradeRecord, error) {
	var (
		rec         model.TradeRecord
		direction   string
		state       string
		openedAt    string
		closedAt    sql.NullString
		closeReason sql.NullString
	)
	err := scan(&rec.DBID, &rec.PosID, &rec.Symbol, &direction, &rec.Qty,
		&rec.EntryPrice, &rec.ExitPrice, &state, &openedAt, &closedAt, &closeReason, &rec.PnL)
	if err != nil {
		return rec, err
	}
	rec.Direction = model.Direction(direction)
	rec.State = model.TradeState(state)
	if t, err := time.Parse(time.RFC3339Nano, openedAt); err == nil {
		rec.OpenedAt = t
	}
	if closedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, closedAt.String); err == nil {
			rec.ClosedAt = &t
		}
	}
	rec.CloseReason = closeReason.String
	return rec, nil
}

// Close closes the underlying database.
func (s *TradeStore) Close() error {
	return s.db.Close()
}
