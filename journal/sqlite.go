package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// One writer; engines queue on the pool instead of on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTick(e TickEvent) error {
	_, err := j.db.Exec(`
		INSERT INTO tick_events
		(timestamp, tick_id, instrument, action, reason, order_id, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.TickID, e.Instrument, e.Action, e.Reason, e.OrderID, e.LatencyMS,
	)
	return err
}

func (j *SQLite) RecordOrder(o OrderRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO orders
		(order_id, instrument, action, entry_price, size, created_at, fill_price, filled_size, acked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.Instrument, o.Action, o.EntryPrice, o.Size, o.CreatedAt,
		o.FillPrice, o.FilledSize, o.AckedAt,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
