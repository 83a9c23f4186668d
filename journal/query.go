package journal

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetOrder returns a single order record by ID.
func (j *SQLite) GetOrder(orderID string) (OrderRecord, error) {
	var rec OrderRecord

	row := j.db.QueryRow(`
		SELECT order_id, instrument, action, entry_price, size, created_at, fill_price, filled_size, acked_at
		FROM orders
		WHERE order_id = ?`, orderID)

	err := row.Scan(
		&rec.OrderID,
		&rec.Instrument,
		&rec.Action,
		&rec.EntryPrice,
		&rec.Size,
		&rec.CreatedAt,
		&rec.FillPrice,
		&rec.FilledSize,
		&rec.AckedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OrderRecord{}, fmt.Errorf("order %q not found", orderID)
		}
		return OrderRecord{}, err
	}
	return rec, nil
}

// ListTicks returns the tick events of one instrument in arrival order.
func (j *SQLite) ListTicks(instrument string) ([]TickEvent, error) {
	rows, err := j.db.Query(`
		SELECT timestamp, tick_id, instrument, action, reason, order_id, latency_ms
		FROM tick_events
		WHERE instrument = ?
		ORDER BY id ASC`, instrument)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickEvent
	for rows.Next() {
		var e TickEvent
		if err := rows.Scan(
			&e.Timestamp,
			&e.TickID,
			&e.Instrument,
			&e.Action,
			&e.Reason,
			&e.OrderID,
			&e.LatencyMS,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ActionCounts tallies tick events by action across all instruments.
func (j *SQLite) ActionCounts() (map[string]int, error) {
	rows, err := j.db.Query(`SELECT action, COUNT(*) FROM tick_events GROUP BY action`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		out[action] = n
	}
	return out, rows.Err()
}
