// Package journal persists the per-tick event stream and every sent order.
package journal

import (
	"fmt"
	"strings"
	"time"
)

// TickEvent is the durable form of one engine tick record.
type TickEvent struct {
	Timestamp  time.Time
	TickID     string
	Instrument string
	Action     string
	Reason     string
	OrderID    string
	LatencyMS  float64
}

// OrderRecord is an order together with its acknowledgement.
type OrderRecord struct {
	OrderID    string
	Instrument string
	Action     string
	EntryPrice float64
	Size       float64
	CreatedAt  time.Time

	FillPrice  float64
	FilledSize float64
	AckedAt    time.Time
}

// Journal implementations must be safe for concurrent use: every engine
// of an orchestrator writes to the same one.
type Journal interface {
	RecordTick(TickEvent) error
	RecordOrder(OrderRecord) error
	Close() error
}

type Config struct {
	// Type is "sqlite", "csv" or "none".
	Type       string `json:"type" yaml:"type"`
	DBPath     string `json:"db_path" yaml:"db_path"`
	TicksFile  string `json:"ticks_file" yaml:"ticks_file"`
	OrdersFile string `json:"orders_file" yaml:"orders_file"`
}

// Open builds the configured journal. It returns (nil, nil) for "none".
func Open(cfg Config) (Journal, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "none":
		return nil, nil
	case "sqlite":
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("journal: sqlite requires db_path")
		}
		return NewSQLite(cfg.DBPath)
	case "csv":
		if cfg.TicksFile == "" || cfg.OrdersFile == "" {
			return nil, fmt.Errorf("journal: csv requires ticks_file and orders_file")
		}
		return NewCSV(cfg.TicksFile, cfg.OrdersFile)
	default:
		return nil, fmt.Errorf("journal: unknown type %q (supported: sqlite, csv, none)", cfg.Type)
	}
}
