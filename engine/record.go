package engine

import (
	"time"

	"github.com/rustyeddy/livetrader/broker"
	"github.com/rustyeddy/livetrader/journal"
)

// Action is the outcome of one tick.
type Action string

const (
	ActionBlocked Action = "BLOCKED"
	ActionOrder   Action = "ORDER_GENERATED"
	ActionHold    Action = "HOLD"
	ActionError   Action = "ERROR"
)

const (
	ReasonEngaged             = "kill switch engaged"
	ReasonEngagedDuringSignal = "kill switch engaged during signal generation"
	ReasonEngagedBeforeSend   = "kill switch engaged before send"
)

// TickRecord is emitted exactly once per tick.
type TickRecord struct {
	Timestamp  time.Time     `json:"timestamp"`
	Instrument string        `json:"instrument_id"`
	TickID     string        `json:"tick_id"`
	Action     Action        `json:"action"`
	Reason     string        `json:"reason,omitempty"`
	Order      *broker.Order `json:"order,omitempty"`
	LatencyMS  float64       `json:"latency_ms"`
}

func (r TickRecord) journalEvent() journal.TickEvent {
	ev := journal.TickEvent{
		Timestamp:  r.Timestamp,
		TickID:     r.TickID,
		Instrument: r.Instrument,
		Action:     string(r.Action),
		Reason:     r.Reason,
		LatencyMS:  r.LatencyMS,
	}
	if r.Order != nil {
		ev.OrderID = r.Order.ID
	}
	return ev
}

func orderRecord(o broker.Order, a broker.Ack) journal.OrderRecord {
	return journal.OrderRecord{
		OrderID:    o.ID,
		Instrument: o.Instrument,
		Action:     string(o.Action),
		EntryPrice: o.EntryPrice,
		Size:       o.Size,
		CreatedAt:  o.CreatedAt,
		FillPrice:  a.FillPrice,
		FilledSize: a.FilledSize,
		AckedAt:    a.AckedAt,
	}
}

// Stats are cumulative per-engine counters.
type Stats struct {
	Ticks   int64 `json:"ticks"`
	Orders  int64 `json:"orders"`
	Blocked int64 `json:"blocked"`
	Holds   int64 `json:"holds"`
	Errors  int64 `json:"errors"`
}
