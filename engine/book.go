package engine

import (
	"math"

	"github.com/rustyeddy/livetrader/broker"
	"github.com/rustyeddy/livetrader/metrics"
	"github.com/shopspring/decimal"
)

// Book is the net position of one instrument. It is owned by a single
// engine and is not safe for concurrent use.
type Book struct {
	instrument string

	position decimal.Decimal // signed units, positive is long
	avgEntry decimal.Decimal
	realized decimal.Decimal
	lastMid  decimal.Decimal

	trades int64
	closes int64
	wins   int64
}

// BookSnapshot is a read-only copy of a Book.
type BookSnapshot struct {
	Instrument  string          `json:"instrument_id"`
	Position    decimal.Decimal `json:"position"`
	AvgEntry    decimal.Decimal `json:"avg_entry"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Exposure    decimal.Decimal `json:"exposure"`
	Trades      int64           `json:"trades"`
	Closes      int64           `json:"closes"`
	Wins        int64           `json:"wins"`
}

func NewBook(instrument string) *Book {
	return &Book{instrument: instrument}
}

// Mark records the latest mid price for exposure.
func (b *Book) Mark(mid float64) {
	if mid > 0 && !math.IsInf(mid, 0) && !math.IsNaN(mid) {
		b.lastMid = decimal.NewFromFloat(mid)
	}
}

func (b *Book) Open() bool { return !b.position.IsZero() }

func (b *Book) Position() float64 { return b.position.InexactFloat64() }

// Apply nets a fill into the position. Same-side fills average the entry;
// opposite-side fills realize (exit - avgEntry) x closed units x direction
// and may flip the position, in which case the new entry is the fill price.
func (b *Book) Apply(a broker.Ack) {
	dir := a.Action.Direction()
	if dir == 0 || a.FilledSize <= 0 {
		return
	}
	qty := decimal.NewFromFloat(a.FilledSize)
	price := decimal.NewFromFloat(a.FillPrice)
	signed := qty.Mul(decimal.NewFromInt(int64(dir)))

	b.trades++
	pos := b.position

	if pos.IsZero() || pos.Sign() == signed.Sign() {
		absPos := pos.Abs()
		b.avgEntry = b.avgEntry.Mul(absPos).Add(price.Mul(qty)).DivRound(absPos.Add(qty), 10)
		b.position = pos.Add(signed)
		return
	}

	closed := decimal.Min(pos.Abs(), qty)
	pnl := price.Sub(b.avgEntry).Mul(closed).Mul(decimal.NewFromInt(int64(pos.Sign())))
	b.realized = b.realized.Add(pnl)
	b.closes++
	if pnl.IsPositive() {
		b.wins++
	}

	b.position = pos.Add(signed)
	switch {
	case b.position.IsZero():
		b.avgEntry = decimal.Zero
	case b.position.Sign() != pos.Sign():
		b.avgEntry = price
	}
}

func (b *Book) Snapshot() BookSnapshot {
	return BookSnapshot{
		Instrument:  b.instrument,
		Position:    b.position,
		AvgEntry:    b.avgEntry,
		RealizedPnL: b.realized,
		Exposure:    b.position.Abs().Mul(b.lastMid),
		Trades:      b.trades,
		Closes:      b.closes,
		Wins:        b.wins,
	}
}

// WinRate is winning closes over all closes, 0 before the first close.
func (s BookSnapshot) WinRate() float64 {
	if s.Closes == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Closes)
}

func (s BookSnapshot) SymbolMetrics() metrics.SymbolMetrics {
	return metrics.SymbolMetrics{
		Instrument:    s.Instrument,
		TradeCount:    s.Trades,
		CumulativePnL: s.RealizedPnL,
		Exposure:      s.Exposure,
		WinRate:       s.WinRate(),
	}
}
