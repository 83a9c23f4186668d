// Package metrics aggregates per-instrument position and profit state
// across all engines of a process.
package metrics

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMixedUpdateModes is returned when an instrument pinned to one update
// mode receives an update in the other. The record is left untouched.
var ErrMixedUpdateModes = errors.New("metrics: mixed update modes for instrument")

type Mode int

const (
	ModeUnset Mode = iota
	ModeDelta
	ModeSnapshot
)

func (m Mode) String() string {
	switch m {
	case ModeDelta:
		return "delta"
	case ModeSnapshot:
		return "snapshot"
	default:
		return "unset"
	}
}

type SymbolMetrics struct {
	Instrument    string          `json:"instrument_id"`
	TradeCount    int64           `json:"trade_count"`
	CumulativePnL decimal.Decimal `json:"cumulative_pnl"`
	Exposure      decimal.Decimal `json:"exposure"`
	WinRate       float64         `json:"win_rate"`
}

// Delta is an incremental update: Trades and PnL are added, Exposure and
// WinRate replace the current values.
type Delta struct {
	Trades   int64
	PnL      decimal.Decimal
	Exposure decimal.Decimal
	WinRate  float64
}

type AggregateReport struct {
	Instruments    int             `json:"instruments"`
	TotalTrades    int64           `json:"total_trades"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	TotalExposure  decimal.Decimal `json:"total_exposure"`
	AverageWinRate float64         `json:"average_win_rate"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// Aggregator is safe for concurrent use. All state lives behind one mutex
// and every critical section is a pure in-memory update.
type Aggregator struct {
	mu      sync.Mutex
	records map[string]SymbolMetrics
	modes   map[string]Mode
	now     func() time.Time
}

func New() *Aggregator {
	return &Aggregator{
		records: make(map[string]SymbolMetrics),
		modes:   make(map[string]Mode),
		now:     time.Now,
	}
}

// pin must be called with mu held.
func (a *Aggregator) pin(instrument string, m Mode) error {
	switch cur := a.modes[instrument]; cur {
	case ModeUnset:
		a.modes[instrument] = m
		return nil
	case m:
		return nil
	default:
		return fmt.Errorf("%w: %s is pinned to %s, got %s", ErrMixedUpdateModes, instrument, cur, m)
	}
}

func (a *Aggregator) RecordDelta(instrument string, d Delta) error {
	if instrument == "" {
		return errors.New("metrics: empty instrument")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.pin(instrument, ModeDelta); err != nil {
		return err
	}
	rec := a.records[instrument]
	rec.Instrument = instrument
	rec.TradeCount += d.Trades
	rec.CumulativePnL = rec.CumulativePnL.Add(d.PnL)
	rec.Exposure = d.Exposure
	rec.WinRate = d.WinRate
	a.records[instrument] = rec
	return nil
}

func (a *Aggregator) ReplaceSnapshot(m SymbolMetrics) error {
	if m.Instrument == "" {
		return errors.New("metrics: empty instrument")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.pin(m.Instrument, ModeSnapshot); err != nil {
		return err
	}
	a.records[m.Instrument] = m
	return nil
}

// Reset drops an instrument's record and its pinned mode.
func (a *Aggregator) Reset(instrument string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, instrument)
	delete(a.modes, instrument)
}

// Status returns a copy of every record. Decimal values are immutable, so
// copying the structs is enough.
func (a *Aggregator) Status() map[string]SymbolMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]SymbolMetrics, len(a.records))
	for k, v := range a.records {
		out[k] = v
	}
	return out
}

// Instruments lists the tracked instruments in sorted order.
func (a *Aggregator) Instruments() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.records))
	for k := range a.records {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Report sums every record. It is recomputed on each call.
func (a *Aggregator) Report() AggregateReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := AggregateReport{
		Instruments:   len(a.records),
		TotalPnL:      decimal.Zero,
		TotalExposure: decimal.Zero,
		GeneratedAt:   a.now(),
	}
	var winSum float64
	for _, rec := range a.records {
		r.TotalTrades += rec.TradeCount
		r.TotalPnL = r.TotalPnL.Add(rec.CumulativePnL)
		r.TotalExposure = r.TotalExposure.Add(rec.Exposure)
		winSum += rec.WinRate
	}
	if r.Instruments > 0 {
		r.AverageWinRate = winSum / float64(r.Instruments)
	}
	return r
}
