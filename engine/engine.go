// Package engine runs the per-instrument tick pipeline. It is the only
// place orders are created.
//
// For every tick, in arrival order:
//
//	gate 1: kill switch checked before any decision work
//	decide: the instrument's Decider produces a Signal
//	gate 2: kill switch re-checked before an order may exist
//	order:  risk limits, then the send through the retry wrapper
//
// and exactly one TickRecord is emitted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/livetrader/breaker"
	"github.com/rustyeddy/livetrader/broker"
	"github.com/rustyeddy/livetrader/internal/id"
	"github.com/rustyeddy/livetrader/journal"
	"github.com/rustyeddy/livetrader/market"
	"github.com/rustyeddy/livetrader/metrics"
	"github.com/rustyeddy/livetrader/resilience"
	"github.com/rustyeddy/livetrader/risk"
	"github.com/rustyeddy/livetrader/strategies"
	"github.com/rustyeddy/livetrader/telemetry"
	"github.com/sirupsen/logrus"
)

const DefaultUnits = 1000

type Config struct {
	Instrument string
	// Units is the size of every order.
	Units  float64
	Limits risk.Limits
	Retry  resilience.Policy
	// LatencyBudget, if set, logs a warning for slower ticks.
	LatencyBudget time.Duration
}

type Deps struct {
	Breaker *breaker.Breaker
	Decider strategies.Decider
	// Gateway is usually a *broker.Exclusive shared with other engines.
	Gateway broker.Gateway

	Metrics   *metrics.Aggregator
	Telemetry *telemetry.Metrics
	Journal   journal.Journal
	Log       *logrus.Entry

	// OnRecord is called synchronously after each record is emitted.
	OnRecord func(TickRecord)
}

type Engine struct {
	cfg  Config
	deps Deps
	log  *logrus.Entry

	book *Book
	snap atomic.Pointer[BookSnapshot]
	seq  uint64

	ticks, orders, blocked, holds, errs atomic.Int64
}

func New(cfg Config, deps Deps) (*Engine, error) {
	switch {
	case cfg.Instrument == "":
		return nil, errors.New("engine: instrument is required")
	case deps.Breaker == nil:
		return nil, fmt.Errorf("engine %s: breaker is required", cfg.Instrument)
	case deps.Decider == nil:
		return nil, fmt.Errorf("engine %s: decider is required", cfg.Instrument)
	case deps.Gateway == nil:
		return nil, fmt.Errorf("engine %s: gateway is required", cfg.Instrument)
	case cfg.Units < 0:
		return nil, fmt.Errorf("engine %s: units must be >= 0", cfg.Instrument)
	}
	if cfg.Units == 0 {
		cfg.Units = DefaultUnits
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("engine %s: %w", cfg.Instrument, err)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("engine %s: %w", cfg.Instrument, err)
	}

	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	e := &Engine{
		cfg:  cfg,
		deps: deps,
		log:  log.WithFields(logrus.Fields{"component": "engine", "instrument_id": cfg.Instrument}),
		book: NewBook(cfg.Instrument),
	}
	snap := e.book.Snapshot()
	e.snap.Store(&snap)
	return e, nil
}

func (e *Engine) Instrument() string { return e.cfg.Instrument }

// Run consumes src until it is exhausted or ctx is cancelled, both of which
// return nil. An unparseable row becomes an ERROR record and the loop goes
// on; only a failing source ends Run with an error. Cancellation is observed
// between ticks, never inside one.
func (e *Engine) Run(ctx context.Context, src market.TickSource) error {
	e.log.Info("engine started")
	defer e.log.WithField("stats", e.Stats()).Info("engine stopped")

	e.publish()
	for {
		if ctx.Err() != nil {
			return nil
		}
		tick, err := src.Next(ctx)
		switch {
		case err == nil:
			e.ProcessTick(ctx, tick)
		case errors.Is(err, io.EOF) || ctx.Err() != nil:
			return nil
		case errors.Is(err, market.ErrBadRow):
			e.rejectRow(err)
		default:
			return fmt.Errorf("engine %s: feed: %w", e.cfg.Instrument, err)
		}
	}
}

// ProcessTick runs one tick through the pipeline and returns its record.
// Run calls it for every tick; it is exported for callers that drive ticks
// themselves. It must not be called concurrently.
func (e *Engine) ProcessTick(ctx context.Context, tick market.Tick) TickRecord {
	start := time.Now()
	e.seq++

	rec := TickRecord{
		Timestamp:  tick.Time,
		Instrument: e.cfg.Instrument,
		TickID:     e.cfg.Instrument + "-" + strconv.FormatUint(e.seq, 10),
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = start.UTC()
	}

	e.step(ctx, tick, &rec)
	e.emit(&rec, start)
	return rec
}

// rejectRow records a feed row that never became a tick.
func (e *Engine) rejectRow(err error) {
	start := time.Now()
	e.seq++
	rec := TickRecord{
		Timestamp:  start.UTC(),
		Instrument: e.cfg.Instrument,
		TickID:     e.cfg.Instrument + "-" + strconv.FormatUint(e.seq, 10),
		Action:     ActionError,
		Reason:     err.Error(),
	}
	e.emit(&rec, start)
}

func (e *Engine) step(ctx context.Context, tick market.Tick, rec *TickRecord) {
	if !e.deps.Breaker.IsSafe() {
		rec.Action, rec.Reason = ActionBlocked, ReasonEngaged
		return
	}

	if tick.Instrument == "" {
		tick.Instrument = e.cfg.Instrument
	}
	if tick.Instrument != e.cfg.Instrument {
		rec.Action = ActionError
		rec.Reason = fmt.Sprintf("tick for %s routed to %s engine", tick.Instrument, e.cfg.Instrument)
		return
	}
	if err := tick.Validate(); err != nil {
		rec.Action, rec.Reason = ActionError, err.Error()
		return
	}
	e.deps.Telemetry.ObserveSpread(e.cfg.Instrument, tick.SpreadPips())

	sig, err := e.decide(ctx, tick)
	if err != nil {
		rec.Action, rec.Reason = ActionError, err.Error()
		e.log.WithError(err).WithFields(logrus.Fields{
			"tick_id": rec.TickID,
			"tick":    tick,
		}).Error("decision failed")
		return
	}

	if !e.deps.Breaker.IsSafe() {
		rec.Action, rec.Reason = ActionBlocked, ReasonEngagedDuringSignal
		return
	}

	e.book.Mark(tick.Mid())
	defer func() {
		if e.book.Open() {
			e.publish()
		}
	}()

	if !sig.Actionable() {
		rec.Action = ActionHold
		return
	}

	units := e.cfg.Units * float64(sig.Action.Direction())
	if d := e.cfg.Limits.Evaluate(units, e.book.Position()); !d.Allowed {
		rec.Action, rec.Reason = ActionBlocked, "risk: "+d.Reason()
		return
	}

	order := broker.Order{
		ID:         id.New(),
		Instrument: e.cfg.Instrument,
		Action:     sig.Action,
		EntryPrice: tick.Ask,
		Size:       e.cfg.Units,
		CreatedAt:  time.Now().UTC(),
	}
	if sig.Action == market.Sell {
		order.EntryPrice = tick.Bid
	}
	rec.Order = &order

	ack, err := e.send(ctx, order)
	if errors.Is(err, broker.ErrHalted) {
		rec.Action, rec.Reason, rec.Order = ActionBlocked, ReasonEngagedBeforeSend, nil
		return
	}
	if err != nil {
		rec.Action, rec.Reason = ActionError, "send failed: "+err.Error()
		return
	}

	e.book.Apply(ack)
	e.publish()
	rec.Action = ActionOrder

	e.deps.Telemetry.ObserveOrder(e.cfg.Instrument, string(order.Action))
	if e.deps.Journal != nil {
		if err := e.deps.Journal.RecordOrder(orderRecord(order, ack)); err != nil {
			e.log.WithError(err).WithField("order_id", order.ID).Warn("journal order write failed")
		}
	}
}

// decide calls the Decider, turning a panic into an error.
func (e *Engine) decide(ctx context.Context, tick market.Tick) (sig market.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decider panic: %v", r)
		}
	}()
	return e.deps.Decider.Decide(ctx, tick)
}

// send runs detached from ctx cancellation so a stopping engine finishes
// the exchange in flight; the retry policy timeout still bounds it. Every
// attempt re-checks the kill switch, so a retry never goes out after it
// engaged.
func (e *Engine) send(ctx context.Context, o broker.Order) (broker.Ack, error) {
	p := e.cfg.Retry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		e.deps.Telemetry.ObserveRetry(e.cfg.Instrument)
		e.log.WithError(err).WithFields(logrus.Fields{
			"order_id": o.ID,
			"attempt":  attempt,
			"delay":    delay.String(),
		}).Warn("send failed, retrying")
	}
	return resilience.Call(context.WithoutCancel(ctx), p, func(ctx context.Context) (broker.Ack, error) {
		if !e.deps.Breaker.IsSafe() {
			return broker.Ack{}, resilience.Permanent(broker.ErrHalted)
		}
		return e.deps.Gateway.Send(ctx, o)
	})
}

func (e *Engine) publish() {
	snap := e.book.Snapshot()
	e.snap.Store(&snap)
	if e.deps.Metrics == nil {
		return
	}
	if err := e.deps.Metrics.ReplaceSnapshot(snap.SymbolMetrics()); err != nil {
		e.log.WithError(err).Error("metrics snapshot rejected")
	}
}

func (e *Engine) emit(rec *TickRecord, start time.Time) {
	latency := time.Since(start)
	rec.LatencyMS = float64(latency.Nanoseconds()) / 1e6

	e.ticks.Add(1)
	switch rec.Action {
	case ActionOrder:
		e.orders.Add(1)
	case ActionBlocked:
		e.blocked.Add(1)
	case ActionHold:
		e.holds.Add(1)
	case ActionError:
		e.errs.Add(1)
	}

	e.deps.Telemetry.ObserveTick(rec.Instrument, string(rec.Action), latency)

	entry := e.log.WithFields(logrus.Fields{
		"tick_id":    rec.TickID,
		"action":     rec.Action,
		"latency_ms": rec.LatencyMS,
	})
	if rec.Reason != "" {
		entry = entry.WithField("reason", rec.Reason)
	}
	if rec.Order != nil {
		entry = entry.WithField("order", rec.Order)
	}
	over := e.cfg.LatencyBudget > 0 && latency > e.cfg.LatencyBudget
	if e.cfg.LatencyBudget > 0 {
		entry = entry.WithFields(logrus.Fields{
			"budget_ms":   float64(e.cfg.LatencyBudget.Nanoseconds()) / 1e6,
			"over_budget": over,
		})
	}

	// One log record per tick; the level carries the severity.
	level := logrus.DebugLevel
	switch {
	case rec.Action == ActionError:
		level = logrus.ErrorLevel
	case rec.Action == ActionBlocked || over:
		level = logrus.WarnLevel
	case rec.Action == ActionOrder:
		level = logrus.InfoLevel
	}
	entry.Log(level, "tick")

	if e.deps.Journal != nil {
		if err := e.deps.Journal.RecordTick(rec.journalEvent()); err != nil {
			e.log.WithError(err).WithField("tick_id", rec.TickID).Warn("journal tick write failed")
		}
	}
	if e.deps.OnRecord != nil {
		e.deps.OnRecord(*rec)
	}
}

func (e *Engine) Stats() Stats {
	return Stats{
		Ticks:   e.ticks.Load(),
		Orders:  e.orders.Load(),
		Blocked: e.blocked.Load(),
		Holds:   e.holds.Load(),
		Errors:  e.errs.Load(),
	}
}

// Book returns the latest published position snapshot. Safe to call from
// any goroutine.
func (e *Engine) Book() BookSnapshot {
	return *e.snap.Load()
}
