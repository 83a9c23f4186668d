// Package sim provides an in-process execution venue for drills and tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/livetrader/broker"
	"github.com/rustyeddy/livetrader/resilience"
)

var (
	ErrVenueUnavailable = errors.New("sim venue unavailable")
	ErrRejected         = errors.New("order rejected")
)

// Gateway fills every valid order immediately at its entry price.
type Gateway struct {
	latency time.Duration
	now     func() time.Time
	reject  func(broker.Order) error

	mu       sync.Mutex
	failNext int
	attempts int
	fills    []broker.Ack
}

type Option func(*Gateway)

// WithLatency delays every send, simulating a round trip.
func WithLatency(d time.Duration) Option {
	return func(g *Gateway) { g.latency = d }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithRejects installs a venue-side check; a non-nil result rejects the
// order permanently.
func WithRejects(fn func(broker.Order) error) Option {
	return func(g *Gateway) { g.reject = fn }
}

func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FailNext makes the next n sends fail with a transient error.
func (g *Gateway) FailNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = n
}

func (g *Gateway) Send(ctx context.Context, o broker.Order) (broker.Ack, error) {
	if err := o.Validate(); err != nil {
		return broker.Ack{}, resilience.Permanent(fmt.Errorf("%w: %w", ErrRejected, err))
	}

	if g.latency > 0 {
		t := time.NewTimer(g.latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return broker.Ack{}, ctx.Err()
		case <-t.C:
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts++

	if g.failNext > 0 {
		g.failNext--
		return broker.Ack{}, resilience.Transient(fmt.Errorf("send %s: %w", o.ID, ErrVenueUnavailable))
	}
	if g.reject != nil {
		if err := g.reject(o); err != nil {
			return broker.Ack{}, resilience.Permanent(fmt.Errorf("%w: %w", ErrRejected, err))
		}
	}

	ack := broker.Ack{
		OrderID:    o.ID,
		Instrument: o.Instrument,
		Action:     o.Action,
		FillPrice:  o.EntryPrice,
		FilledSize: o.Size,
		AckedAt:    g.now(),
	}
	g.fills = append(g.fills, ack)
	return ack, nil
}

// Fills returns a copy of every acknowledged order, in fill order.
func (g *Gateway) Fills() []broker.Ack {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]broker.Ack(nil), g.fills...)
}

// FillsFor returns the fills of one instrument.
func (g *Gateway) FillsFor(instrument string) []broker.Ack {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []broker.Ack
	for _, f := range g.fills {
		if f.Instrument == instrument {
			out = append(out, f)
		}
	}
	return out
}

// Attempts counts every send that reached the venue, failed or not.
func (g *Gateway) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}
