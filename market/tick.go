package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Tick is one unit of market data for one instrument.
type Tick struct {
	Instrument string    `json:"instrument_id"`
	Time       time.Time `json:"timestamp"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Volume     float64   `json:"volume"`
}

func (t Tick) Mid() float64 {
	if t.Bid == 0 && t.Ask == 0 {
		return 0
	}
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// SpreadPips is the spread in pips of the tick's instrument.
func (t Tick) SpreadPips() float64 {
	return t.Spread() / PipSizeFor(t.Instrument)
}

// Validate rejects ticks no decision should ever be made on.
func (t Tick) Validate() error {
	switch {
	case t.Instrument == "":
		return errors.New("tick: instrument is required")
	case t.Bid <= 0 || t.Ask <= 0:
		return fmt.Errorf("tick %s: bid/ask must be positive (bid=%v ask=%v)", t.Instrument, t.Bid, t.Ask)
	case t.Ask < t.Bid:
		return fmt.Errorf("tick %s: crossed book (bid=%v ask=%v)", t.Instrument, t.Bid, t.Ask)
	}
	return nil
}

// TickSource is a lazy, possibly infinite and non-restartable sequence of ticks.
//
// Next blocks until the next tick is available. It returns io.EOF once the
// sequence is exhausted and ctx.Err() if ctx is cancelled while waiting.
type TickSource interface {
	Next(ctx context.Context) (Tick, error)
}

// SliceSource replays a fixed set of ticks once. Not safe for concurrent use.
type SliceSource struct {
	ticks []Tick
	pos   int
}

func NewSliceSource(ticks ...Tick) *SliceSource {
	return &SliceSource{ticks: ticks}
}

func (s *SliceSource) Next(ctx context.Context) (Tick, error) {
	if err := ctx.Err(); err != nil {
		return Tick{}, err
	}
	if s.pos >= len(s.ticks) {
		return Tick{}, io.EOF
	}
	t := s.ticks[s.pos]
	s.pos++
	return t, nil
}

// ChanSource adapts a push feed. Closing the channel ends the sequence.
type ChanSource struct {
	C <-chan Tick
}

func (s ChanSource) Next(ctx context.Context) (Tick, error) {
	select {
	case <-ctx.Done():
		return Tick{}, ctx.Err()
	case t, ok := <-s.C:
		if !ok {
			return Tick{}, io.EOF
		}
		return t, nil
	}
}

// SourceFunc lets a plain function act as a TickSource.
type SourceFunc func(ctx context.Context) (Tick, error)

func (f SourceFunc) Next(ctx context.Context) (Tick, error) { return f(ctx) }

// Filter restricts a mixed feed to a single instrument.
func Filter(src TickSource, instrument string) TickSource {
	return SourceFunc(func(ctx context.Context) (Tick, error) {
		for {
			t, err := src.Next(ctx)
			if err != nil {
				return Tick{}, err
			}
			if t.Instrument == instrument {
				return t, nil
			}
		}
	})
}
