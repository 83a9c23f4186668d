package strategies

import (
	"context"
	"fmt"
	"math"

	"github.com/rustyeddy/livetrader/indicators"
	"github.com/rustyeddy/livetrader/market"
)

// EMACross signals on a fast/slow EMA crossover of the mid price.
//   - BUY when fast crosses above slow
//   - SELL when fast crosses below slow
//   - HOLD otherwise, including during warmup
type EMACross struct {
	fast *indicators.ExponentialMA
	slow *indicators.ExponentialMA

	lastDiff     float64
	haveLastDiff bool
}

func NewEMACross(fast, slow int) (*EMACross, error) {
	if fast <= 0 {
		fast = 10
	}
	if slow <= 0 {
		slow = 30
	}
	if fast >= slow {
		return nil, fmt.Errorf("ema-cross: fast period %d must be below slow period %d", fast, slow)
	}
	return &EMACross{
		fast: indicators.NewEMA(fast),
		slow: indicators.NewEMA(slow),
	}, nil
}

func (s *EMACross) Decide(_ context.Context, tick market.Tick) (market.Signal, error) {
	sig := market.Signal{
		Instrument:  tick.Instrument,
		Action:      market.Hold,
		GeneratedAt: tick.Time,
	}

	mid := tick.Mid()
	if mid <= 0 || math.IsNaN(mid) || math.IsInf(mid, 0) {
		return sig, fmt.Errorf("ema-cross: bad mid price %v for %s", mid, tick.Instrument)
	}

	s.fast.Update(mid)
	s.slow.Update(mid)

	if !s.fast.Ready() || !s.slow.Ready() {
		return sig, nil
	}

	diff := s.fast.Value() - s.slow.Value()

	// Need a previous diff to detect a cross.
	if !s.haveLastDiff {
		s.lastDiff = diff
		s.haveLastDiff = true
		return sig, nil
	}

	bullCross := diff > 0 && s.lastDiff <= 0
	bearCross := diff < 0 && s.lastDiff >= 0
	s.lastDiff = diff

	switch {
	case bullCross:
		sig.Action = market.Buy
	case bearCross:
		sig.Action = market.Sell
	default:
		return sig, nil
	}

	// Distance between the averages relative to price, clamped to [0,1].
	sig.Confidence = math.Min(1, math.Abs(diff)/mid*1e4)
	return sig, nil
}
