package strategies

import (
	"context"

	"github.com/rustyeddy/livetrader/market"
)

// Hold never trades.
type Hold struct{}

func (Hold) Decide(_ context.Context, tick market.Tick) (market.Signal, error) {
	return market.Signal{
		Instrument:  tick.Instrument,
		Action:      market.Hold,
		GeneratedAt: tick.Time,
	}, nil
}

// Fixed emits the same action on every tick. Useful for drills and tests
// where every tick should become an order.
type Fixed struct {
	Action market.Action
}

func (f Fixed) Decide(_ context.Context, tick market.Tick) (market.Signal, error) {
	return market.Signal{
		Instrument:  tick.Instrument,
		Action:      f.Action,
		Confidence:  1,
		GeneratedAt: tick.Time,
	}, nil
}
