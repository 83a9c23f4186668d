package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rustyeddy/livetrader/broker"
	"github.com/rustyeddy/livetrader/market"
	"github.com/rustyeddy/livetrader/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func order(id string) broker.Order {
	return broker.Order{
		ID:         id,
		Instrument: "EUR_USD",
		Action:     market.Sell,
		EntryPrice: 1.1,
		Size:       500,
	}
}

func TestGatewayFills(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g := NewGateway(WithClock(func() time.Time { return fixed }))

	ack, err := g.Send(context.Background(), order("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", ack.OrderID)
	assert.Equal(t, 1.1, ack.FillPrice)
	assert.Equal(t, 500.0, ack.FilledSize)
	assert.Equal(t, market.Sell, ack.Action)
	assert.Equal(t, fixed, ack.AckedAt)

	assert.Len(t, g.Fills(), 1)
	assert.Len(t, g.FillsFor("EUR_USD"), 1)
	assert.Empty(t, g.FillsFor("USD_JPY"))
	assert.Equal(t, 1, g.Attempts())
}

func TestGatewayFailNextIsTransient(t *testing.T) {
	g := NewGateway()
	g.FailNext(2)

	p := resilience.Policy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	ack, err := resilience.Call(context.Background(), p, func(ctx context.Context) (broker.Ack, error) {
		return g.Send(ctx, order("b"))
	})
	require.NoError(t, err)
	assert.Equal(t, "b", ack.OrderID)
	assert.Equal(t, 3, g.Attempts())
	assert.Len(t, g.Fills(), 1)
}

func TestGatewayRejectsInvalidAndVetoed(t *testing.T) {
	g := NewGateway(WithRejects(func(o broker.Order) error {
		if o.Size > 1000 {
			return errors.New("size above venue max")
		}
		return nil
	}))

	bad := order("")
	_, err := g.Send(context.Background(), bad)
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, resilience.IsTransient(err))

	big := order("c")
	big.Size = 5000
	_, err = g.Send(context.Background(), big)
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, resilience.IsTransient(err))
	assert.Empty(t, g.Fills())
}

func TestGatewayLatencyHonoursContext(t *testing.T) {
	g := NewGateway(WithLatency(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := g.Send(ctx, order("d"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, g.Attempts())
}
