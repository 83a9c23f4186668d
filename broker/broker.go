// Package broker defines the outbound order channel: the Order and Ack
// values and the Gateway that carries them to the venue.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/livetrader/market"
)

// Gateway sends one order to the venue and waits for its acknowledgement.
// The wire protocol behind it is opaque to this package. Implementations
// should mark retryable failures with resilience.Transient.
type Gateway interface {
	Send(ctx context.Context, o Order) (Ack, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, o Order) (Ack, error)

func (f GatewayFunc) Send(ctx context.Context, o Order) (Ack, error) {
	return f(ctx, o)
}

// Order is created only after both kill-switch gates passed. It is a value
// and is never mutated after creation.
type Order struct {
	ID         string        `json:"order_id"`
	Instrument string        `json:"instrument_id"`
	Action     market.Action `json:"action"`
	EntryPrice float64       `json:"entry_price"`
	Size       float64       `json:"size"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SignedSize is positive for BUY and negative for SELL.
func (o Order) SignedSize() float64 {
	return float64(o.Action.Direction()) * o.Size
}

func (o Order) Validate() error {
	switch {
	case o.ID == "":
		return errors.New("order: missing id")
	case o.Instrument == "":
		return errors.New("order: missing instrument")
	case o.Action != market.Buy && o.Action != market.Sell:
		return fmt.Errorf("order: action %q is not BUY or SELL", o.Action)
	case o.Size <= 0:
		return fmt.Errorf("order: size must be > 0, got %v", o.Size)
	case o.EntryPrice <= 0:
		return fmt.Errorf("order: entry price must be > 0, got %v", o.EntryPrice)
	}
	return nil
}

// Ack is the venue's acknowledgement of a filled order.
type Ack struct {
	OrderID    string        `json:"order_id"`
	Instrument string        `json:"instrument_id"`
	Action     market.Action `json:"action"`
	FillPrice  float64       `json:"fill_price"`
	FilledSize float64       `json:"filled_size"`
	AckedAt    time.Time     `json:"acked_at"`
}
