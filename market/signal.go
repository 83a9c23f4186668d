package market

import (
	"fmt"
	"strings"
	"time"
)

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case Buy, Sell, Hold:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q (supported: BUY, SELL, HOLD)", s)
	}
}

// Direction is +1 for BUY, -1 for SELL and 0 otherwise.
func (a Action) Direction() int {
	switch a {
	case Buy:
		return 1
	case Sell:
		return -1
	default:
		return 0
	}
}

// Signal is the per-tick output of a decision function. It is ephemeral:
// an engine either turns it into an order or drops it.
type Signal struct {
	Instrument  string    `json:"instrument_id"`
	Action      Action    `json:"action"`
	Confidence  float64   `json:"confidence"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (s Signal) Actionable() bool {
	return s.Action == Buy || s.Action == Sell
}
