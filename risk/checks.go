// Package risk holds the static pre-order limits an engine applies after
// the kill-switch gates and before an order is sent.
package risk

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Limits are per-instrument caps in units. Zero disables a limit.
type Limits struct {
	MaxOrderUnits float64 `json:"max_order_units" yaml:"max_order_units"`
	MaxPosition   float64 `json:"max_position" yaml:"max_position"`
}

func (l Limits) Validate() error {
	if l.MaxOrderUnits < 0 || l.MaxPosition < 0 {
		return errors.New("risk: limits must be >= 0")
	}
	return nil
}

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason joins the violation messages, or returns "" when allowed.
func (d Decision) Reason() string {
	msgs := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		msgs = append(msgs, v.Code+": "+v.Msg)
	}
	return strings.Join(msgs, "; ")
}

// Evaluate checks one order of signed units (positive buys) against the
// instrument's current net position.
func (l Limits) Evaluate(units, position float64) Decision {
	d := Decision{Allowed: true}

	if units == 0 || math.IsNaN(units) || math.IsInf(units, 0) {
		d.add("NO_UNITS", "units must be a non-zero number")
		return d
	}

	if l.MaxOrderUnits > 0 && math.Abs(units) > l.MaxOrderUnits {
		d.add("ORDER_TOO_LARGE",
			fmt.Sprintf("order of %.0f units exceeds max %.0f", math.Abs(units), l.MaxOrderUnits))
	}

	if l.MaxPosition > 0 {
		next := position + units
		// Orders that shrink the position are always allowed.
		if math.Abs(next) > l.MaxPosition && math.Abs(next) > math.Abs(position) {
			d.add("POSITION_LIMIT",
				fmt.Sprintf("net position would reach %.0f units, max %.0f", next, l.MaxPosition))
		}
	}

	return d
}
