// Package strategies holds the pluggable decision functions an engine calls
// once per tick.
package strategies

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rustyeddy/livetrader/market"
)

// Decider turns one tick into a Signal. A Decider is owned by exactly one
// engine and is never called concurrently, so implementations may keep
// unsynchronized state between ticks.
type Decider interface {
	Decide(ctx context.Context, tick market.Tick) (market.Signal, error)
}

// DeciderFunc adapts a plain function to the Decider interface.
type DeciderFunc func(ctx context.Context, tick market.Tick) (market.Signal, error)

func (f DeciderFunc) Decide(ctx context.Context, tick market.Tick) (market.Signal, error) {
	return f(ctx, tick)
}

// Params carries everything a registered constructor may need.
type Params struct {
	Instrument string `json:"instrument" yaml:"instrument"`
	FastPeriod int    `json:"fast_period" yaml:"fast_period"`
	SlowPeriod int    `json:"slow_period" yaml:"slow_period"`
}

// Factory builds a fresh Decider. Each engine gets its own instance.
type Factory func(p Params) (Decider, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

func init() {
	Register("hold", func(Params) (Decider, error) { return Hold{}, nil })
	Register("noop", func(Params) (Decider, error) { return Hold{}, nil })
	Register("always-buy", func(p Params) (Decider, error) { return Fixed{Action: market.Buy}, nil })
	Register("always-sell", func(p Params) (Decider, error) { return Fixed{Action: market.Sell}, nil })
	Register("ema-cross", func(p Params) (Decider, error) { return NewEMACross(p.FastPeriod, p.SlowPeriod) })
}

// Register adds or replaces a named factory.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[normalize(name)] = f
}

// Names lists the registered strategies in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ByName builds a new Decider from the registry.
func ByName(name string, p Params) (Decider, error) {
	mu.RLock()
	f, ok := registry[normalize(name)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	d, err := f(p)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: %w", name, err)
	}
	return d, nil
}

func normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "emacross" {
		return "ema-cross"
	}
	return n
}
