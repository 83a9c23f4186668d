// Package resilience wraps calls that cross a process boundary in a bounded
// retry loop with capped backoff ("wait or die"): keep trying transient
// failures until success, retry exhaustion or the overall timeout.
package resilience

import (
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy configures Do and Call.
type Policy struct {
	// Timeout bounds the whole call including sleeps. Zero means unbounded.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// MaxRetries is the number of re-invocations after the first attempt.
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	// Exponential doubles the delay per attempt up to MaxDelay; otherwise
	// every sleep is InitialDelay.
	Exponential bool `json:"exponential" yaml:"exponential"`
	// Jitter spreads each delay by +/- this fraction (0..1).
	Jitter float64 `json:"jitter" yaml:"jitter"`

	// OnRetry, if set, is called before each sleep.
	OnRetry func(attempt int, delay time.Duration, err error) `json:"-" yaml:"-"`
}

func DefaultPolicy() Policy {
	return Policy{
		Timeout:      5 * time.Second,
		MaxRetries:   3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Exponential:  true,
		Jitter:       0.1,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.Timeout < 0:
		return errors.New("retry: timeout must be >= 0")
	case p.MaxRetries < 0:
		return errors.New("retry: max_retries must be >= 0")
	case p.InitialDelay < 0:
		return errors.New("retry: initial_delay must be >= 0")
	case p.MaxDelay < 0:
		return errors.New("retry: max_delay must be >= 0")
	case p.MaxDelay > 0 && p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("retry: max_delay %s is below initial_delay %s", p.MaxDelay, p.InitialDelay)
	case p.Jitter < 0 || p.Jitter > 1:
		return errors.New("retry: jitter must be within [0,1]")
	}
	return nil
}

// Delay returns the sleep before retry number attempt (1-based), before jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	wait := p.InitialDelay
	if !p.Exponential {
		return wait
	}
	for i := 1; i < attempt; i++ {
		next := wait * 2
		if p.MaxDelay > 0 && next > p.MaxDelay {
			return p.MaxDelay
		}
		if next < wait {
			return wait
		}
		wait = next
	}
	if p.MaxDelay > 0 && wait > p.MaxDelay {
		return p.MaxDelay
	}
	return wait
}

func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	delta := float64(d) * p.Jitter
	return d - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
