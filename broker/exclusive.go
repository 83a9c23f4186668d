package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rustyeddy/livetrader/resilience"
)

// ErrHalted is returned for an order that was refused at send time because
// sending had been halted. It is never retried.
var ErrHalted = errors.New("broker: sends halted")

type LockEvent string

const (
	Acquire LockEvent = "ACQUIRE"
	Release LockEvent = "RELEASE"
)

// LockObserver is told about every acquire and release of an Exclusive.
// It is called while the lock is held, so events arrive strictly ordered.
type LockObserver interface {
	ObserveLock(ev LockEvent, holder string)
}

// Exclusive serializes access to one Gateway shared by many engines. Only
// the send/ack exchange runs under the lock.
type Exclusive struct {
	mu    sync.Mutex
	gw    Gateway
	obs   LockObserver
	guard func() error
}

type ExclusiveOption func(*Exclusive)

// WithGuard runs guard after the lock is acquired and before every send. A
// non-nil result refuses the order with ErrHalted, so an order that queued
// behind other senders is still stopped if sending was halted meanwhile.
func WithGuard(guard func() error) ExclusiveOption {
	return func(x *Exclusive) { x.guard = guard }
}

func NewExclusive(gw Gateway, obs LockObserver, opts ...ExclusiveOption) *Exclusive {
	x := &Exclusive{gw: gw, obs: obs}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Send holds the lock for exactly one exchange with the gateway. The lock is
// released even if the gateway panics.
func (x *Exclusive) Send(ctx context.Context, o Order) (Ack, error) {
	x.mu.Lock()
	if x.obs != nil {
		x.obs.ObserveLock(Acquire, o.Instrument)
	}
	defer func() {
		if x.obs != nil {
			x.obs.ObserveLock(Release, o.Instrument)
		}
		x.mu.Unlock()
	}()

	if x.guard != nil {
		if err := x.guard(); err != nil {
			return Ack{}, resilience.Permanent(fmt.Errorf("%w: %w", ErrHalted, err))
		}
	}
	return x.gw.Send(ctx, o)
}

// LockRecorder is a LockObserver that keeps every event and checks that
// acquires and releases strictly alternate.
type LockRecorder struct {
	mu       sync.Mutex
	events   []LockRecord
	held     bool
	overlaps int
}

type LockRecord struct {
	Event  LockEvent
	Holder string
}

func (r *LockRecorder) ObserveLock(ev LockEvent, holder string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev {
	case Acquire:
		if r.held {
			r.overlaps++
		}
		r.held = true
	case Release:
		if !r.held {
			r.overlaps++
		}
		r.held = false
	}
	r.events = append(r.events, LockRecord{Event: ev, Holder: holder})
}

func (r *LockRecorder) Events() []LockRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LockRecord(nil), r.events...)
}

// Counts returns the number of acquires and releases seen.
func (r *LockRecorder) Counts() (acquires, releases int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Event == Acquire {
			acquires++
		} else {
			releases++
		}
	}
	return acquires, releases
}

// Overlaps counts acquires while held and releases while free. Zero means
// the lock was never held twice at once.
func (r *LockRecorder) Overlaps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlaps
}
