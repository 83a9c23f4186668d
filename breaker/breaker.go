// Package breaker implements the process-wide kill switch.
//
// A Breaker is either SAFE or ENGAGED. Once engaged it stays engaged until an
// operator calls Disengage; nothing in this package recovers on its own.
// The in-memory state is authoritative. The optional lock-file mirror only
// exists so that co-located processes can observe and trip the switch.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Status is a point-in-time copy of the breaker state.
type Status struct {
	Engaged   bool              `json:"engaged"`
	EngagedAt time.Time         `json:"engaged_at,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type Breaker struct {
	engaged atomic.Bool

	mu     sync.Mutex
	status Status

	mirror string
	log    *logrus.Entry
	now    func() time.Time
	onTrip []func(Status)
}

type Option func(*Breaker)

// WithMirror mirrors the state to a lock file at path.
func WithMirror(path string) Option {
	return func(b *Breaker) { b.mirror = path }
}

func WithLogger(log *logrus.Entry) Option {
	return func(b *Breaker) {
		if log != nil {
			b.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// OnChange registers a callback invoked after every state transition.
// Callbacks run outside the breaker lock.
func OnChange(fn func(Status)) Option {
	return func(b *Breaker) {
		if fn != nil {
			b.onTrip = append(b.onTrip, fn)
		}
	}
}

// New builds a SAFE breaker, unless a mirror is configured and already holds
// an engaged state, in which case the breaker starts ENGAGED.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		log: logrus.NewEntry(logrus.StandardLogger()),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithField("component", "breaker")

	if b.mirror != "" {
		b.restore()
	}
	return b
}

// restore loads the mirror at startup. Only a missing file means SAFE; any
// other failure, a path through a regular file (ENOTDIR) included, means the
// state cannot be known and the breaker starts ENGAGED.
func (b *Breaker) restore() {
	st, err := ReadMirror(b.mirror)
	switch {
	case err == nil:
		if st.Engaged {
			b.set(st)
			b.log.WithFields(logrus.Fields{
				"reason":     st.Reason,
				"engaged_at": st.EngagedAt,
				"mirror":     b.mirror,
			}).Warn("kill switch restored ENGAGED from mirror")
		}
	case isNotExist(err):
	default:
		b.set(Status{
			Engaged:   true,
			EngagedAt: b.now(),
			Reason:    ReasonUnreadableMirror,
			Metadata:  map[string]string{"error": err.Error()},
		})
		b.log.WithError(err).WithField("mirror", b.mirror).Error("kill switch mirror unreadable, starting ENGAGED")
	}
}

// ReasonUnreadableMirror is recorded when a lock file exists but cannot be parsed.
const ReasonUnreadableMirror = "unreadable kill-switch mirror"

// IsSafe reports whether order generation is allowed. It has no side effects.
func (b *Breaker) IsSafe() bool {
	return !b.engaged.Load()
}

// Engage trips the switch. It never fails: the in-memory flip happens first
// and unconditionally, persisting to the mirror is best effort and any error
// is only logged. Engaging an engaged breaker keeps the original trip.
func (b *Breaker) Engage(reason string, metadata map[string]string) {
	b.mu.Lock()
	if b.engaged.Load() {
		b.mu.Unlock()
		return
	}
	st := Status{
		Engaged:   true,
		EngagedAt: b.now(),
		Reason:    reason,
		Metadata:  copyMeta(metadata),
	}
	b.set(st)
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{
		"reason":   reason,
		"metadata": metadata,
	}).Error("kill switch ENGAGED")

	b.persist(st)
	b.notify(st)
}

// Disengage is the operator-only reset. It also removes the mirror.
func (b *Breaker) Disengage() {
	b.mu.Lock()
	was := b.engaged.Load()
	b.status = Status{}
	b.engaged.Store(false)
	b.mu.Unlock()

	if b.mirror != "" {
		if err := ClearMirror(b.mirror); err != nil {
			b.log.WithError(err).WithField("mirror", b.mirror).Error("kill switch mirror not cleared")
		}
	}
	if was {
		b.log.Warn("kill switch DISENGAGED by operator")
		b.notify(Status{})
	}
}

func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.status
	st.Metadata = copyMeta(b.status.Metadata)
	return st
}

// MirrorPath returns the configured lock file, or "".
func (b *Breaker) MirrorPath() string { return b.mirror }

// set must be called with mu held, or before the breaker is shared.
func (b *Breaker) set(st Status) {
	b.status = st
	b.engaged.Store(st.Engaged)
}

func (b *Breaker) persist(st Status) {
	if b.mirror == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("panic", r).Error("kill switch mirror write panicked")
		}
	}()
	if err := writeMirror(b.mirror, st); err != nil {
		b.log.WithError(err).WithField("mirror", b.mirror).Error("kill switch mirror write failed, in-memory state is ENGAGED")
	}
}

func (b *Breaker) notify(st Status) {
	for _, fn := range b.onTrip {
		fn(st)
	}
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
