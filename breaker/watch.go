package breaker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultWatchInterval is used when Watch is given a non-positive interval.
const DefaultWatchInterval = 250 * time.Millisecond

// Watch polls the mirror until ctx is done so that an engage written by
// another process trips this breaker too. Only the ENGAGED direction is
// followed: a lock file disappearing never disengages a running process.
// Watch is a no-op without a mirror.
func (b *Breaker) Watch(ctx context.Context, interval time.Duration) {
	if b.mirror == "" {
		return
	}
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.poll()
		}
	}
}

func (b *Breaker) poll() {
	if !b.IsSafe() {
		return
	}

	st, err := ReadMirror(b.mirror)
	switch {
	case err == nil:
		if !st.Engaged {
			return
		}
	case isNotExist(err):
		return
	default:
		// A half-written or foreign file is treated like an engage request.
		st = Status{
			Engaged:  true,
			Reason:   ReasonUnreadableMirror,
			Metadata: map[string]string{"error": err.Error()},
		}
	}

	b.mu.Lock()
	if b.engaged.Load() {
		b.mu.Unlock()
		return
	}
	if st.EngagedAt.IsZero() {
		st.EngagedAt = b.now()
	}
	st.Metadata = copyMeta(st.Metadata)
	b.set(st)
	b.mu.Unlock()

	b.log.WithFields(logrus.Fields{
		"reason": st.Reason,
		"mirror": b.mirror,
	}).Error("kill switch ENGAGED by external process")
	b.notify(st)
}
