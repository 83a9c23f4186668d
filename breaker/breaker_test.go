package breaker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestNewIsSafe(t *testing.T) {
	t.Parallel()

	b := New(WithLogger(quietLogger()))
	assert.True(t, b.IsSafe())
	assert.False(t, b.Status().Engaged)
}

func TestEngageIsIdempotent(t *testing.T) {
	t.Parallel()

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := New(WithLogger(quietLogger()), WithClock(func() time.Time { return clock }))

	b.Engage("drawdown", map[string]string{"limit": "5%"})
	first := b.Status()
	assert.False(t, b.IsSafe())

	clock = clock.Add(time.Minute)
	b.Engage("second trip", nil)
	second := b.Status()

	assert.False(t, b.IsSafe())
	assert.Equal(t, first, second)
	assert.Equal(t, "drawdown", second.Reason)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), second.EngagedAt)
}

func TestStatusIsACopy(t *testing.T) {
	t.Parallel()

	meta := map[string]string{"k": "v"}
	b := New(WithLogger(quietLogger()))
	b.Engage("manual", meta)

	meta["k"] = "mutated"
	st := b.Status()
	st.Metadata["k"] = "also mutated"

	assert.Equal(t, "v", b.Status().Metadata["k"])
}

func TestDisengageIsExplicit(t *testing.T) {
	t.Parallel()

	b := New(WithLogger(quietLogger()))
	b.Engage("manual", nil)

	// Nothing but Disengage brings it back.
	time.Sleep(5 * time.Millisecond)
	assert.False(t, b.IsSafe())

	b.Disengage()
	assert.True(t, b.IsSafe())
	assert.Equal(t, Status{}, b.Status())

	// Disengaging a safe breaker is harmless.
	b.Disengage()
	assert.True(t, b.IsSafe())
}

func TestEngagePersistsMirror(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run", "killswitch.lock")
	b := New(WithLogger(quietLogger()), WithMirror(path))
	b.Engage("ops", map[string]string{"ticket": "42"})

	st, err := ReadMirror(path)
	require.NoError(t, err)
	assert.True(t, st.Engaged)
	assert.Equal(t, "ops", st.Reason)
	assert.Equal(t, "42", st.Metadata["ticket"])

	b.Disengage()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestEngageSurvivesMirrorFailure(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "state")
	require.NoError(t, os.Mkdir(dir, 0o755))

	logger, hook := test.NewNullLogger()
	b := New(WithLogger(logrus.NewEntry(logger)), WithMirror(filepath.Join(dir, "killswitch.lock")))
	require.True(t, b.IsSafe())

	// The mirror directory turns into a file after startup, so the write fails.
	require.NoError(t, os.Remove(dir))
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o644))

	assert.NotPanics(t, func() { b.Engage("disk full", nil) })
	assert.False(t, b.IsSafe())
	assert.Equal(t, "disk full", b.Status().Reason)

	var sawWriteError bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "kill switch mirror write failed, in-memory state is ENGAGED" {
			sawWriteError = true
		}
	}
	assert.True(t, sawWriteError)
}

func TestNewUnreachableMirrorPathFailsSafe(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	b := New(WithLogger(quietLogger()), WithMirror(filepath.Join(blocker, "killswitch.lock")))

	assert.False(t, b.IsSafe())
	assert.Equal(t, ReasonUnreadableMirror, b.Status().Reason)
}

func TestNewRestoresFromMirror(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "killswitch.lock")
	require.NoError(t, EngageMirror(path, "tripped before restart", nil))

	b := New(WithLogger(quietLogger()), WithMirror(path))
	assert.False(t, b.IsSafe())
	assert.Equal(t, "tripped before restart", b.Status().Reason)
}

func TestNewCorruptMirrorFailsSafe(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "killswitch.lock")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	b := New(WithLogger(quietLogger()), WithMirror(path))
	assert.False(t, b.IsSafe())
	assert.Equal(t, ReasonUnreadableMirror, b.Status().Reason)
}

func TestWatchPicksUpExternalEngage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "killswitch.lock")
	b := New(WithLogger(quietLogger()), WithMirror(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Watch(ctx, 5*time.Millisecond)

	require.NoError(t, EngageMirror(path, "operator cli", map[string]string{"user": "ops"}))

	assert.Eventually(t, func() bool { return !b.IsSafe() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "operator cli", b.Status().Reason)

	// Removing the file does not recover a running process.
	require.NoError(t, ClearMirror(path))
	time.Sleep(30 * time.Millisecond)
	assert.False(t, b.IsSafe())
}

func TestWatchWithoutMirrorReturns(t *testing.T) {
	t.Parallel()

	b := New(WithLogger(quietLogger()))
	done := make(chan struct{})
	go func() {
		b.Watch(context.Background(), time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch without mirror should return immediately")
	}
}

func TestOnChange(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []bool
	)
	b := New(WithLogger(quietLogger()), OnChange(func(st Status) {
		mu.Lock()
		got = append(got, st.Engaged)
		mu.Unlock()
	}))

	b.Engage("a", nil)
	b.Engage("b", nil)
	b.Disengage()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, got)
}

func TestConcurrentEngageAndRead(t *testing.T) {
	t.Parallel()

	b := New(WithLogger(quietLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Engage("race", nil)
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = b.IsSafe()
				_ = b.Status()
			}
		}()
	}
	wg.Wait()

	assert.False(t, b.IsSafe())
	assert.Equal(t, "race", b.Status().Reason)
}

func TestIsSafeIsFast(t *testing.T) {
	t.Parallel()

	b := New(WithLogger(quietLogger()))
	const n = 100000

	start := time.Now()
	for i := 0; i < n; i++ {
		_ = b.IsSafe()
	}
	per := time.Since(start) / n
	assert.Less(t, per, 100*time.Microsecond)
}

func BenchmarkIsSafe(b *testing.B) {
	br := New(WithLogger(quietLogger()))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = br.IsSafe()
	}
}
