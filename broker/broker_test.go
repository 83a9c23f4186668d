package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rustyeddy/livetrader/market"
	"github.com/rustyeddy/livetrader/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder(instr string) Order {
	return Order{
		ID:         "01J0000000000000000000000",
		Instrument: instr,
		Action:     market.Buy,
		EntryPrice: 1.1,
		Size:       1000,
		CreatedAt:  time.Now(),
	}
}

func TestOrderValidate(t *testing.T) {
	t.Parallel()

	ok := testOrder("EUR_USD")
	require.NoError(t, ok.Validate())
	assert.Equal(t, 1000.0, ok.SignedSize())

	tests := []struct {
		name   string
		mutate func(*Order)
	}{
		{"no id", func(o *Order) { o.ID = "" }},
		{"no instrument", func(o *Order) { o.Instrument = "" }},
		{"hold", func(o *Order) { o.Action = market.Hold }},
		{"zero size", func(o *Order) { o.Size = 0 }},
		{"zero price", func(o *Order) { o.EntryPrice = 0 }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := testOrder("EUR_USD")
			tt.mutate(&o)
			assert.Error(t, o.Validate())
		})
	}

	sell := testOrder("EUR_USD")
	sell.Action = market.Sell
	assert.Equal(t, -1000.0, sell.SignedSize())
}

func TestExclusiveSerializesSends(t *testing.T) {
	t.Parallel()

	var inside, maxInside int32
	gw := GatewayFunc(func(_ context.Context, o Order) (Ack, error) {
		n := atomic.AddInt32(&inside, 1)
		for {
			m := atomic.LoadInt32(&maxInside)
			if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
				break
			}
		}
		time.Sleep(100 * time.Microsecond)
		atomic.AddInt32(&inside, -1)
		return Ack{OrderID: o.ID, Instrument: o.Instrument}, nil
	})

	rec := &LockRecorder{}
	x := NewExclusive(gw, rec)

	const workers, sends = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < sends; i++ {
				_, err := x.Send(context.Background(), testOrder("EUR_USD"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
	acq, rel := rec.Counts()
	assert.Equal(t, workers*sends, acq)
	assert.Equal(t, workers*sends, rel)
	assert.Zero(t, rec.Overlaps())

	events := rec.Events()
	for i, e := range events {
		if i%2 == 0 {
			assert.Equal(t, Acquire, e.Event)
		} else {
			assert.Equal(t, Release, e.Event)
			assert.Equal(t, events[i-1].Holder, e.Holder)
		}
	}
}

func TestExclusiveReleasesOnErrorAndPanic(t *testing.T) {
	t.Parallel()

	rec := &LockRecorder{}
	boom := errors.New("rejected")
	calls := 0
	x := NewExclusive(GatewayFunc(func(context.Context, Order) (Ack, error) {
		calls++
		if calls == 1 {
			return Ack{}, boom
		}
		panic("gateway bug")
	}), rec)

	_, err := x.Send(context.Background(), testOrder("EUR_USD"))
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() { _, _ = x.Send(context.Background(), testOrder("EUR_USD")) })

	acq, rel := rec.Counts()
	assert.Equal(t, 2, acq)
	assert.Equal(t, 2, rel)

	// Lock is free again.
	done := make(chan struct{})
	go func() {
		x.mu.Lock()
		x.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock still held")
	}
}

func TestLockRecorderDetectsOverlap(t *testing.T) {
	t.Parallel()

	rec := &LockRecorder{}
	rec.ObserveLock(Acquire, "A")
	rec.ObserveLock(Acquire, "B")
	rec.ObserveLock(Release, "B")
	rec.ObserveLock(Release, "A")
	assert.Equal(t, 2, rec.Overlaps())
}

func TestExclusiveGuardStopsQueuedSend(t *testing.T) {
	t.Parallel()

	var halted atomic.Bool
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	gw := GatewayFunc(func(_ context.Context, o Order) (Ack, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return Ack{OrderID: o.ID, Instrument: o.Instrument}, nil
	})

	rec := &LockRecorder{}
	x := NewExclusive(gw, rec, WithGuard(func() error {
		if halted.Load() {
			return errors.New("kill switch engaged")
		}
		return nil
	}))

	firstErr := make(chan error, 1)
	go func() {
		_, err := x.Send(context.Background(), testOrder("EUR_USD"))
		firstErr <- err
	}()
	<-entered

	queuedErr := make(chan error, 1)
	go func() {
		_, err := x.Send(context.Background(), testOrder("GBP_USD"))
		queuedErr <- err
	}()

	halted.Store(true)
	close(release)

	require.NoError(t, <-firstErr)
	err := <-queuedErr
	require.ErrorIs(t, err, ErrHalted)
	assert.Contains(t, err.Error(), "kill switch engaged")
	assert.False(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())

	acq, rel := rec.Counts()
	assert.Equal(t, 2, acq)
	assert.Equal(t, 2, rel)
	assert.Zero(t, rec.Overlaps())
}
