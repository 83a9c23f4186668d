// Package orchestrator runs one engine per instrument in parallel, all
// sharing a single kill switch, a single outbound channel and a single
// metrics aggregator.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/livetrader/breaker"
	"github.com/rustyeddy/livetrader/broker"
	"github.com/rustyeddy/livetrader/engine"
	"github.com/rustyeddy/livetrader/journal"
	"github.com/rustyeddy/livetrader/market"
	"github.com/rustyeddy/livetrader/metrics"
	"github.com/rustyeddy/livetrader/strategies"
	"github.com/rustyeddy/livetrader/telemetry"
	"github.com/sirupsen/logrus"
)

var (
	ErrAlreadyStarted = errors.New("orchestrator: already started")
	ErrNotStarted     = errors.New("orchestrator: not started")
	ErrNoFeeds        = errors.New("orchestrator: no feeds")
)

// DeciderFactory builds the Decider for one instrument. It is called once
// per engine, so every engine owns its own decision state.
type DeciderFactory func(instrument string) (strategies.Decider, error)

type Config struct {
	// Engine is the template for every engine; Instrument is filled in.
	Engine engine.Config
	// WatchInterval controls the kill-switch mirror poller. Negative
	// disables it; zero uses breaker.DefaultWatchInterval.
	WatchInterval time.Duration
}

type Deps struct {
	Breaker  *breaker.Breaker
	Gateway  broker.Gateway
	Deciders DeciderFactory

	LockObserver broker.LockObserver
	Metrics      *metrics.Aggregator
	Telemetry    *telemetry.Metrics
	Journal      journal.Journal
	Log          *logrus.Entry

	// OnRecord receives every engine's records and must be safe for
	// concurrent use.
	OnRecord func(engine.TickRecord)
}

type Orchestrator struct {
	cfg  Config
	deps Deps
	out  *broker.Exclusive
	log  *logrus.Entry

	mu      sync.Mutex
	started bool
	engines map[string]*engine.Engine
	errs    []error
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Breaker == nil:
		return nil, errors.New("orchestrator: breaker is required")
	case deps.Gateway == nil:
		return nil, errors.New("orchestrator: gateway is required")
	case deps.Deciders == nil:
		return nil, errors.New("orchestrator: decider factory is required")
	}
	if err := cfg.Engine.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if err := cfg.Engine.Limits.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		out:     broker.NewExclusive(deps.Gateway, deps.LockObserver, broker.WithGuard(killSwitchGuard(deps.Breaker))),
		log:     log.WithField("component", "orchestrator"),
		engines: make(map[string]*engine.Engine),
	}, nil
}

// killSwitchGuard refuses sends that reach the shared channel after the
// kill switch engaged, including orders queued behind other instruments.
func killSwitchGuard(br *breaker.Breaker) func() error {
	return func() error {
		if !br.IsSafe() {
			return errors.New(engine.ReasonEngaged)
		}
		return nil
	}
}

// Start builds every engine and then launches them together. If any engine
// cannot be built, none is started.
func (o *Orchestrator) Start(ctx context.Context, feeds map[string]market.TickSource) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return ErrAlreadyStarted
	}
	if len(feeds) == 0 {
		return ErrNoFeeds
	}

	engines := make(map[string]*engine.Engine, len(feeds))
	for instrument, src := range feeds {
		if src == nil {
			return fmt.Errorf("orchestrator: nil feed for %s", instrument)
		}
		dec, err := o.deps.Deciders(instrument)
		if err != nil {
			return fmt.Errorf("orchestrator: decider for %s: %w", instrument, err)
		}
		cfg := o.cfg.Engine
		cfg.Instrument = instrument
		e, err := engine.New(cfg, engine.Deps{
			Breaker:   o.deps.Breaker,
			Decider:   dec,
			Gateway:   o.out,
			Metrics:   o.deps.Metrics,
			Telemetry: o.deps.Telemetry,
			Journal:   o.deps.Journal,
			Log:       o.deps.Log,
			OnRecord:  o.deps.OnRecord,
		})
		if err != nil {
			return err
		}
		engines[instrument] = e
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.engines = engines
	o.cancel = cancel
	o.done = make(chan struct{})
	o.started = true

	var wg sync.WaitGroup
	for instrument, e := range engines {
		wg.Add(1)
		go o.run(runCtx, &wg, e, feeds[instrument])
	}

	if o.cfg.WatchInterval >= 0 && o.deps.Breaker.MirrorPath() != "" {
		go o.deps.Breaker.Watch(runCtx, o.cfg.WatchInterval)
	}

	go func() {
		wg.Wait()
		cancel()
		close(o.done)
	}()

	o.log.WithField("instruments", o.instrumentsLocked()).Info("orchestrator started")
	return nil
}

func (o *Orchestrator) run(ctx context.Context, wg *sync.WaitGroup, e *engine.Engine, src market.TickSource) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			o.fail(fmt.Errorf("engine %s panicked: %v", e.Instrument(), r))
		}
	}()
	if err := e.Run(ctx, src); err != nil {
		o.fail(err)
	}
}

func (o *Orchestrator) fail(err error) {
	o.log.WithError(err).Error("engine exited with error")
	o.mu.Lock()
	o.errs = append(o.errs, err)
	o.mu.Unlock()
}

// Stop asks every engine to exit after its current tick. It does not wait.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every engine has exited and joins their errors.
func (o *Orchestrator) Wait() error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return ErrNotStarted
	}
	done := o.done
	o.mu.Unlock()

	<-done

	o.mu.Lock()
	defer o.mu.Unlock()
	o.log.WithField("stats", o.statsLocked()).Info("orchestrator stopped")
	return errors.Join(o.errs...)
}

func (o *Orchestrator) Stats() map[string]engine.Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statsLocked()
}

func (o *Orchestrator) statsLocked() map[string]engine.Stats {
	out := make(map[string]engine.Stats, len(o.engines))
	for k, e := range o.engines {
		out[k] = e.Stats()
	}
	return out
}

// Books returns every engine's latest position snapshot.
func (o *Orchestrator) Books() map[string]engine.BookSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]engine.BookSnapshot, len(o.engines))
	for k, e := range o.engines {
		out[k] = e.Book()
	}
	return out
}

func (o *Orchestrator) Report() metrics.AggregateReport {
	return o.deps.Metrics.Report()
}

func (o *Orchestrator) Aggregator() *metrics.Aggregator {
	return o.deps.Metrics
}

func (o *Orchestrator) instrumentsLocked() []string {
	out := make([]string, 0, len(o.engines))
	for k := range o.engines {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
