package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rustyeddy/livetrader/breaker"
	"github.com/rustyeddy/livetrader/broker/sim"
	"github.com/rustyeddy/livetrader/config"
	"github.com/rustyeddy/livetrader/journal"
	"github.com/rustyeddy/livetrader/logging"
	"github.com/rustyeddy/livetrader/market"
	"github.com/rustyeddy/livetrader/metrics"
	"github.com/rustyeddy/livetrader/orchestrator"
	"github.com/rustyeddy/livetrader/strategies"
	"github.com/rustyeddy/livetrader/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one engine per configured instrument",
	Long: `Run the live engines from a configuration file.

Each instrument reads its own CSV tick feed and runs its own strategy.
All engines share the kill switch and the order gateway. The run ends
when every feed is exhausted or on SIGINT/SIGTERM, and prints the
aggregate report.

Examples:
  trader run -f trader.yaml
  trader run -f trader.yaml --report-json`,
	RunE: runRun,
}

var (
	runConfigPath string
	runReportJSON bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runConfigPath, "config", "f", "", "path to config file (required)")
	runCmd.Flags().BoolVar(&runReportJSON, "report-json", false, "print the final report as JSON")
	_ = runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logCloser.Close()
	log := logging.Entry(logger, "run")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tm := telemetry.New(reg)

	br := breaker.New(
		breaker.WithMirror(cfg.KillSwitch.LockFile),
		breaker.WithLogger(logging.Entry(logger, "breaker")),
		breaker.OnChange(func(st breaker.Status) { tm.SetKillSwitch(st.Engaged) }),
	)
	tm.SetKillSwitch(!br.IsSafe())
	if !br.IsSafe() {
		st := br.Status()
		log.WithField("reason", st.Reason).Warn("kill switch engaged at startup; no orders will be sent")
	}

	jr, err := journal.Open(cfg.Journal)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if jr != nil {
		defer jr.Close()
	}

	agg := metrics.New()
	reg.MustRegister(metrics.NewCollector(agg))

	if cfg.Telemetry.ListenAddr != "" {
		srv, err := telemetry.Serve(cfg.Telemetry.ListenAddr, reg, logging.Entry(logger, "telemetry"))
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	deps := orchestrator.Deps{
		Breaker: br,
		Gateway: sim.NewGateway(sim.WithLatency(cfg.Gateway.Latency)),
		Deciders: func(instrument string) (strategies.Decider, error) {
			in, ok := cfg.Instrument(instrument)
			if !ok {
				return nil, fmt.Errorf("instrument %s not configured", instrument)
			}
			return strategies.ByName(in.Strategy, in.Params())
		},
		Metrics:   agg,
		Telemetry: tm,
		Journal:   jr,
		Log:       logging.Entry(logger, "engine"),
	}
	orch, err := orchestrator.New(orchestrator.Config{
		Engine:        cfg.EngineTemplate(),
		WatchInterval: cfg.KillSwitch.WatchInterval,
	}, deps)
	if err != nil {
		return err
	}

	feeds, closers, err := openFeeds(cfg)
	defer closeAll(closers, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx, feeds); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	go func() {
		<-ctx.Done()
		orch.Stop()
	}()

	runErr := orch.Wait()
	printReport(cmd.OutOrStdout(), orch, br)
	if runErr != nil {
		return fmt.Errorf("run: %w", runErr)
	}
	return nil
}

func openFeeds(cfg *config.Config) (map[string]market.TickSource, []io.Closer, error) {
	feeds := make(map[string]market.TickSource, len(cfg.Instruments))
	var closers []io.Closer
	for _, in := range cfg.Instruments {
		f, err := market.OpenCSVTickFeed(in.Feed)
		if err != nil {
			return nil, closers, fmt.Errorf("open feed for %s: %w", in.Name, err)
		}
		closers = append(closers, f)
		feeds[in.Name] = market.Filter(f, in.Name)
	}
	return feeds, closers, nil
}

func closeAll(cs []io.Closer, log *logrus.Entry) {
	for _, c := range cs {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("close feed")
		}
	}
}

func printReport(out io.Writer, orch *orchestrator.Orchestrator, br *breaker.Breaker) {
	report := orch.Report()

	if runReportJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(struct {
			KillSwitch breaker.Status                   `json:"kill_switch"`
			Report     metrics.AggregateReport          `json:"report"`
			Symbols    map[string]metrics.SymbolMetrics `json:"symbols"`
		}{br.Status(), report, orch.Aggregator().Status()})
		return
	}

	stats := orch.Stats()
	names := make([]string, 0, len(stats))
	for k := range stats {
		names = append(names, k)
	}
	sort.Strings(names)

	fmt.Fprintln(out, "\n=== Run Summary ===")
	if st := br.Status(); st.Engaged {
		fmt.Fprintf(out, "Kill switch: ENGAGED (%s)\n", st.Reason)
	} else {
		fmt.Fprintln(out, "Kill switch: SAFE")
	}
	fmt.Fprintf(out, "%-10s %8s %7s %8s %7s %7s\n", "INSTR", "TICKS", "ORDERS", "BLOCKED", "HOLDS", "ERRORS")
	for _, n := range names {
		s := stats[n]
		fmt.Fprintf(out, "%-10s %8d %7d %8d %7d %7d\n", n, s.Ticks, s.Orders, s.Blocked, s.Holds, s.Errors)
	}

	fmt.Fprintf(out, "\nInstruments:   %d\n", report.Instruments)
	fmt.Fprintf(out, "Total trades:  %d\n", report.TotalTrades)
	fmt.Fprintf(out, "Total PnL:     %s\n", report.TotalPnL.StringFixed(2))
	fmt.Fprintf(out, "Exposure:      %s\n", report.TotalExposure.StringFixed(2))
	fmt.Fprintf(out, "Avg win rate:  %.1f%%\n", report.AverageWinRate*100)
}
