package cmd

import (
	"fmt"
	"sort"

	"github.com/rustyeddy/livetrader/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the tick and order journal",
	Long: `Query tick events and orders from the SQLite journal.

Examples:
  trader journal order <order-id>
  trader journal ticks EUR_USD
  trader journal summary`,
}

var journalOrderCmd = &cobra.Command{
	Use:   "order <order-id>",
	Short: "Show one order and its fill",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalOrder,
}

var journalTicksCmd = &cobra.Command{
	Use:   "ticks <instrument>",
	Short: "List the tick records of one instrument",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTicks,
}

var journalSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count tick records by action",
	Args:  cobra.NoArgs,
	RunE:  runJournalSummary,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalOrderCmd, journalTicksCmd, journalSummaryCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./livetrader.db", "path to SQLite journal DB")
}

func runJournalOrder(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	o, err := j.GetOrder(args[0])
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Order %s\n", o.OrderID)
	fmt.Fprintf(out, "  Instrument: %s\n", o.Instrument)
	fmt.Fprintf(out, "  Action:     %s %.0f @ %.5f\n", o.Action, o.Size, o.EntryPrice)
	fmt.Fprintf(out, "  Created:    %s\n", o.CreatedAt.Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(out, "  Filled:     %.0f @ %.5f at %s\n", o.FilledSize, o.FillPrice, o.AckedAt.Format("2006-01-02 15:04:05.000"))
	return nil
}

func runJournalTicks(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	ticks, err := j.ListTicks(args[0])
	if err != nil {
		return fmt.Errorf("list ticks: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, t := range ticks {
		fmt.Fprintf(out, "%s  %-16s %-15s %7.3fms  %s %s\n",
			t.Timestamp.Format("2006-01-02 15:04:05.000"), t.TickID, t.Action, t.LatencyMS, t.OrderID, t.Reason)
	}
	fmt.Fprintf(out, "%d ticks\n", len(ticks))
	return nil
}

func runJournalSummary(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	counts, err := j.ActionCounts()
	if err != nil {
		return fmt.Errorf("count actions: %w", err)
	}

	actions := make([]string, 0, len(counts))
	for a := range counts {
		actions = append(actions, a)
	}
	sort.Strings(actions)

	out := cmd.OutOrStdout()
	for _, a := range actions {
		fmt.Fprintf(out, "%-16s %d\n", a, counts[a])
	}
	return nil
}
