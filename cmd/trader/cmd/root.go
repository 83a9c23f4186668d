package cmd

import (
	"github.com/rustyeddy/livetrader/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Safety-gated live execution core for multi-instrument trading",
	Long: `Trader runs one execution engine per instrument in parallel.

Every tick is checked against a process-wide kill switch before a signal is
computed and again before an order may be created. Orders leave through a
single mutually exclusive channel with bounded retries, and position state
is aggregated across instruments.

It provides tools for:
  - Running the engines over tick feeds (run)
  - Engaging, releasing and inspecting the kill switch (killswitch)
  - Generating and validating configuration files (config)
  - Querying the tick and order journal (journal)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
