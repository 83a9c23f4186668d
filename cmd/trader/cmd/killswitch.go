package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/rustyeddy/livetrader/breaker"
	"github.com/rustyeddy/livetrader/config"
	"github.com/spf13/cobra"
)

var killswitchCmd = &cobra.Command{
	Use:   "killswitch",
	Short: "Engage, release or inspect the kill switch",
	Long: `Operate the kill switch lock file shared by every trader process on
this host. A running "trader run" picks up an engage within one poll
interval. Removing the lock never resumes a running process; restart it
after disengaging.

Examples:
  trader killswitch engage --reason "venue outage" --meta ticket=INC-42
  trader killswitch status
  trader killswitch disengage`,
}

var killswitchEngageCmd = &cobra.Command{
	Use:   "engage",
	Short: "Halt order generation",
	Args:  cobra.NoArgs,
	RunE:  runKillswitchEngage,
}

var killswitchDisengageCmd = &cobra.Command{
	Use:   "disengage",
	Short: "Clear the kill switch lock file",
	Args:  cobra.NoArgs,
	RunE:  runKillswitchDisengage,
}

var killswitchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the kill switch state",
	Args:  cobra.NoArgs,
	RunE:  runKillswitchStatus,
}

var (
	ksLockFile string
	ksConfig   string
	ksReason   string
	ksMeta     []string
	ksJSON     bool
)

func init() {
	rootCmd.AddCommand(killswitchCmd)
	killswitchCmd.AddCommand(killswitchEngageCmd, killswitchDisengageCmd, killswitchStatusCmd)

	killswitchCmd.PersistentFlags().StringVar(&ksLockFile, "lock-file", "", "kill switch lock file (overrides config and "+config.EnvKillSwitchFile+")")
	killswitchCmd.PersistentFlags().StringVarP(&ksConfig, "config", "f", "", "config file to read killswitch.lock_file from")

	killswitchEngageCmd.Flags().StringVarP(&ksReason, "reason", "r", "", "why the switch is engaged (required)")
	killswitchEngageCmd.Flags().StringArrayVar(&ksMeta, "meta", nil, "metadata as key=value, repeatable")
	_ = killswitchEngageCmd.MarkFlagRequired("reason")

	killswitchStatusCmd.Flags().BoolVar(&ksJSON, "json", false, "print status as JSON")
}

func lockFile() (string, error) {
	if ksLockFile != "" {
		return ksLockFile, nil
	}
	if ksConfig != "" {
		cfg, err := config.LoadFromFile(ksConfig)
		if err != nil {
			return "", fmt.Errorf("load config: %w", err)
		}
		return cfg.KillSwitch.LockFile, nil
	}
	if v := os.Getenv(config.EnvKillSwitchFile); v != "" {
		return v, nil
	}
	return config.Default().KillSwitch.LockFile, nil
}

func parseMeta(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("bad --meta %q, want key=value", kv)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func runKillswitchEngage(cmd *cobra.Command, args []string) error {
	path, err := lockFile()
	if err != nil {
		return err
	}
	meta, err := parseMeta(ksMeta)
	if err != nil {
		return err
	}
	if user := os.Getenv("USER"); user != "" {
		if meta == nil {
			meta = map[string]string{}
		}
		if _, ok := meta["operator"]; !ok {
			meta["operator"] = user
		}
	}

	if st, err := breaker.ReadMirror(path); err == nil && st.Engaged {
		fmt.Fprintf(cmd.OutOrStdout(), "Kill switch already ENGAGED since %s: %s\n", st.EngagedAt.Format("2006-01-02 15:04:05"), st.Reason)
		return nil
	}

	if err := breaker.EngageMirror(path, ksReason, meta); err != nil {
		return fmt.Errorf("engage: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Kill switch ENGAGED (%s)\n", path)
	return nil
}

func runKillswitchDisengage(cmd *cobra.Command, args []string) error {
	path, err := lockFile()
	if err != nil {
		return err
	}
	if err := breaker.ClearMirror(path); err != nil {
		return fmt.Errorf("disengage: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Kill switch lock cleared (%s)\n", path)
	fmt.Fprintln(out, "  Running processes stay halted until restarted.")
	return nil
}

func runKillswitchStatus(cmd *cobra.Command, args []string) error {
	path, err := lockFile()
	if err != nil {
		return err
	}

	st, err := breaker.ReadMirror(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		st = breaker.Status{}
	case err != nil:
		// An unreadable lock halts running processes, so report it as engaged.
		st = breaker.Status{Engaged: true, Reason: breaker.ReasonUnreadableMirror, Metadata: map[string]string{"error": err.Error()}}
	}

	out := cmd.OutOrStdout()
	if ksJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	if !st.Engaged {
		fmt.Fprintf(out, "SAFE (%s)\n", path)
		return nil
	}
	fmt.Fprintf(out, "ENGAGED (%s)\n", path)
	if !st.EngagedAt.IsZero() {
		fmt.Fprintf(out, "  Since:  %s\n", st.EngagedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(out, "  Reason: %s\n", st.Reason)
	keys := make([]string, 0, len(st.Metadata))
	for k := range st.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s: %s\n", k, st.Metadata[k])
	}
	return nil
}
