package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustyeddy/livetrader/breaker"
	"github.com/rustyeddy/livetrader/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	runConfigPath, runReportJSON = "", false
	ksLockFile, ksConfig, ksReason, ksMeta, ksJSON = "", "", "", nil, false
	configInitOutput, configValidatePath = "trader.yaml", ""
	journalDBPath = "./livetrader.db"

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeRunConfig(t *testing.T, dir, strategy string) string {
	t.Helper()

	feed := filepath.Join(dir, "eur_usd.csv")
	require.NoError(t, os.WriteFile(feed, []byte(
		"time,instrument,bid,ask\n"+
			"2026-01-05T10:00:00Z,EUR_USD,1.1000,1.1002\n"+
			"2026-01-05T10:00:01Z,GBP_USD,1.2700,1.2702\n"+
			"2026-01-05T10:00:02Z,EUR_USD,1.1001,1.1003\n"+
			"2026-01-05T10:00:03Z,EUR_USD,1.1004,1.1006\n"), 0o644))

	cfg := `killswitch:
  lock_file: ` + filepath.Join(dir, "killswitch.lock") + `
  watch_interval: 5ms
instruments:
  - name: EUR_USD
    feed: ` + feed + `
    strategy: ` + strategy + `
gateway:
  latency: 0s
journal:
  type: none
log:
  level: warn
  format: text
telemetry:
  listen_addr: ""
`
	path := filepath.Join(dir, "trader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "trader version "+version)
}

func TestConfigInitThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trader.yaml")

	out, _, err := execute(t, "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Created default configuration")
	assert.FileExists(t, path)

	out, _, err = execute(t, "config", "validate", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
	assert.Contains(t, out, "EUR_USD")
}

func TestConfigValidateRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instruments: []\n"), 0o644))

	_, _, err := execute(t, "config", "validate", "-f", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestKillswitchLifecycle(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "ks.lock")

	out, _, err := execute(t, "killswitch", "status", "--lock-file", lock)
	require.NoError(t, err)
	assert.Contains(t, out, "SAFE")

	out, _, err = execute(t, "killswitch", "engage", "--lock-file", lock,
		"--reason", "venue outage", "--meta", "ticket=INC-42", "--meta", "operator=ops")
	require.NoError(t, err)
	assert.Contains(t, out, "ENGAGED")

	st, err := breaker.ReadMirror(lock)
	require.NoError(t, err)
	assert.True(t, st.Engaged)
	assert.Equal(t, "venue outage", st.Reason)
	assert.Equal(t, "INC-42", st.Metadata["ticket"])
	assert.Equal(t, "ops", st.Metadata["operator"])

	out, _, err = execute(t, "killswitch", "engage", "--lock-file", lock, "--reason", "again")
	require.NoError(t, err)
	assert.Contains(t, out, "already ENGAGED")

	out, _, err = execute(t, "killswitch", "status", "--lock-file", lock, "--json")
	require.NoError(t, err)
	var got breaker.Status
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Engaged)
	assert.Equal(t, "venue outage", got.Reason)

	_, _, err = execute(t, "killswitch", "disengage", "--lock-file", lock)
	require.NoError(t, err)
	assert.NoFileExists(t, lock)
}

func TestKillswitchStatusCorruptLockIsEngaged(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "ks.lock")
	require.NoError(t, os.WriteFile(lock, []byte("{not json"), 0o644))

	out, _, err := execute(t, "killswitch", "status", "--lock-file", lock)
	require.NoError(t, err)
	assert.Contains(t, out, "ENGAGED")
	assert.Contains(t, out, breaker.ReasonUnreadableMirror)
}

func TestKillswitchEngageBadMeta(t *testing.T) {
	lock := filepath.Join(t.TempDir(), "ks.lock")

	_, _, err := execute(t, "killswitch", "engage", "--lock-file", lock, "--reason", "x", "--meta", "novalue")
	require.Error(t, err)
	assert.NoFileExists(t, lock)
}

func TestRunTradesFilteredFeed(t *testing.T) {
	path := writeRunConfig(t, t.TempDir(), "always-buy")

	out, _, err := execute(t, "run", "-f", path, "--report-json")
	require.NoError(t, err)

	var got struct {
		KillSwitch breaker.Status `json:"kill_switch"`
		Report     struct {
			Instruments int   `json:"instruments"`
			TotalTrades int64 `json:"total_trades"`
		} `json:"report"`
		Symbols map[string]json.RawMessage `json:"symbols"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.False(t, got.KillSwitch.Engaged)
	assert.Equal(t, 1, got.Report.Instruments)
	assert.Contains(t, got.Symbols, "EUR_USD")
	assert.NotContains(t, got.Symbols, "GBP_USD")
}

func TestRunHaltedByLockFile(t *testing.T) {
	dir := t.TempDir()
	path := writeRunConfig(t, dir, "always-buy")
	require.NoError(t, breaker.EngageMirror(filepath.Join(dir, "killswitch.lock"), "maintenance", nil))

	out, _, err := execute(t, "run", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Kill switch: ENGAGED (maintenance)")
	assert.Regexp(t, `EUR_USD\s+3\s+0\s+3\s+0\s+0`, out)
}

func TestRunMissingConfig(t *testing.T) {
	_, _, err := execute(t, "run", "-f", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestJournalQueries(t *testing.T) {
	db := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.NewSQLite(db)
	require.NoError(t, err)

	at := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordTick(journal.TickEvent{Timestamp: at, TickID: "EUR_USD-1", Instrument: "EUR_USD", Action: "ORDER_GENERATED", OrderID: "01ORDER", LatencyMS: 0.2}))
	require.NoError(t, j.RecordTick(journal.TickEvent{Timestamp: at.Add(time.Second), TickID: "EUR_USD-2", Instrument: "EUR_USD", Action: "BLOCKED", Reason: "kill switch engaged"}))
	require.NoError(t, j.RecordOrder(journal.OrderRecord{
		OrderID: "01ORDER", Instrument: "EUR_USD", Action: "BUY", EntryPrice: 1.1002, Size: 1000,
		CreatedAt: at, FillPrice: 1.1002, FilledSize: 1000, AckedAt: at,
	}))
	require.NoError(t, j.Close())

	out, _, err := execute(t, "journal", "order", "01ORDER", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Order 01ORDER")
	assert.Contains(t, out, "BUY 1000 @ 1.10020")

	out, _, err = execute(t, "journal", "ticks", "EUR_USD", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "EUR_USD-2")
	assert.Contains(t, out, "2 ticks")

	out, _, err = execute(t, "journal", "summary", "--db", db)
	require.NoError(t, err)
	assert.Regexp(t, `BLOCKED\s+1`, out)
	assert.Regexp(t, `ORDER_GENERATED\s+1`, out)
}
