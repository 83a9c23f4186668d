package metrics

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRecordDeltaAccumulates(t *testing.T) {
	t.Parallel()

	a := New()
	require.NoError(t, a.RecordDelta("EUR_USD", Delta{Trades: 1, PnL: dec("10.10"), Exposure: dec("1000"), WinRate: 1}))
	require.NoError(t, a.RecordDelta("EUR_USD", Delta{Trades: 2, PnL: dec("-3.05"), Exposure: dec("500"), WinRate: 0.5}))

	rec := a.Status()["EUR_USD"]
	assert.Equal(t, int64(3), rec.TradeCount)
	assert.True(t, rec.CumulativePnL.Equal(dec("7.05")), rec.CumulativePnL.String())
	assert.True(t, rec.Exposure.Equal(dec("500")))
	assert.Equal(t, 0.5, rec.WinRate)
}

func TestReplaceSnapshotOverwrites(t *testing.T) {
	t.Parallel()

	a := New()
	require.NoError(t, a.ReplaceSnapshot(SymbolMetrics{Instrument: "GBP_USD", TradeCount: 5, CumulativePnL: dec("42")}))
	require.NoError(t, a.ReplaceSnapshot(SymbolMetrics{Instrument: "GBP_USD", TradeCount: 6, CumulativePnL: dec("40")}))

	rec := a.Status()["GBP_USD"]
	assert.Equal(t, int64(6), rec.TradeCount)
	assert.True(t, rec.CumulativePnL.Equal(dec("40")))
}

func TestMixedModesRejected(t *testing.T) {
	t.Parallel()

	a := New()
	require.NoError(t, a.ReplaceSnapshot(SymbolMetrics{Instrument: "EUR_USD", TradeCount: 1, CumulativePnL: dec("5")}))

	err := a.RecordDelta("EUR_USD", Delta{Trades: 1, PnL: dec("5")})
	assert.ErrorIs(t, err, ErrMixedUpdateModes)
	rec := a.Status()["EUR_USD"]
	assert.Equal(t, int64(1), rec.TradeCount)
	assert.True(t, rec.CumulativePnL.Equal(dec("5")))

	require.NoError(t, a.RecordDelta("USD_JPY", Delta{Trades: 1}))
	err = a.ReplaceSnapshot(SymbolMetrics{Instrument: "USD_JPY"})
	assert.ErrorIs(t, err, ErrMixedUpdateModes)

	// Reset unpins.
	a.Reset("USD_JPY")
	assert.NoError(t, a.ReplaceSnapshot(SymbolMetrics{Instrument: "USD_JPY"}))
}

func TestEmptyInstrumentRejected(t *testing.T) {
	t.Parallel()

	a := New()
	assert.Error(t, a.RecordDelta("", Delta{}))
	assert.Error(t, a.ReplaceSnapshot(SymbolMetrics{}))
	assert.Empty(t, a.Status())
}

func TestStatusIsACopy(t *testing.T) {
	t.Parallel()

	a := New()
	require.NoError(t, a.RecordDelta("EUR_USD", Delta{Trades: 1, PnL: dec("1")}))

	st := a.Status()
	st["EUR_USD"] = SymbolMetrics{Instrument: "EUR_USD", TradeCount: 99}
	delete(st, "EUR_USD")

	assert.Equal(t, int64(1), a.Status()["EUR_USD"].TradeCount)
}

func TestReport(t *testing.T) {
	t.Parallel()

	a := New()
	fixed := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	empty := a.Report()
	assert.Zero(t, empty.Instruments)
	assert.True(t, empty.TotalPnL.IsZero())
	assert.Zero(t, empty.AverageWinRate)

	require.NoError(t, a.ReplaceSnapshot(SymbolMetrics{Instrument: "A", TradeCount: 2, CumulativePnL: dec("1.5"), Exposure: dec("100"), WinRate: 1}))
	require.NoError(t, a.ReplaceSnapshot(SymbolMetrics{Instrument: "B", TradeCount: 3, CumulativePnL: dec("-0.5"), Exposure: dec("50"), WinRate: 0}))

	r := a.Report()
	assert.Equal(t, 2, r.Instruments)
	assert.Equal(t, int64(5), r.TotalTrades)
	assert.True(t, r.TotalPnL.Equal(dec("1")))
	assert.True(t, r.TotalExposure.Equal(dec("150")))
	assert.Equal(t, 0.5, r.AverageWinRate)
	assert.Equal(t, fixed, r.GeneratedAt)
	assert.Equal(t, []string{"A", "B"}, a.Instruments())
}

// Many writers, exact totals: the aggregate must equal independently
// tracked ground truth with zero error.
func TestConcurrentPnLIsExact(t *testing.T) {
	t.Parallel()

	a := New()
	const writers, updates = 16, 500

	truth := make([]decimal.Decimal, writers)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			instr := fmt.Sprintf("SYM_%02d", w%4)
			local := decimal.Zero
			for i := 0; i < updates; i++ {
				// 0.1, -0.07, 0.03 ... values that drift in float64.
				pnl := decimal.New(int64((i%7)-3), -2).Add(dec("0.1"))
				local = local.Add(pnl)
				assert.NoError(t, a.RecordDelta(instr, Delta{Trades: 1, PnL: pnl}))
			}
			truth[w] = local
		}(w)
	}

	// Readers run alongside the writers.
	stop := make(chan struct{})
	var rwg sync.WaitGroup
	rwg.Add(1)
	go func() {
		defer rwg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = a.Report()
				_ = a.Status()
			}
		}
	}()

	wg.Wait()
	close(stop)
	rwg.Wait()

	want := decimal.Zero
	for _, v := range truth {
		want = want.Add(v)
	}

	r := a.Report()
	assert.Equal(t, int64(writers*updates), r.TotalTrades)
	assert.True(t, r.TotalPnL.Equal(want), "got %s want %s", r.TotalPnL, want)
}

func TestCollector(t *testing.T) {
	t.Parallel()

	a := New()
	require.NoError(t, a.ReplaceSnapshot(SymbolMetrics{Instrument: "EUR_USD", TradeCount: 4, CumulativePnL: dec("12.5"), Exposure: dec("1100"), WinRate: 0.75}))

	c := NewCollector(a)
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP livetrader_symbol_trades Trade count per instrument
# TYPE livetrader_symbol_trades gauge
livetrader_symbol_trades{instrument="EUR_USD"} 4
# HELP livetrader_symbol_pnl Cumulative realized PnL per instrument
# TYPE livetrader_symbol_pnl gauge
livetrader_symbol_pnl{instrument="EUR_USD"} 12.5
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"livetrader_symbol_trades", "livetrader_symbol_pnl"))
}
