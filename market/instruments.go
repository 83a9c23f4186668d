package market

import (
	"math"
	"strings"
)

type InstrumentMeta struct {
	Name          string
	BaseCurrency  string
	QuoteCurrency string
	PipLocation   int
}

// PipSize returns the price increment of one pip, e.g. 0.0001 for EUR_USD.
func (m InstrumentMeta) PipSize() float64 {
	return math.Pow(10, float64(m.PipLocation))
}

var Instruments = map[string]InstrumentMeta{
	"EUR_USD": {Name: "EUR_USD", BaseCurrency: "EUR", QuoteCurrency: "USD", PipLocation: -4},
	"GBP_USD": {Name: "GBP_USD", BaseCurrency: "GBP", QuoteCurrency: "USD", PipLocation: -4},
	"USD_JPY": {Name: "USD_JPY", BaseCurrency: "USD", QuoteCurrency: "JPY", PipLocation: -2},
	"AUD_USD": {Name: "AUD_USD", BaseCurrency: "AUD", QuoteCurrency: "USD", PipLocation: -4},
}

// Lookup returns metadata for a known instrument.
func Lookup(name string) (InstrumentMeta, bool) {
	m, ok := Instruments[name]
	return m, ok
}

// PipSizeFor returns the pip size of any instrument. Names missing from
// Instruments fall back to the FX convention: 0.01 for JPY quotes, 0.0001
// otherwise.
func PipSizeFor(instrument string) float64 {
	if m, ok := Lookup(instrument); ok {
		return m.PipSize()
	}
	if strings.HasSuffix(instrument, "_JPY") {
		return 0.01
	}
	return 0.0001
}
