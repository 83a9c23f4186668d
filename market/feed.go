package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrBadRow marks a single unparseable feed row. The feed stays usable and
// the next call to Next continues with the following row.
var ErrBadRow = errors.New("bad tick row")

// CSVTickFeed reads canonical tick rows:
//
//	time,instrument,bid,ask[,volume]
//
// where time is RFC3339 or RFC3339Nano. A single header row ("time,...")
// is allowed. Empty or short rows are skipped.
type CSVTickFeed struct {
	c io.Closer
	r *csv.Reader

	sawFirst bool
}

func OpenCSVTickFeed(path string) (*CSVTickFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewCSVTickFeed(f), nil
}

// NewCSVTickFeed reads from r. If r is an io.Closer it is closed by Close.
func NewCSVTickFeed(r io.Reader) *CSVTickFeed {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	feed := &CSVTickFeed{r: cr}
	if c, ok := r.(io.Closer); ok {
		feed.c = c
	}
	return feed
}

func (f *CSVTickFeed) Close() error {
	if f.c != nil {
		return f.c.Close()
	}
	return nil
}

func (f *CSVTickFeed) Next(ctx context.Context) (Tick, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Tick{}, err
		}

		row, err := f.r.Read()
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return Tick{}, fmt.Errorf("%w: %v", ErrBadRow, err)
			}
			return Tick{}, err
		}
		if len(row) == 0 {
			continue
		}

		if !f.sawFirst {
			f.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}

		t, ok, err := parseTickRow(row)
		if err != nil {
			return Tick{}, fmt.Errorf("%w: %v", ErrBadRow, err)
		}
		if !ok {
			continue
		}
		return t, nil
	}
}

func parseTickRow(row []string) (Tick, bool, error) {
	if len(row) < 4 {
		return Tick{}, false, nil
	}

	ts := strings.TrimSpace(row[0])
	if ts == "" {
		return Tick{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, ts)
		if err2 != nil {
			return Tick{}, false, fmt.Errorf("bad time %q: %w", ts, err)
		}
		t = t2
	}

	inst := strings.TrimSpace(row[1])
	if inst == "" {
		return Tick{}, false, nil
	}

	bid, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return Tick{}, false, fmt.Errorf("bad bid %q: %w", row[2], err)
	}
	ask, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
	if err != nil {
		return Tick{}, false, fmt.Errorf("bad ask %q: %w", row[3], err)
	}

	var vol float64
	if len(row) >= 5 && strings.TrimSpace(row[4]) != "" {
		vol, err = strconv.ParseFloat(strings.TrimSpace(row[4]), 64)
		if err != nil {
			return Tick{}, false, fmt.Errorf("bad volume %q: %w", row[4], err)
		}
	}

	return Tick{Time: t, Instrument: inst, Bid: bid, Ask: ask, Volume: vol}, true, nil
}
