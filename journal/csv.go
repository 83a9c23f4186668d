package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
	"time"
)

var (
	tickHeader  = []string{"timestamp", "tick_id", "instrument_id", "action", "reason", "order_id", "latency_ms"}
	orderHeader = []string{"order_id", "instrument_id", "action", "entry_price", "size", "created_at", "fill_price", "filled_size", "acked_at"}
)

type CSV struct {
	mu     sync.Mutex
	ticks  *csv.Writer
	orders *csv.Writer
	tf, of *os.File
}

func NewCSV(ticksPath, ordersPath string) (*CSV, error) {
	tf, err := os.Create(ticksPath)
	if err != nil {
		return nil, err
	}
	of, err := os.Create(ordersPath)
	if err != nil {
		_ = tf.Close()
		return nil, err
	}

	j := &CSV{ticks: csv.NewWriter(tf), orders: csv.NewWriter(of), tf: tf, of: of}

	if err := j.write(j.ticks, tickHeader); err != nil {
		_ = j.Close()
		return nil, err
	}
	if err := j.write(j.orders, orderHeader); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

func (j *CSV) RecordTick(e TickEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(j.ticks, []string{
		e.Timestamp.Format(time.RFC3339Nano),
		e.TickID,
		e.Instrument,
		e.Action,
		e.Reason,
		e.OrderID,
		strconv.FormatFloat(e.LatencyMS, 'f', 3, 64),
	})
}

func (j *CSV) RecordOrder(o OrderRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(j.orders, []string{
		o.OrderID,
		o.Instrument,
		o.Action,
		f(o.EntryPrice),
		f(o.Size),
		o.CreatedAt.Format(time.RFC3339Nano),
		f(o.FillPrice),
		f(o.FilledSize),
		o.AckedAt.Format(time.RFC3339Nano),
	})
}

func (j *CSV) write(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.ticks.Flush()
	if err := j.ticks.Error(); err != nil {
		return err
	}
	j.orders.Flush()
	if err := j.orders.Error(); err != nil {
		return err
	}

	if err := j.tf.Close(); err != nil {
		return err
	}
	return j.of.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
