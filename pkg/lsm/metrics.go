package lsm

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// tableMetrics is a per-table metric set so several tables in one process
// (tests, the CLI) never collide in the global registry.
type tableMetrics struct {
	set *metrics.Set

	selects    *metrics.Counter
	inserts    *metrics.Counter
	deletes    *metrics.Counter
	duplicates *metrics.Counter
	notFound   *metrics.Counter

	compactions        *metrics.Counter
	compactionDuration *metrics.Histogram
	compactionWritten  *metrics.Counter
	compactionDropped  *metrics.Counter
}

// tableGauges samples table state when metrics are written.
type tableGauges struct {
	entries     func() float64 // keys stored in the base table
	pendingKeys func() float64
	pendingOps  func() float64
}

func newTableMetrics(engine string, g tableGauges) *tableMetrics {
	s := metrics.NewSet()
	name := func(metric string, labels string) string {
		if labels == "" {
			return fmt.Sprintf(`minikv_%s{engine=%q}`, metric, engine)
		}
		return fmt.Sprintf(`minikv_%s{engine=%q,%s}`, metric, engine, labels)
	}
	m := &tableMetrics{
		set:                s,
		selects:            s.NewCounter(name("operations_total", `op="select"`)),
		inserts:            s.NewCounter(name("operations_total", `op="insert"`)),
		deletes:            s.NewCounter(name("operations_total", `op="delete"`)),
		duplicates:         s.NewCounter(name("rejected_total", `reason="duplicate_key"`)),
		notFound:           s.NewCounter(name("rejected_total", `reason="not_found"`)),
		compactions:        s.NewCounter(name("compactions_total", "")),
		compactionDuration: s.NewHistogram(name("compaction_duration_seconds", "")),
		compactionWritten:  s.NewCounter(name("compaction_entries_written_total", "")),
		compactionDropped:  s.NewCounter(name("compaction_entries_dropped_total", "")),
	}
	s.NewGauge(name("table_entries", ""), g.entries)
	s.NewGauge(name("pending_keys", ""), g.pendingKeys)
	s.NewGauge(name("pending_operations", ""), g.pendingOps)
	return m
}

func (m *tableMetrics) WritePrometheus(w io.Writer) { m.set.WritePrometheus(w) }
