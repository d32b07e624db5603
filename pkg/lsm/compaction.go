package lsm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"example.com/mini-kv/pkg/sstable"
)

type compactionStats struct {
	written uint64
	dropped uint64
}

// Compact folds every pending operation into a new base table, then empties
// the commit log and the memTable. Until the rename the live table is left
// untouched; a failure after it leaves the table failed.
func (t *DiskTable) Compact(ctx context.Context) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	start := time.Now()
	newPath := filepath.Join(t.opts.Dir, tableNewName)

	var st compactionStats
	_, err := writeTable(newPath, t.opts.tableOptions(), func(tw *sstable.TableWriter) error {
		var err error
		st, err = t.merge(tw)
		return err
	})
	if err != nil {
		_ = os.Remove(newPath)
		return fmt.Errorf("compact: %w", err)
	}

	canonical := filepath.Join(t.opts.Dir, tableName)
	if err := os.Rename(newPath, canonical); err != nil {
		_ = os.Remove(newPath)
		return fmt.Errorf("compact: install table: %w", err)
	}
	if err := syncDir(t.opts.Dir); err != nil {
		return t.fail(fmt.Errorf("compact: sync directory: %w", err))
	}
	base, err := sstable.Open(canonical)
	if err != nil {
		return t.fail(fmt.Errorf("compact: reopen base table: %w", err))
	}
	old := t.base
	t.base = base
	if err := old.Close(); err != nil {
		t.log.Warn("closing replaced base table", "err", err)
	}
	if err := t.wal.Reset(); err != nil {
		return t.fail(fmt.Errorf("compact: reset commit log: %w", err))
	}
	folded := t.mem.NumOps()
	t.mem.Clear()

	t.metrics.compactions.Inc()
	t.metrics.compactionDuration.UpdateDuration(start)
	t.metrics.compactionWritten.Add(int(st.written))
	t.metrics.compactionDropped.Add(int(st.dropped))
	t.log.Info("compaction finished",
		"entries", st.written, "dropped", st.dropped, "folded_ops", folded, "took", time.Since(start))
	return nil
}

// merge walks the base table and the memTable in lockstep and writes the
// effective value of every key that is still present.
func (t *DiskTable) merge(tw *sstable.TableWriter) (compactionStats, error) {
	var st compactionStats
	emit := func(key, val []byte) error {
		st.written++
		return tw.Add(key, val)
	}
	// emitResolved writes the key only if its pending ops leave it present.
	emitResolved := func(key string, val string, ok bool, ops []Operation) error {
		val, ok = resolve(val, ok, ops)
		if !ok {
			st.dropped++
			return nil
		}
		return emit([]byte(key), []byte(val))
	}

	bit := t.base.NewIterator()
	defer bit.Close()
	pit := t.mem.NewIterator()
	defer pit.Close()

	bit.First()
	pit.First()
	for bit.Valid() || pit.Valid() {
		var c int
		switch {
		case !pit.Valid():
			c = -1
		case !bit.Valid():
			c = 1
		default:
			c = bytes.Compare(bit.Key(), []byte(pit.Key()))
		}

		var err error
		switch {
		case c < 0:
			err = emit(bit.Key(), bit.Value())
			bit.Next()
		case c > 0:
			err = emitResolved(pit.Key(), "", false, pit.Ops())
			pit.Next()
		default:
			err = emitResolved(pit.Key(), string(bit.Value()), true, pit.Ops())
			bit.Next()
			pit.Next()
		}
		if err != nil {
			return st, err
		}
	}
	if err := bit.Err(); err != nil {
		return st, fmt.Errorf("%w: read base table: %w", ErrCorrupted, err)
	}
	return st, nil
}
