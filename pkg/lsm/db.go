package lsm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"unicode/utf8"

	"example.com/mini-kv/pkg/sstable"
	"example.com/mini-kv/pkg/wal"
)

// Table is the user-facing interface shared by the disk and memory engines.
type Table interface {
	// Select returns the effective value of key.
	Select(ctx context.Context, key string) (string, bool, error)
	// Insert creates key. It fails with ErrDuplicateKey if key is already present.
	Insert(ctx context.Context, key, value string) error
	// Delete removes key. It fails with ErrNotFound if key is absent.
	Delete(ctx context.Context, key string) error
	Compact(ctx context.Context) error
	Dump(w io.Writer) error
	WriteMetrics(w io.Writer)
	Close() error
}

const (
	commitLogDir = "commitlog"
	tableName    = "sstable"
	tableNewName = "sstable.new"
	tableOldName = "sstable.old"
)

// Stats is a point-in-time summary of a DiskTable.
type Stats struct {
	BaseEntries uint64
	PendingKeys int
	PendingOps  int64
}

// DiskTable keeps the last compacted state in a sorted table file and every
// later mutation in the commit log, mirrored in memory by the memTable.
type DiskTable struct {
	opts    Options
	log     *slog.Logger
	wal     *wal.Wal
	base    *sstable.TableReader
	mem     *memTable
	metrics *tableMetrics

	// failed is set once a storage error leaves memory and disk possibly out
	// of step; every later call returns it.
	failed error
	closed bool
}

var _ Table = (*DiskTable)(nil)

/*
Open
1) make sure the directory exists
2) settle files left by an interrupted compaction
3) create an empty base table on first use
4) open the commit log and the base table
5) replay the commit log into the memTable
*/
func Open(opts Options) (*DiskTable, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger.With("dir", opts.Dir)
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	if err := recoverTableFiles(opts.Dir, logger); err != nil {
		return nil, err
	}
	if err := ensureBaseTable(opts.Dir, opts.tableOptions()); err != nil {
		return nil, err
	}

	w, err := wal.Open(wal.Options{
		Dir:              filepath.Join(opts.Dir, commitLogDir),
		RollSize:         opts.WALRollSize,
		FsyncPolicy:      opts.FsyncPolicy,
		TolerateTornTail: opts.TolerateTornTail,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	base, err := sstable.Open(filepath.Join(opts.Dir, tableName))
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%w: open base table: %w", ErrCorrupted, err)
	}

	t := &DiskTable{
		opts: opts,
		log:  logger,
		wal:  w,
		base: base,
		mem:  newMemTable(),
	}
	t.metrics = newTableMetrics("disk", tableGauges{
		entries:     func() float64 { return float64(t.base.Len()) },
		pendingKeys: func() float64 { return float64(t.mem.NumKeys()) },
		pendingOps:  func() float64 { return float64(t.mem.NumOps()) },
	})
	if err := t.replay(); err != nil {
		_ = w.Close()
		_ = base.Close()
		return nil, err
	}
	logger.Info("table opened",
		"base_entries", base.Len(), "replayed_ops", t.mem.NumOps(), "pending_keys", t.mem.NumKeys())
	return t, nil
}

func (t *DiskTable) replay() error {
	err := t.wal.Replay(wal.Handle{}, func(h wal.Handle, payload []byte) error {
		op, err := DecodeOperation(payload)
		if err != nil {
			return fmt.Errorf("record %s: %w", h, err)
		}
		t.mem.Append(op)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: replay commit log: %w", ErrCorrupted, err)
	}
	return nil
}

// check gates every operation on table state and the caller's context.
func (t *DiskTable) check(ctx context.Context) error {
	if t.closed {
		return ErrClosed
	}
	if t.failed != nil {
		return t.failed
	}
	return ctx.Err()
}

// fail moves the table into the failed state.
func (t *DiskTable) fail(err error) error {
	if !errors.Is(err, ErrStorage) {
		err = fmt.Errorf("%w: %w", ErrStorage, err)
	}
	t.failed = err
	t.log.Error("table failed, reopen required", "err", err)
	return err
}

// lookup computes the effective value of key.
func (t *DiskTable) lookup(key string) (string, bool, error) {
	raw, ok, err := t.base.Get([]byte(key))
	if err != nil {
		return "", false, fmt.Errorf("%w: read base table: %w", ErrCorrupted, err)
	}
	var val string
	if ok {
		if !utf8.Valid(raw) {
			return "", false, fmt.Errorf("%w: stored value for %q is not valid UTF-8", ErrCorrupted, key)
		}
		val = string(raw)
	}
	val, ok = resolve(val, ok, t.mem.Ops(key))
	return val, ok, nil
}

func (t *DiskTable) Select(ctx context.Context, key string) (string, bool, error) {
	if err := t.check(ctx); err != nil {
		return "", false, err
	}
	t.metrics.selects.Inc()
	return t.lookup(key)
}

func (t *DiskTable) Insert(ctx context.Context, key, value string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	_, present, err := t.lookup(key)
	if err != nil {
		return err
	}
	if present {
		t.metrics.duplicates.Inc()
		return ErrDuplicateKey
	}
	if err := t.commit(InsertOp(key, value)); err != nil {
		return err
	}
	t.metrics.inserts.Inc()
	t.maybeCompact(ctx)
	return nil
}

func (t *DiskTable) Delete(ctx context.Context, key string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	_, present, err := t.lookup(key)
	if err != nil {
		return err
	}
	if !present {
		t.metrics.notFound.Inc()
		return ErrNotFound
	}
	if err := t.commit(DeleteOp(key)); err != nil {
		return err
	}
	t.metrics.deletes.Inc()
	t.maybeCompact(ctx)
	return nil
}

// commit makes op durable and only then visible.
func (t *DiskTable) commit(op Operation) error {
	h, err := t.wal.Append(EncodeOperation(op))
	if err != nil {
		return t.fail(fmt.Errorf("append commit log: %w", err))
	}
	if err := t.wal.Flush(); err != nil {
		return t.fail(fmt.Errorf("flush commit log: %w", err))
	}
	t.mem.Append(op)
	t.log.Debug("operation committed", "op", op.Kind, "key", op.Key, "record", h)
	return nil
}

// maybeCompact runs after a write is already durable and applied, so its
// failure is not the write's. A failure before the swap leaves everything
// pending for the next attempt; one during the swap has already failed the
// table and surfaces on the next call.
func (t *DiskTable) maybeCompact(ctx context.Context) {
	if t.opts.AutoCompactOps <= 0 || t.mem.NumOps() < int64(t.opts.AutoCompactOps) {
		return
	}
	if err := t.Compact(context.WithoutCancel(ctx)); err != nil {
		t.log.Error("auto compaction failed", "pending_ops", t.mem.NumOps(), "err", err)
	}
}

func (t *DiskTable) Stats() Stats {
	return Stats{
		BaseEntries: t.base.Len(),
		PendingKeys: t.mem.NumKeys(),
		PendingOps:  t.mem.NumOps(),
	}
}

// Dump writes the pending operations per key followed by a summary line.
func (t *DiskTable) Dump(w io.Writer) error {
	if t.closed {
		return ErrClosed
	}
	it := t.mem.NewIterator()
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		if _, err := fmt.Fprintf(w, "%q: %v\n", it.Key(), it.Ops()); err != nil {
			return err
		}
	}
	st := t.Stats()
	_, err := fmt.Fprintf(w, "base table: %d entries, pending: %d keys, %d log records\n",
		st.BaseEntries, st.PendingKeys, st.PendingOps)
	return err
}

func (t *DiskTable) WriteMetrics(w io.Writer) { t.metrics.WritePrometheus(w) }

func (t *DiskTable) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return errors.Join(t.wal.Close(), t.base.Close())
}

/*
recoverTableFiles decides the canonical base table from file presence alone:
  - sstable.new is an unfinished compaction, the live table is still authoritative
  - sstable.old without sstable is a legacy swap cut short between its two renames
  - sstable.old next to sstable is a legacy swap that finished everything but cleanup
*/
func recoverTableFiles(dir string, logger *slog.Logger) error {
	canonical := filepath.Join(dir, tableName)
	newPath := filepath.Join(dir, tableNewName)
	oldPath := filepath.Join(dir, tableOldName)

	if exists(newPath) {
		logger.Warn("discarding unfinished compaction output", "file", tableNewName)
		if err := os.Remove(newPath); err != nil {
			return err
		}
	}
	if exists(oldPath) {
		if exists(canonical) {
			logger.Warn("removing superseded base table", "file", tableOldName)
			if err := os.Remove(oldPath); err != nil {
				return err
			}
		} else {
			logger.Warn("restoring base table from interrupted swap", "file", tableOldName)
			if err := os.Rename(oldPath, canonical); err != nil {
				return err
			}
		}
	}
	return syncDir(dir)
}

// ensureBaseTable writes an empty table through the same new-then-rename
// path compaction uses, so a crash here also leaves at most sstable.new.
func ensureBaseTable(dir string, opts sstable.Options) error {
	canonical := filepath.Join(dir, tableName)
	if exists(canonical) {
		return nil
	}
	newPath := filepath.Join(dir, tableNewName)
	if _, err := writeTable(newPath, opts, func(*sstable.TableWriter) error { return nil }); err != nil {
		_ = os.Remove(newPath)
		return err
	}
	if err := os.Rename(newPath, canonical); err != nil {
		return err
	}
	return syncDir(dir)
}

// writeTable creates path, lets fill add entries and finishes the table.
func writeTable(path string, opts sstable.Options, fill func(*sstable.TableWriter) error) (sstable.Footer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return sstable.Footer{}, err
	}
	tw, err := sstable.NewTableWriter(f, opts)
	if err != nil {
		_ = f.Close()
		return sstable.Footer{}, err
	}
	defer tw.Close()
	if err := fill(tw); err != nil {
		return sstable.Footer{}, err
	}
	footer, err := tw.Finish()
	if err != nil {
		return sstable.Footer{}, err
	}
	return footer, tw.Close()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
