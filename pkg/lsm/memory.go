package lsm

import (
	"context"
	"fmt"
	"io"

	"github.com/zhangyunhao116/skipmap"
)

// MemoryTable is a volatile Table with the same rules as DiskTable. It keeps
// nothing across restarts and is meant for tests and scratch sessions.
type MemoryTable struct {
	data    *skipmap.FuncMap[string, string]
	metrics *tableMetrics
	closed  bool
}

var _ Table = (*MemoryTable)(nil)

func NewMemoryTable() *MemoryTable {
	t := &MemoryTable{
		data: skipmap.NewFunc[string, string](func(a, b string) bool { return a < b }),
	}
	none := func() float64 { return 0 }
	t.metrics = newTableMetrics("memory", tableGauges{
		entries:     func() float64 { return float64(t.data.Len()) },
		pendingKeys: none,
		pendingOps:  none,
	})
	return t
}

func (t *MemoryTable) check(ctx context.Context) error {
	if t.closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (t *MemoryTable) Select(ctx context.Context, key string) (string, bool, error) {
	if err := t.check(ctx); err != nil {
		return "", false, err
	}
	t.metrics.selects.Inc()
	v, ok := t.data.Load(key)
	return v, ok, nil
}

func (t *MemoryTable) Insert(ctx context.Context, key, value string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}
	if _, loaded := t.data.LoadOrStore(key, value); loaded {
		t.metrics.duplicates.Inc()
		return ErrDuplicateKey
	}
	t.metrics.inserts.Inc()
	return nil
}

func (t *MemoryTable) Delete(ctx context.Context, key string) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if _, ok := t.data.LoadAndDelete(key); !ok {
		t.metrics.notFound.Inc()
		return ErrNotFound
	}
	t.metrics.deletes.Inc()
	return nil
}

// Compact has nothing to fold.
func (t *MemoryTable) Compact(ctx context.Context) error { return t.check(ctx) }

// Dump writes every key and value in ascending key order.
func (t *MemoryTable) Dump(w io.Writer) error {
	if t.closed {
		return ErrClosed
	}
	var err error
	t.data.Range(func(key, value string) bool {
		_, err = fmt.Fprintf(w, "%q: %q\n", key, value)
		return err == nil
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "memory table: %d entries\n", t.data.Len())
	return err
}

func (t *MemoryTable) WriteMetrics(w io.Writer) { t.metrics.WritePrometheus(w) }

func (t *MemoryTable) Close() error {
	t.closed = true
	return nil
}
