// Package lsmtest holds the behavior suite every lsm.Table implementation must pass.
package lsmtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"example.com/mini-kv/pkg/lsm"
)

// TableFactory creates a fresh, empty table. The suite closes it.
type TableFactory func(t *testing.T) lsm.Table

// RunTableTests runs the shared suite for a Table implementation.
func RunTableTests(t *testing.T, name string, factory TableFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Insert&Select", func(t *testing.T) {
			testInsertSelect(t, factory(t))
		})

		t.Run("InsertIsCreate", func(t *testing.T) {
			testInsertIsCreate(t, factory(t))
		})

		t.Run("DeleteRequiresPresence", func(t *testing.T) {
			testDeleteRequiresPresence(t, factory(t))
		})

		t.Run("DuplicateThenDeleteScenario", func(t *testing.T) {
			testDuplicateThenDeleteScenario(t, factory(t))
		})

		t.Run("CompactPreservesValues", func(t *testing.T) {
			testCompactPreservesValues(t, factory(t))
		})

		t.Run("IdempotentReads", func(t *testing.T) {
			testIdempotentReads(t, factory(t))
		})

		t.Run("InvalidArguments", func(t *testing.T) {
			testInvalidArguments(t, factory(t))
		})

		t.Run("CancelledContext", func(t *testing.T) {
			testCancelledContext(t, factory(t))
		})

		t.Run("Closed", func(t *testing.T) {
			testClosed(t, factory(t))
		})

		t.Run("RandomizedAgainstModel", func(t *testing.T) {
			testRandomizedAgainstModel(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// MustSelect fails the test unless key currently has value want.
func MustSelect(t testing.TB, table lsm.Table, key, want string) {
	t.Helper()
	got, ok, err := table.Select(context.Background(), key)
	if err != nil || !ok || got != want {
		t.Fatalf("select %q mismatch: ok=%v err=%v val=%q want=%q", key, ok, err, got, want)
	}
}

// MustBeAbsent fails the test unless key has no value.
func MustBeAbsent(t testing.TB, table lsm.Table, key string) {
	t.Helper()
	got, ok, err := table.Select(context.Background(), key)
	if err != nil || ok {
		t.Fatalf("select %q: expected absent, got ok=%v err=%v val=%q", key, ok, err, got)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInsertSelect(t *testing.T, table lsm.Table) {
	defer table.Close()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if err := table.Insert(ctx, fmt.Sprintf("key-%02d", i), fmt.Sprintf("value-%02d", i)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	for i := 0; i < 50; i++ {
		MustSelect(t, table, fmt.Sprintf("key-%02d", i), fmt.Sprintf("value-%02d", i))
	}
	MustBeAbsent(t, table, "nonexistent-key")

	// values are stored as given, including spaces and non-ASCII text
	if err := table.Insert(ctx, "ключ", "значение with spaces"); err != nil {
		t.Fatalf("insert unicode: %v", err)
	}
	MustSelect(t, table, "ключ", "значение with spaces")
	if err := table.Insert(ctx, "empty", ""); err != nil {
		t.Fatalf("insert empty value: %v", err)
	}
	MustSelect(t, table, "empty", "")
}

func testInsertIsCreate(t *testing.T, table lsm.Table) {
	defer table.Close()
	ctx := context.Background()

	if err := table.Insert(ctx, "k", "v1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := table.Insert(ctx, "k", "v2"); !errors.Is(err, lsm.ErrDuplicateKey) {
		t.Fatalf("second insert: expected ErrDuplicateKey, got %v", err)
	}
	MustSelect(t, table, "k", "v1")

	if err := table.Compact(ctx); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if err := table.Insert(ctx, "k", "v3"); !errors.Is(err, lsm.ErrDuplicateKey) {
		t.Fatalf("insert over compacted key: expected ErrDuplicateKey, got %v", err)
	}
	MustSelect(t, table, "k", "v1")
}

func testDeleteRequiresPresence(t *testing.T, table lsm.Table) {
	defer table.Close()
	ctx := context.Background()

	if err := table.Delete(ctx, "missing"); !errors.Is(err, lsm.ErrNotFound) {
		t.Fatalf("delete missing: expected ErrNotFound, got %v", err)
	}
	if err := table.Insert(ctx, "k", "v"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := table.Compact(ctx); err != nil {
		t.Fatalf("compact: %v", err)
	}
	// delete of a compacted key, then re-create it
	if err := table.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := table.Delete(ctx, "k"); !errors.Is(err, lsm.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
	if err := table.Insert(ctx, "k", "again"); err != nil {
		t.Fatalf("re-insert: %v", err)
	}
	MustSelect(t, table, "k", "again")
}

func testDuplicateThenDeleteScenario(t *testing.T, table lsm.Table) {
	defer table.Close()
	ctx := context.Background()

	if err := table.Insert(ctx, "a", "1"); err != nil {
		t.Fatalf("insert a=1: %v", err)
	}
	if err := table.Insert(ctx, "a", "2"); !errors.Is(err, lsm.ErrDuplicateKey) {
		t.Fatalf("insert a=2: %v", err)
	}
	MustSelect(t, table, "a", "1")
	if err := table.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete a: %v", err)
	}
	MustBeAbsent(t, table, "a")
	if err := table.Delete(ctx, "a"); !errors.Is(err, lsm.ErrNotFound) {
		t.Fatalf("second delete a: %v", err)
	}
}

func testCompactPreservesValues(t *testing.T, table lsm.Table) {
	defer table.Close()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := table.Insert(ctx, fmt.Sprintf("k%03d", i), fmt.Sprintf("v%03d", i)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	for i := 0; i < 100; i += 3 {
		if err := table.Delete(ctx, fmt.Sprintf("k%03d", i)); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
	if err := table.Compact(ctx); err != nil {
		t.Fatalf("compact: %v", err)
	}
	// a second compaction with nothing pending changes nothing
	if err := table.Compact(ctx); err != nil {
		t.Fatalf("compact again: %v", err)
	}
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("k%03d", i)
		if i%3 == 0 {
			MustBeAbsent(t, table, key)
		} else {
			MustSelect(t, table, key, fmt.Sprintf("v%03d", i))
		}
	}
}

func testIdempotentReads(t *testing.T, table lsm.Table) {
	defer table.Close()
	ctx := context.Background()

	if err := table.Insert(ctx, "k", "v"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var before bytes.Buffer
	if err := table.Dump(&before); err != nil {
		t.Fatalf("dump: %v", err)
	}
	for i := 0; i < 10; i++ {
		MustSelect(t, table, "k", "v")
		MustBeAbsent(t, table, "other")
	}
	var after bytes.Buffer
	if err := table.Dump(&after); err != nil {
		t.Fatalf("dump: %v", err)
	}
	if before.String() != after.String() {
		t.Fatalf("reads changed table state:\nbefore:\n%s\nafter:\n%s", before.String(), after.String())
	}
}

func testInvalidArguments(t *testing.T, table lsm.Table) {
	defer table.Close()
	ctx := context.Background()

	if err := table.Insert(ctx, "", "v"); !errors.Is(err, lsm.ErrInvalidArgument) {
		t.Fatalf("insert empty key: %v", err)
	}
	if err := table.Insert(ctx, "bad\xff", "v"); !errors.Is(err, lsm.ErrInvalidArgument) {
		t.Fatalf("insert invalid key: %v", err)
	}
	if err := table.Insert(ctx, "k", "bad\xff"); !errors.Is(err, lsm.ErrInvalidArgument) {
		t.Fatalf("insert invalid value: %v", err)
	}
	if err := table.Delete(ctx, ""); !errors.Is(err, lsm.ErrInvalidArgument) {
		t.Fatalf("delete empty key: %v", err)
	}
	MustBeAbsent(t, table, "k")
}

func testCancelledContext(t *testing.T, table lsm.Table) {
	defer table.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := table.Insert(ctx, "k", "v"); !errors.Is(err, context.Canceled) {
		t.Fatalf("insert with cancelled ctx: %v", err)
	}
	if _, _, err := table.Select(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Fatalf("select with cancelled ctx: %v", err)
	}
	MustBeAbsent(t, table, "k")
}

func testClosed(t *testing.T, table lsm.Table) {
	ctx := context.Background()
	if err := table.Insert(ctx, "k", "v"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := table.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, _, err := table.Select(ctx, "k"); !errors.Is(err, lsm.ErrClosed) {
		t.Fatalf("select after close: %v", err)
	}
	if err := table.Insert(ctx, "x", "y"); !errors.Is(err, lsm.ErrClosed) {
		t.Fatalf("insert after close: %v", err)
	}
	if err := table.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

// testRandomizedAgainstModel drives the table and a plain map with the same
// operations, compacting now and then, and compares every key at the end.
func testRandomizedAgainstModel(t *testing.T, table lsm.Table) {
	defer table.Close()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	model := map[string]string{}

	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("key-%03d", rng.Intn(200))
		switch rng.Intn(10) {
		case 0:
			if err := table.Compact(ctx); err != nil {
				t.Fatalf("compact: %v", err)
			}
		case 1, 2, 3, 4, 5:
			val := fmt.Sprintf("val-%d", i)
			err := table.Insert(ctx, key, val)
			if _, exists := model[key]; exists {
				if !errors.Is(err, lsm.ErrDuplicateKey) {
					t.Fatalf("op %d insert %q: expected ErrDuplicateKey, got %v", i, key, err)
				}
			} else {
				if err != nil {
					t.Fatalf("op %d insert %q: %v", i, key, err)
				}
				model[key] = val
			}
		default:
			err := table.Delete(ctx, key)
			if _, exists := model[key]; exists {
				if err != nil {
					t.Fatalf("op %d delete %q: %v", i, key, err)
				}
				delete(model, key)
			} else if !errors.Is(err, lsm.ErrNotFound) {
				t.Fatalf("op %d delete %q: expected ErrNotFound, got %v", i, key, err)
			}
		}
	}

	keys := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		keys = append(keys, fmt.Sprintf("key-%03d", i))
	}
	sort.Strings(keys)
	var missing []string
	for _, key := range keys {
		want, exists := model[key]
		got, ok, err := table.Select(ctx, key)
		if err != nil {
			t.Fatalf("select %q: %v", key, err)
		}
		if ok != exists || got != want {
			missing = append(missing, fmt.Sprintf("%s(got %q/%v want %q/%v)", key, got, ok, want, exists))
		}
	}
	if len(missing) > 0 {
		t.Fatalf("table diverged from model: %s", strings.Join(missing, ", "))
	}
}
