package lsm_test

import (
	"io"
	"log/slog"
	"testing"

	"example.com/mini-kv/pkg/lsm"
	"example.com/mini-kv/pkg/lsm/lsmtest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTables(t *testing.T) {
	lsmtest.RunTableTests(t, "DiskTable", func(t *testing.T) lsm.Table {
		table, err := lsm.Open(lsm.Options{Dir: t.TempDir(), FsyncPolicy: "none", Logger: quietLogger()})
		if err != nil {
			t.Fatal(err)
		}
		return table
	})

	// small blocks and segments so compaction and replay cross boundaries
	lsmtest.RunTableTests(t, "DiskTableSmallFiles", func(t *testing.T) lsm.Table {
		table, err := lsm.Open(lsm.Options{
			Dir:         t.TempDir(),
			FsyncPolicy: "none",
			BlockSize:   64,
			WALRollSize: 256,
			Compression: "none",
			Logger:      quietLogger(),
		})
		if err != nil {
			t.Fatal(err)
		}
		return table
	})

	lsmtest.RunTableTests(t, "DiskTableAutoCompact", func(t *testing.T) lsm.Table {
		table, err := lsm.Open(lsm.Options{
			Dir:            t.TempDir(),
			FsyncPolicy:    "none",
			AutoCompactOps: 7,
			Logger:         quietLogger(),
		})
		if err != nil {
			t.Fatal(err)
		}
		return table
	})

	lsmtest.RunTableTests(t, "MemoryTable", func(t *testing.T) lsm.Table {
		return lsm.NewMemoryTable()
	})
}
