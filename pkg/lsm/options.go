package lsm

import (
	"fmt"
	"log/slog"

	"example.com/mini-kv/pkg/sstable"
	"example.com/mini-kv/pkg/wal"
)

type Options struct {
	Dir string

	// Commit log
	WALRollSize      int64
	FsyncPolicy      string // "always"|"none"
	TolerateTornTail bool

	// Base table
	BlockSize   int
	BloomFpRate float64
	Compression string // "s2"|"none"

	// AutoCompactOps compacts after a write once this many operations are
	// pending. 0 leaves compaction to explicit Compact calls.
	AutoCompactOps int

	Logger *slog.Logger
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:         dir,
		WALRollSize: 64 << 20,
		FsyncPolicy: wal.FsyncAlways,
		BlockSize:   sstable.DefaultBlockSize,
		BloomFpRate: 0.01,
		Compression: "s2",
	}
}

func (o Options) withDefaults() Options {
	if o.Dir == "" {
		o.Dir = "./data"
	}
	d := DefaultOptions(o.Dir)
	if o.WALRollSize == 0 {
		o.WALRollSize = d.WALRollSize
	}
	if o.FsyncPolicy == "" {
		o.FsyncPolicy = d.FsyncPolicy
	}
	if o.BlockSize == 0 {
		o.BlockSize = d.BlockSize
	}
	if o.Compression == "" {
		o.Compression = d.Compression
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) validate() error {
	switch o.FsyncPolicy {
	case wal.FsyncAlways, wal.FsyncNone:
	default:
		return fmt.Errorf("%w: fsync policy %q", ErrInvalidArgument, o.FsyncPolicy)
	}
	switch o.Compression {
	case "s2", "none":
	default:
		return fmt.Errorf("%w: compression %q", ErrInvalidArgument, o.Compression)
	}
	if o.WALRollSize < 0 || o.BlockSize < 0 || o.AutoCompactOps < 0 {
		return fmt.Errorf("%w: negative size option", ErrInvalidArgument)
	}
	if o.BloomFpRate < 0 || o.BloomFpRate >= 1 {
		return fmt.Errorf("%w: bloom false positive rate %v", ErrInvalidArgument, o.BloomFpRate)
	}
	return nil
}

func (o Options) tableOptions() sstable.Options {
	return sstable.Options{BlockSize: o.BlockSize, BloomFpRate: o.BloomFpRate, Compression: o.Compression}
}
