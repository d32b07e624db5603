package lsm

import "errors"

// Logical outcomes. The table is unchanged when one of these is returned.
var (
	ErrNotFound        = errors.New("lsm: key not found")
	ErrDuplicateKey    = errors.New("lsm: duplicate key")
	ErrInvalidArgument = errors.New("lsm: invalid argument")
	ErrClosed          = errors.New("lsm: table is closed")
)

// Storage failures.
var (
	// ErrCorrupted marks persisted data that cannot be decoded.
	ErrCorrupted = errors.New("lsm: corrupted storage")
	// ErrCorruptedRecord is returned by DecodeOperation and wraps into ErrCorrupted during replay.
	ErrCorruptedRecord = errors.New("lsm: corrupted mutation record")
	// ErrStorage marks an I/O failure after which the table refuses further operations.
	ErrStorage = errors.New("lsm: storage failure")
)
