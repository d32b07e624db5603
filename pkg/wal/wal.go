// Package wal implements the segmented commit log that backs the table.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

/*
Record format:
[ len   : 4 bytes ]      length of the payload
[ crc32 : 4 bytes ]      castagnoli checksum of the payload
[ payload : len bytes ]  opaque to the log
*/

const (
	headerSize = 8

	// MaxRecordSize bounds a single payload. Anything larger in a header is
	// treated as corruption rather than an allocation request.
	MaxRecordSize = 64 << 20

	FsyncAlways = "always"
	FsyncNone   = "none"
)

var (
	ErrCorrupted      = errors.New("wal: corrupted record")
	ErrClosed         = errors.New("wal: closed")
	ErrRecordTooLarge = errors.New("wal: record too large")
	ErrNoSegment      = errors.New("wal: no open segment")
)

var crcTab = crc32.MakeTable(crc32.Castagnoli)

func walFileName(id int) string { return fmt.Sprintf("WAL-%06d.log", id) }

func parseWalFileName(name string) (int, bool) {
	if !strings.HasPrefix(name, "WAL-") || !strings.HasSuffix(name, ".log") {
		return 0, false
	}
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "WAL-"), ".log"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type Options struct {
	Dir         string
	RollSize    int64  // segment size after which a new file is started, 0 disables rolling
	FsyncPolicy string // "always"|"none"; always fsyncs on every Flush
	// TolerateTornTail truncates an incomplete or checksum-failing record at
	// the end of the newest segment during Replay instead of failing.
	TolerateTornTail bool
	Logger           *slog.Logger
}

// Handle locates a record in the log.
type Handle struct {
	Segment int
	Offset  int64
}

func (h Handle) String() string { return fmt.Sprintf("%s@%d", walFileName(h.Segment), h.Offset) }

type Wal struct {
	dir      string
	rollSize int64
	policy   string
	tolerant bool
	log      *slog.Logger

	curFile *os.File
	curSize int64
	// buffers appends until Flush
	curBufw *bufio.Writer
	fileId  int
	closed  bool
}

// Open opens the log in dir, appending to the newest existing segment.
func Open(opts Options) (*Wal, error) {
	if opts.Dir == "" {
		return nil, errors.New("wal: empty directory")
	}
	switch opts.FsyncPolicy {
	case "":
		opts.FsyncPolicy = FsyncAlways
	case FsyncAlways, FsyncNone:
	default:
		return nil, fmt.Errorf("wal: unknown fsync policy %q", opts.FsyncPolicy)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	w := &Wal{
		dir:      opts.Dir,
		rollSize: opts.RollSize,
		policy:   opts.FsyncPolicy,
		tolerant: opts.TolerateTornTail,
		log:      opts.Logger,
		fileId:   1,
	}
	ids, err := w.segments()
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		w.fileId = ids[len(ids)-1]
	}
	if err := w.openSegment(os.O_CREATE | os.O_RDWR | os.O_APPEND); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Wal) openSegment(flag int) error {
	path := filepath.Join(w.dir, walFileName(w.fileId))
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	w.curFile = f
	w.curSize = st.Size()
	w.curBufw = bufio.NewWriterSize(f, 1<<20) // 1MB
	return nil
}

// ready reports whether records can be written. After a failed Reset or
// rotate there is no open segment until the Wal is reopened.
func (w *Wal) ready() error {
	if w.closed {
		return ErrClosed
	}
	if w.curFile == nil {
		return ErrNoSegment
	}
	return nil
}

func (w *Wal) closeSegment() error {
	err := w.curFile.Close()
	w.curFile = nil
	w.curBufw = nil
	return err
}

// segments lists segment ids in ascending order.
func (w *Wal) segments() ([]int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := parseWalFileName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// Append buffers one record. It is not durable until Flush returns.
func (w *Wal) Append(payload []byte) (Handle, error) {
	if err := w.ready(); err != nil {
		return Handle{}, err
	}
	if len(payload) > MaxRecordSize {
		return Handle{}, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(payload))
	}
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:8], crc32.Checksum(payload, crcTab))

	need := int64(len(payload) + headerSize)
	if w.rollSize > 0 && w.curSize > 0 && w.curSize+need > w.rollSize {
		if err := w.rotate(); err != nil {
			return Handle{}, err
		}
	}

	h := Handle{Segment: w.fileId, Offset: w.curSize}
	if _, err := w.curBufw.Write(hdr[:]); err != nil {
		return Handle{}, err
	}
	if _, err := w.curBufw.Write(payload); err != nil {
		return Handle{}, err
	}
	w.curSize += need
	return h, nil
}

// Flush pushes buffered records to the file and, under the "always" policy,
// fsyncs it.
func (w *Wal) Flush() error {
	if err := w.ready(); err != nil {
		return err
	}
	if err := w.curBufw.Flush(); err != nil {
		return err
	}
	if w.policy == FsyncAlways {
		return w.curFile.Sync()
	}
	return nil
}

func (w *Wal) rotate() error {
	if err := w.curBufw.Flush(); err != nil {
		return err
	}
	if err := w.curFile.Sync(); err != nil {
		return err
	}
	_ = w.closeSegment()
	w.fileId++
	if err := w.openSegment(os.O_CREATE | os.O_RDWR | os.O_TRUNC | os.O_APPEND); err != nil {
		return err
	}
	w.log.Debug("wal segment rolled", "segment", walFileName(w.fileId))
	return syncDir(w.dir)
}

// Replay calls fn for every record at or after from, in append order.
// The payload slice is only valid for the duration of the call.
func (w *Wal) Replay(from Handle, fn func(Handle, []byte) error) error {
	if err := w.ready(); err != nil {
		return err
	}
	if err := w.curBufw.Flush(); err != nil {
		return err
	}
	ids, err := w.segments()
	if err != nil {
		return err
	}
	for i, id := range ids {
		if id < from.Segment {
			continue
		}
		var start int64
		if id == from.Segment {
			start = from.Offset
		}
		if err := w.replaySegment(id, start, i == len(ids)-1, fn); err != nil {
			return err
		}
	}
	return nil
}

func (w *Wal) replaySegment(id int, start int64, last bool, fn func(Handle, []byte) error) error {
	path := filepath.Join(w.dir, walFileName(id))
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return err
	}
	rd := NewWalReader(f)
	offset := start
	for {
		payload, n, err := rd.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if !errors.Is(err, ErrCorrupted) {
				return err
			}
			if !last || !w.tolerant {
				return fmt.Errorf("%s: %w", Handle{Segment: id, Offset: offset}, err)
			}
			w.log.Warn("truncating torn wal tail",
				"segment", walFileName(id), "offset", offset, "err", err)
			return w.truncate(id, offset)
		}
		if err := fn(Handle{Segment: id, Offset: offset}, payload); err != nil {
			return err
		}
		offset += n
	}
}

func (w *Wal) truncate(id int, offset int64) error {
	if id == w.fileId {
		if err := w.curFile.Truncate(offset); err != nil {
			return err
		}
		w.curSize = offset
		return w.curFile.Sync()
	}
	return os.Truncate(filepath.Join(w.dir, walFileName(id)), offset)
}

// Reset discards every record and starts over with an empty first segment.
func (w *Wal) Reset() error {
	if w.closed {
		return ErrClosed
	}
	if w.curFile != nil {
		w.curBufw.Reset(w.curFile)
		if err := w.closeSegment(); err != nil {
			return err
		}
	}
	ids, err := w.segments()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := os.Remove(filepath.Join(w.dir, walFileName(id))); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	w.fileId = 1
	if err := w.openSegment(os.O_CREATE | os.O_RDWR | os.O_TRUNC | os.O_APPEND); err != nil {
		return err
	}
	return syncDir(w.dir)
}

// Size reports the number of bytes in all segments, including buffered ones.
func (w *Wal) Size() (int64, error) {
	ids, err := w.segments()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, id := range ids {
		if id == w.fileId {
			total += w.curSize
			continue
		}
		st, err := os.Stat(filepath.Join(w.dir, walFileName(id)))
		if err != nil {
			return 0, err
		}
		total += st.Size()
	}
	return total, nil
}

func (w *Wal) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.curFile == nil {
		return nil
	}
	var firstErr error
	if err := w.curBufw.Flush(); err != nil {
		firstErr = err
	}
	if err := w.curFile.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.closeSegment(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type WalReader struct{ r *bufio.Reader }

func NewWalReader(r io.Reader) *WalReader { return &WalReader{r: bufio.NewReader(r)} }

// Next returns the next payload and the number of bytes it occupied.
// A clean end of input is io.EOF; a partial or damaged record wraps ErrCorrupted.
func (rd *WalReader) Next() ([]byte, int64, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(rd.r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, 0, fmt.Errorf("%w: truncated header", ErrCorrupted)
		}
		return nil, 0, err
	}
	length := binary.LittleEndian.Uint32(hdr[0:4])
	wantCRC := binary.LittleEndian.Uint32(hdr[4:8])
	if length > MaxRecordSize {
		return nil, 0, fmt.Errorf("%w: length %d", ErrCorrupted, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(rd.r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, fmt.Errorf("%w: truncated payload", ErrCorrupted)
		}
		return nil, 0, err
	}
	if gotCRC := crc32.Checksum(payload, crcTab); gotCRC != wantCRC {
		return nil, 0, fmt.Errorf("%w: crc mismatch: got %x, want %x", ErrCorrupted, gotCRC, wantCRC)
	}
	return payload, int64(length) + headerSize, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
