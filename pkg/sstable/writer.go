package sstable

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// TableWriter streams strictly ascending, unique keys into a new table file.
// Any error leaves the writer failed; the partial file must be discarded.
type TableWriter struct {
	f          *os.File
	bw         *bufio.Writer
	blockSize  int
	fpRate     float64
	compressor Compressor

	dataBuilder blockBuilder
	index       indexBuilder
	filterKeys  [][]byte

	// rolling state
	lastKey  []byte
	hasLast  bool
	offset   uint64
	entries  uint64
	err      error
	finished bool
}

func NewTableWriter(f *os.File, opts Options) (*TableWriter, error) {
	c, err := pickCompressor(opts.Compression)
	if err != nil {
		return nil, err
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.BloomFpRate < 0 || opts.BloomFpRate >= 1 {
		return nil, fmt.Errorf("sstable: bloom false positive rate %v out of range", opts.BloomFpRate)
	}
	return &TableWriter{
		f:          f,
		bw:         bufio.NewWriterSize(f, 64<<10),
		blockSize:  opts.BlockSize,
		fpRate:     opts.BloomFpRate,
		compressor: c,
	}, nil
}

// Add appends one entry. key must sort strictly after the previous key.
func (tw *TableWriter) Add(key, value []byte) error {
	if tw.err != nil {
		return tw.err
	}
	if tw.finished {
		return ErrFinished
	}
	if tw.hasLast && bytes.Compare(key, tw.lastKey) <= 0 {
		tw.err = fmt.Errorf("%w: %q after %q", ErrOutOfOrder, key, tw.lastKey)
		return tw.err
	}
	tw.dataBuilder.Add(key, value)
	if tw.fpRate > 0 {
		tw.filterKeys = append(tw.filterKeys, append([]byte(nil), key...))
	}
	tw.lastKey = append(tw.lastKey[:0], key...)
	tw.hasLast = true
	tw.entries++
	if tw.dataBuilder.EstimatedSize() >= tw.blockSize {
		return tw.flushBlock()
	}
	return nil
}

func (tw *TableWriter) flushBlock() error {
	if tw.dataBuilder.Empty() {
		return nil
	}
	raw := tw.dataBuilder.Finish()
	payload := tw.compressor.Compress(raw)
	typ := tw.compressor.Type()
	// not worth it, keep the raw bytes
	if len(payload) >= len(raw) {
		payload, typ = raw, noCompressionType
	}
	h, err := tw.writeBlock(payload, typ)
	if err != nil {
		return err
	}
	tw.index.Add(tw.dataBuilder.lastKey, h)
	tw.dataBuilder.Reset()
	return nil
}

func (tw *TableWriter) writeBlock(payload []byte, typ byte) (BlockHandle, error) {
	h := BlockHandle{Offset: tw.offset, Length: uint64(len(payload))}
	trailer := blockTrailer(payload, typ)
	if _, err := tw.bw.Write(payload); err != nil {
		tw.err = err
		return BlockHandle{}, err
	}
	if _, err := tw.bw.Write(trailer[:]); err != nil {
		tw.err = err
		return BlockHandle{}, err
	}
	tw.offset += uint64(len(payload)) + blockTrailerSize
	return h, nil
}

// Finish writes the filter, index and footer, then fsyncs the file.
func (tw *TableWriter) Finish() (Footer, error) {
	if tw.err != nil {
		return Footer{}, tw.err
	}
	if tw.finished {
		return Footer{}, ErrFinished
	}
	if err := tw.flushBlock(); err != nil {
		return Footer{}, err
	}
	footer := Footer{Entries: tw.entries, Version: sstVersion, Magic: sstMagic}

	if tw.fpRate > 0 && tw.entries > 0 {
		bp := newBloomPolicy(len(tw.filterKeys), tw.fpRate)
		for _, k := range tw.filterKeys {
			bp.Add(k)
		}
		buf, err := bp.WriteToBuffer()
		if err != nil {
			tw.err = err
			return Footer{}, err
		}
		if footer.FilterHandle, err = tw.writeBlock(buf, noCompressionType); err != nil {
			return Footer{}, err
		}
	}

	var err error
	if footer.IndexHandle, err = tw.writeBlock(tw.index.Finish(), noCompressionType); err != nil {
		return Footer{}, err
	}
	if _, err := tw.bw.Write(footer.encode()); err != nil {
		tw.err = err
		return Footer{}, err
	}
	if err := tw.bw.Flush(); err != nil {
		tw.err = err
		return Footer{}, err
	}
	if err := tw.f.Sync(); err != nil {
		tw.err = err
		return Footer{}, err
	}
	tw.finished = true
	return footer, nil
}

// Entries reports how many entries have been added so far.
func (tw *TableWriter) Entries() uint64 { return tw.entries }

// Close closes the underlying file. It does not finish the table.
func (tw *TableWriter) Close() error {
	if tw.f == nil {
		return nil
	}
	err := tw.f.Close()
	tw.f = nil
	return err
}
