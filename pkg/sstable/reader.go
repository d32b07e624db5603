package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"
)

// TableReader serves point lookups and ordered scans over one table file.
type TableReader struct {
	f      *os.File
	size   int64
	footer Footer
	index  []indexEntry
	filter FilterPolicy
}

// Open opens the table at path.
func Open(path string) (*TableReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	tr, err := OpenTable(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return tr, nil
}

// OpenTable reads the footer, index and filter of f. The reader owns f from
// here on and closes it in Close.
func OpenTable(f *os.File) (*TableReader, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() < footerSize {
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrCorrupted, st.Size())
	}
	tr := &TableReader{f: f, size: st.Size()}
	buf := make([]byte, footerSize)
	if _, err := f.ReadAt(buf, st.Size()-footerSize); err != nil {
		return nil, err
	}
	if tr.footer, err = decodeFooter(buf); err != nil {
		return nil, err
	}

	indexData, err := tr.readBlock(tr.footer.IndexHandle)
	if err != nil {
		return nil, err
	}
	if tr.index, err = decodeIndex(indexData); err != nil {
		return nil, err
	}

	if tr.footer.FilterHandle.Length > 0 {
		filterData, err := tr.readBlock(tr.footer.FilterHandle)
		if err != nil {
			return nil, err
		}
		bp := &BloomPolicy{}
		if err := bp.ReadFromBuffer(filterData); err != nil {
			return nil, fmt.Errorf("%w: filter block: %v", ErrCorrupted, err)
		}
		tr.filter = bp
	}
	return tr, nil
}

// readBlock reads, verifies and decompresses the block at h.
func (tr *TableReader) readBlock(h BlockHandle) ([]byte, error) {
	end := h.Offset + h.Length + blockTrailerSize
	if end < h.Offset || end > uint64(tr.size-footerSize) {
		return nil, fmt.Errorf("%w: block handle %+v out of range", ErrCorrupted, h)
	}
	buf := make([]byte, h.Length+blockTrailerSize)
	if _, err := tr.f.ReadAt(buf, int64(h.Offset)); err != nil {
		return nil, err
	}
	payload := buf[:h.Length]
	typ := buf[h.Length]
	want := binary.LittleEndian.Uint32(buf[h.Length+1:])
	got := crc32.Update(crc32.Checksum(payload, crcTab), crcTab, buf[h.Length:h.Length+1])
	if got != want {
		return nil, fmt.Errorf("%w: block at %d checksum mismatch: got %x, want %x", ErrCorrupted, h.Offset, got, want)
	}
	return decompress(typ, payload)
}

// findBlock returns the index of the first block whose last key is >= key.
func (tr *TableReader) findBlock(key []byte) int {
	return sort.Search(len(tr.index), func(i int) bool {
		return bytes.Compare(tr.index[i].SepKey, key) >= 0
	})
}

// Get returns a copy of the value stored for key.
func (tr *TableReader) Get(key []byte) ([]byte, bool, error) {
	if tr.filter != nil && !tr.filter.MayContain(key) {
		return nil, false, nil
	}
	i := tr.findBlock(key)
	if i == len(tr.index) {
		return nil, false, nil
	}
	data, err := tr.readBlock(tr.index[i].Hdl)
	if err != nil {
		return nil, false, err
	}
	bi := newBlockIter(data)
	if !bi.seek(key) {
		return nil, false, bi.err
	}
	if !bytes.Equal(bi.key, key) {
		return nil, false, nil
	}
	return append([]byte(nil), bi.value...), true, nil
}

// Len reports the number of entries in the table.
func (tr *TableReader) Len() uint64 { return tr.footer.Entries }

func (tr *TableReader) Footer() Footer { return tr.footer }

func (tr *TableReader) NewIterator() *TableIter { return &TableIter{tr: tr} }

func (tr *TableReader) Close() error {
	if tr.f == nil {
		return nil
	}
	err := tr.f.Close()
	tr.f = nil
	return err
}

// TableIter walks the table in ascending key order across blocks.
// Key and Value are valid until the next positioning call.
type TableIter struct {
	tr       *TableReader
	blockIdx int
	bi       *blockIter
	valid    bool
	err      error
}

func (it *TableIter) loadBlock(i int) bool {
	it.blockIdx = i
	it.bi = nil
	if i >= len(it.tr.index) {
		return false
	}
	data, err := it.tr.readBlock(it.tr.index[i].Hdl)
	if err != nil {
		it.err = err
		return false
	}
	it.bi = newBlockIter(data)
	return true
}

// advance moves to the next entry, crossing into later blocks as needed.
func (it *TableIter) advance() {
	for it.bi != nil {
		if it.bi.next() {
			it.valid = true
			return
		}
		if it.bi.err != nil {
			it.err = it.bi.err
			break
		}
		if !it.loadBlock(it.blockIdx + 1) {
			break
		}
	}
	it.valid = false
}

func (it *TableIter) First() {
	it.err = nil
	if !it.loadBlock(0) {
		it.valid = false
		return
	}
	it.advance()
}

// Seek positions the iterator at the first key >= target.
func (it *TableIter) Seek(target []byte) {
	it.err = nil
	if !it.loadBlock(it.tr.findBlock(target)) {
		it.valid = false
		return
	}
	if it.bi.seek(target) {
		it.valid = true
		return
	}
	if it.bi.err != nil {
		it.err = it.bi.err
		it.valid = false
		return
	}
	// target sorts after the block; the next block starts past it.
	if !it.loadBlock(it.blockIdx + 1) {
		it.valid = false
		return
	}
	it.advance()
}

func (it *TableIter) Next() {
	if !it.valid {
		return
	}
	it.advance()
}

func (it *TableIter) Valid() bool { return it.valid }

func (it *TableIter) Key() []byte { return it.bi.key }

func (it *TableIter) Value() []byte { return it.bi.value }

// Err reports the first read or decoding error the iterator hit.
func (it *TableIter) Err() error { return it.err }

func (it *TableIter) Close() error {
	it.valid = false
	it.bi = nil
	return it.err
}
