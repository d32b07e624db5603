package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

/*
Data block entry:
[ shared   : uvarint ]  bytes shared with the previous key in the block
[ unshared : uvarint ]
[ vlen     : uvarint ]
[ key suffix : unshared bytes ]
[ value      : vlen bytes ]
The first entry of every block has shared = 0.
*/

// blockBuilder accumulates KV pairs into a data block using prefix/delta encoding.
type blockBuilder struct {
	buf     []byte
	counter int
	lastKey []byte
}

func (b *blockBuilder) Reset() {
	b.buf = b.buf[:0]
	b.counter = 0
	b.lastKey = b.lastKey[:0]
}

func (b *blockBuilder) Add(key, value []byte) {
	shared := 0
	for shared < len(key) && shared < len(b.lastKey) && key[shared] == b.lastKey[shared] {
		shared++
	}
	b.buf = binary.AppendUvarint(b.buf, uint64(shared))
	b.buf = binary.AppendUvarint(b.buf, uint64(len(key)-shared))
	b.buf = binary.AppendUvarint(b.buf, uint64(len(value)))
	b.buf = append(b.buf, key[shared:]...)
	b.buf = append(b.buf, value...)
	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
}

func (b *blockBuilder) Empty() bool { return b.counter == 0 }

func (b *blockBuilder) EstimatedSize() int { return len(b.buf) }

func (b *blockBuilder) Finish() []byte { return b.buf }

// blockIter iterates entries within a single decoded block.
type blockIter struct {
	data  []byte
	off   int
	key   []byte
	value []byte
	err   error
}

func newBlockIter(data []byte) *blockIter { return &blockIter{data: data} }

// next decodes the entry at off. It returns false at the end of the block or
// on a decoding error, which is kept in err.
func (bi *blockIter) next() bool {
	if bi.err != nil || bi.off >= len(bi.data) {
		return false
	}
	p := bi.data[bi.off:]
	shared, n1 := binary.Uvarint(p)
	if n1 <= 0 {
		return bi.fail("shared length")
	}
	unshared, n2 := binary.Uvarint(p[n1:])
	if n2 <= 0 {
		return bi.fail("key length")
	}
	vlen, n3 := binary.Uvarint(p[n1+n2:])
	if n3 <= 0 {
		return bi.fail("value length")
	}
	hdr := n1 + n2 + n3
	if shared > uint64(len(bi.key)) || unshared > uint64(len(p)-hdr) || vlen > uint64(len(p)-hdr)-unshared {
		return bi.fail("entry bounds")
	}
	key := make([]byte, int(shared)+int(unshared))
	copy(key, bi.key[:shared])
	copy(key[shared:], p[hdr:hdr+int(unshared)])
	vstart := hdr + int(unshared)
	bi.key = key
	bi.value = p[vstart : vstart+int(vlen)]
	bi.off += vstart + int(vlen)
	return true
}

// seek advances to the first entry with key >= target.
func (bi *blockIter) seek(target []byte) bool {
	for bi.next() {
		if bytes.Compare(bi.key, target) >= 0 {
			return true
		}
	}
	return false
}

func (bi *blockIter) fail(what string) bool {
	bi.err = fmt.Errorf("%w: bad block entry at %d: %s", ErrCorrupted, bi.off, what)
	return false
}

// --- Index block ---

type indexEntry struct {
	SepKey []byte // last key of the block
	Hdl    BlockHandle
}

type indexBuilder struct{ entries []indexEntry }

func (ib *indexBuilder) Add(lastKey []byte, h BlockHandle) {
	ib.entries = append(ib.entries, indexEntry{SepKey: append([]byte(nil), lastKey...), Hdl: h})
}

// Finish encodes [klen uvarint][key][offset uvarint][length uvarint] per entry.
func (ib *indexBuilder) Finish() []byte {
	var buf []byte
	for _, e := range ib.entries {
		buf = binary.AppendUvarint(buf, uint64(len(e.SepKey)))
		buf = append(buf, e.SepKey...)
		buf = binary.AppendUvarint(buf, e.Hdl.Offset)
		buf = binary.AppendUvarint(buf, e.Hdl.Length)
	}
	return buf
}

func decodeIndex(p []byte) ([]indexEntry, error) {
	var entries []indexEntry
	for len(p) > 0 {
		klen, n := binary.Uvarint(p)
		if n <= 0 || klen > uint64(len(p)-n) {
			return nil, fmt.Errorf("%w: bad index key", ErrCorrupted)
		}
		p = p[n:]
		key := append([]byte(nil), p[:klen]...)
		p = p[klen:]
		off, n := binary.Uvarint(p)
		if n <= 0 {
			return nil, fmt.Errorf("%w: bad index offset", ErrCorrupted)
		}
		p = p[n:]
		length, n := binary.Uvarint(p)
		if n <= 0 {
			return nil, fmt.Errorf("%w: bad index length", ErrCorrupted)
		}
		p = p[n:]
		if len(entries) > 0 && bytes.Compare(entries[len(entries)-1].SepKey, key) >= 0 {
			return nil, fmt.Errorf("%w: index keys out of order", ErrCorrupted)
		}
		entries = append(entries, indexEntry{SepKey: key, Hdl: BlockHandle{Offset: off, Length: length}})
	}
	return entries, nil
}
