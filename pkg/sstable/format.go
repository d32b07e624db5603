// Package sstable implements the immutable sorted table file: prefix-compressed
// data blocks, a bloom filter block, a block index and a fixed-size footer.
package sstable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/klauspost/compress/s2"
)

// --- On-disk basics ---

const (
	sstMagic   uint64 = 0x626c6b537354626c
	sstVersion uint32 = 1

	// footerSize: index handle, filter handle, entry count, version, reserved, magic.
	footerSize = 16 + 16 + 8 + 4 + 4 + 8

	// blockTrailerSize: compression type byte followed by crc32c of payload+type.
	blockTrailerSize = 5

	DefaultBlockSize = 4 << 10
)

var (
	ErrCorrupted  = errors.New("sstable: corrupted table")
	ErrOutOfOrder = errors.New("sstable: keys added out of order")
	ErrFinished   = errors.New("sstable: writer already finished")
)

var crcTab = crc32.MakeTable(crc32.Castagnoli)

type Options struct {
	BlockSize   int     // target uncompressed data block size
	BloomFpRate float64 // 0 disables the filter block
	Compression string  // "s2"|"none"
}

// BlockHandle represents a [offset, length] region in the SSTable file.
// Length excludes the block trailer.
type BlockHandle struct {
	Offset uint64
	Length uint64
}

func (h BlockHandle) encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], h.Offset)
	binary.LittleEndian.PutUint64(dst[8:16], h.Length)
}

func decodeBlockHandle(src []byte) BlockHandle {
	return BlockHandle{
		Offset: binary.LittleEndian.Uint64(src[0:8]),
		Length: binary.LittleEndian.Uint64(src[8:16]),
	}
}

// Footer is placed at the end of the file and references the index and filter blocks.
type Footer struct {
	IndexHandle  BlockHandle
	FilterHandle BlockHandle // zero Length means no filter
	Entries      uint64
	Version      uint32
	Magic        uint64
}

func (f Footer) encode() []byte {
	buf := make([]byte, footerSize)
	f.IndexHandle.encode(buf[0:16])
	f.FilterHandle.encode(buf[16:32])
	binary.LittleEndian.PutUint64(buf[32:40], f.Entries)
	binary.LittleEndian.PutUint32(buf[40:44], f.Version)
	binary.LittleEndian.PutUint64(buf[48:56], f.Magic)
	return buf
}

func decodeFooter(buf []byte) (Footer, error) {
	if len(buf) != footerSize {
		return Footer{}, fmt.Errorf("%w: footer is %d bytes", ErrCorrupted, len(buf))
	}
	f := Footer{
		IndexHandle:  decodeBlockHandle(buf[0:16]),
		FilterHandle: decodeBlockHandle(buf[16:32]),
		Entries:      binary.LittleEndian.Uint64(buf[32:40]),
		Version:      binary.LittleEndian.Uint32(buf[40:44]),
		Magic:        binary.LittleEndian.Uint64(buf[48:56]),
	}
	if f.Magic != sstMagic {
		return Footer{}, fmt.Errorf("%w: bad magic %x", ErrCorrupted, f.Magic)
	}
	if f.Version != sstVersion {
		return Footer{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupted, f.Version)
	}
	return f, nil
}

// --- Compression ---

const (
	noCompressionType byte = 0
	s2CompressionType byte = 1
)

// Compressor defines block compression. The type byte is stored in every
// block trailer so a reader never needs the writer's options.
type Compressor interface {
	Name() string
	Type() byte
	Compress(in []byte) []byte
}

type noCompression struct{}

func (noCompression) Name() string { return "none" }
func (noCompression) Type() byte { return noCompressionType }
func (noCompression) Compress(in []byte) []byte { return in }

type s2Compression struct{}

func (s2Compression) Name() string { return "s2" }
func (s2Compression) Type() byte { return s2CompressionType }
func (s2Compression) Compress(in []byte) []byte { return s2.Encode(nil, in) }

func pickCompressor(name string) (Compressor, error) {
	switch name {
	case "", "s2":
		return s2Compression{}, nil
	case "none":
		return noCompression{}, nil
	}
	return nil, fmt.Errorf("sstable: unknown compression %q", name)
}

func decompress(typ byte, in []byte) ([]byte, error) {
	switch typ {
	case noCompressionType:
		return in, nil
	case s2CompressionType:
		out, err := s2.Decode(nil, in)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown block compression %d", ErrCorrupted, typ)
}

func blockTrailer(payload []byte, typ byte) [blockTrailerSize]byte {
	var t [blockTrailerSize]byte
	t[0] = typ
	crc := crc32.Update(crc32.Checksum(payload, crcTab), crcTab, t[:1])
	binary.LittleEndian.PutUint32(t[1:5], crc)
	return t
}
