package sstable

import (
	"bytes"

	bloom "github.com/bits-and-blooms/bloom/v3"
)

// FilterPolicy provides a per-table filter to skip block reads for absent keys.
type FilterPolicy interface {
	Name() string
	Add(key []byte)
	MayContain(key []byte) bool
	WriteToBuffer() ([]byte, error)
	ReadFromBuffer(p []byte) error
}

// BloomPolicy is a whole-table bloom filter with a configurable false positive rate.
type BloomPolicy struct {
	FpRate float64
	Filter *bloom.BloomFilter
}

func newBloomPolicy(n int, fpRate float64) *BloomPolicy {
	if n < 1 {
		n = 1
	}
	return &BloomPolicy{FpRate: fpRate, Filter: bloom.NewWithEstimates(uint(n), fpRate)}
}

func (b *BloomPolicy) Name() string { return "bloom" }

func (b *BloomPolicy) Add(key []byte) { b.Filter.Add(key) }

// MayContain reports false only when key is definitely absent.
func (b *BloomPolicy) MayContain(key []byte) bool {
	if b == nil || b.Filter == nil {
		return true
	}
	return b.Filter.Test(key)
}

func (b *BloomPolicy) WriteToBuffer() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := b.Filter.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *BloomPolicy) ReadFromBuffer(p []byte) error {
	if b.Filter == nil {
		b.Filter = &bloom.BloomFilter{}
	}
	_, err := b.Filter.ReadFrom(bytes.NewReader(p))
	return err
}
