package sstable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type kv struct{ k, v string }

func writeTable(t *testing.T, opts Options, data []kv) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "SST-*.sst")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	tw, err := NewTableWriter(f, opts)
	if err != nil {
		f.Close()
		t.Fatalf("NewTableWriter: %v", err)
	}
	for _, e := range data {
		if err := tw.Add([]byte(e.k), []byte(e.v)); err != nil {
			_ = tw.Close()
			t.Fatalf("Add(%q): %v", e.k, err)
		}
	}
	if _, err := tw.Finish(); err != nil {
		_ = tw.Close()
		t.Fatalf("Finish: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return f.Name()
}

func genData(n int) []kv {
	var data []kv
	for i := 0; i < n; i++ {
		data = append(data, kv{fmt.Sprintf("key-%05d", i), fmt.Sprintf("value-%05d", i)})
	}
	return data
}

func TestTableWriter_Basic(t *testing.T) {
	tmpDir := t.TempDir()
	f, err := os.CreateTemp(tmpDir, "SST-*.sst")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}

	tw, err := NewTableWriter(f, Options{BlockSize: 64, BloomFpRate: 0.01})
	if err != nil {
		f.Close()
		t.Fatalf("NewTableWriter: %v", err)
	}
	for _, e := range []kv{{"a", "va"}, {"ab", "vab"}, {"b", "vb"}} {
		if err := tw.Add([]byte(e.k), []byte(e.v)); err != nil {
			t.Fatalf("Add(%q): %v", e.k, err)
		}
	}

	footer, err := tw.Finish()
	if err != nil {
		_ = tw.Close()
		t.Fatalf("Finish: %v", err)
	}
	if footer.Magic != sstMagic {
		_ = tw.Close()
		t.Fatalf("footer magic mismatch: got %x want %x", footer.Magic, sstMagic)
	}
	if footer.Entries != 3 {
		_ = tw.Close()
		t.Fatalf("footer entries=%d want 3", footer.Entries)
	}
	if footer.IndexHandle.Length == 0 {
		_ = tw.Close()
		t.Fatalf("index handle length is zero")
	}
	if footer.FilterHandle.Length == 0 {
		_ = tw.Close()
		t.Fatalf("filter handle length is zero")
	}

	// Read back last 8 bytes of the file and verify magic
	st, err := f.Stat()
	if err != nil {
		_ = tw.Close()
		t.Fatalf("Stat: %v", err)
	}
	if st.Size() < footerSize {
		_ = tw.Close()
		t.Fatalf("file too small: %d", st.Size())
	}
	buf := make([]byte, 8)
	if _, err := f.ReadAt(buf, st.Size()-8); err != nil {
		_ = tw.Close()
		t.Fatalf("ReadAt magic: %v", err)
	}
	if magic := binary.LittleEndian.Uint64(buf); magic != sstMagic {
		_ = tw.Close()
		t.Fatalf("trailer magic mismatch: got %x want %x", magic, sstMagic)
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := tw.Finish(); !errors.Is(err, ErrFinished) {
		t.Fatalf("second Finish: %v", err)
	}
}

func TestTableWriter_RejectsOutOfOrder(t *testing.T) {
	for _, second := range []string{"a", "b"} {
		f, err := os.CreateTemp(t.TempDir(), "SST-*.sst")
		if err != nil {
			t.Fatalf("CreateTemp: %v", err)
		}
		tw, err := NewTableWriter(f, Options{})
		if err != nil {
			t.Fatalf("NewTableWriter: %v", err)
		}
		if err := tw.Add([]byte("b"), []byte("1")); err != nil {
			t.Fatalf("Add b: %v", err)
		}
		if err := tw.Add([]byte(second), []byte("2")); !errors.Is(err, ErrOutOfOrder) {
			t.Fatalf("Add %q after b: %v", second, err)
		}
		// The writer stays failed.
		if err := tw.Add([]byte("c"), []byte("3")); !errors.Is(err, ErrOutOfOrder) {
			t.Fatalf("Add after failure: %v", err)
		}
		if _, err := tw.Finish(); !errors.Is(err, ErrOutOfOrder) {
			t.Fatalf("Finish after failure: %v", err)
		}
		_ = tw.Close()
	}
}

func TestTableIter_CrossBlockIterationAndSeek(t *testing.T) {
	for _, compression := range []string{"none", "s2"} {
		t.Run(compression, func(t *testing.T) {
			var data []kv
			for _, root := range []string{"a", "b", "c"} {
				for i := 1; i <= 4; i++ {
					data = append(data, kv{fmt.Sprintf("%s%d", root, i), fmt.Sprintf("value-of-%s%d", root, i)})
				}
			}
			path := writeTable(t, Options{BlockSize: 64, Compression: compression}, data)

			tr, err := Open(path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer tr.Close()
			if len(tr.index) < 2 {
				t.Fatalf("expected several blocks, got %d", len(tr.index))
			}

			it := tr.NewIterator()
			var seen []kv
			for it.First(); it.Valid(); it.Next() {
				seen = append(seen, kv{string(it.Key()), string(it.Value())})
			}
			if err := it.Close(); err != nil {
				t.Fatalf("iterator: %v", err)
			}
			if fmt.Sprint(seen) != fmt.Sprint(data) {
				t.Fatalf("scan=%v\nwant=%v", seen, data)
			}

			it = tr.NewIterator()
			it.Seek([]byte("b"))
			if !it.Valid() || string(it.Key()) != "b1" {
				t.Fatalf("Seek(b) positioned at %q valid=%v", it.Key(), it.Valid())
			}
			it.Seek([]byte("b25"))
			if !it.Valid() || string(it.Key()) != "b3" {
				t.Fatalf("Seek(b25) positioned at %q", it.Key())
			}
			it.Seek([]byte("zzz"))
			if it.Valid() {
				t.Fatalf("Seek past end should be invalid, got %q", it.Key())
			}
		})
	}
}

func TestTableReader_GetAcrossBlocks(t *testing.T) {
	data := genData(500)
	path := writeTable(t, Options{BlockSize: 256, BloomFpRate: 0.01}, data)
	tr, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()
	if tr.Len() != uint64(len(data)) {
		t.Fatalf("Len=%d want %d", tr.Len(), len(data))
	}
	for _, e := range data {
		val, ok, err := tr.Get([]byte(e.k))
		if err != nil || !ok || string(val) != e.v {
			t.Fatalf("get mismatch for %q: ok=%v err=%v val=%q", e.k, ok, err, val)
		}
	}
	for _, miss := range []string{"", "key-", "key-00000a", "key-99999", "zzz"} {
		if _, ok, err := tr.Get([]byte(miss)); err != nil || ok {
			t.Fatalf("Get(%q) ok=%v err=%v", miss, ok, err)
		}
	}
}

func TestEmptyTable(t *testing.T) {
	path := writeTable(t, Options{BloomFpRate: 0.01}, nil)
	tr, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()
	if tr.Len() != 0 {
		t.Fatalf("Len=%d", tr.Len())
	}
	if tr.Footer().FilterHandle.Length != 0 {
		t.Fatalf("empty table should carry no filter")
	}
	it := tr.NewIterator()
	it.First()
	if it.Valid() {
		t.Fatalf("iterator over empty table is valid")
	}
	if _, ok, err := tr.Get([]byte("a")); ok || err != nil {
		t.Fatalf("Get on empty table ok=%v err=%v", ok, err)
	}
}

func TestCorruptedBlockDetected(t *testing.T) {
	path := writeTable(t, Options{BlockSize: 128, Compression: "none"}, genData(50))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[3] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	tr, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()
	if _, _, err := tr.Get([]byte("key-00000")); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("Get over damaged block: %v", err)
	}
	it := tr.NewIterator()
	it.First()
	if it.Valid() || !errors.Is(it.Err(), ErrCorrupted) {
		t.Fatalf("iterator over damaged block: valid=%v err=%v", it.Valid(), it.Err())
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string][]byte{
		"short": []byte("nope"),
		"magic": make([]byte, 2*footerSize),
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(path); !errors.Is(err, ErrCorrupted) {
			t.Fatalf("%s: expected ErrCorrupted, got %v", name, err)
		}
	}
}

func TestNewTableWriter_BadOptions(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "SST-*.sst")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := NewTableWriter(f, Options{Compression: "zip"}); err == nil {
		t.Fatalf("expected error for unknown compression")
	}
	if _, err := NewTableWriter(f, Options{BloomFpRate: 1.5}); err == nil {
		t.Fatalf("expected error for fp rate")
	}
}

func BenchmarkGet(b *testing.B) {
	f, err := os.CreateTemp(b.TempDir(), "SST-*.sst")
	if err != nil {
		b.Fatal(err)
	}
	tw, err := NewTableWriter(f, Options{BloomFpRate: 0.01})
	if err != nil {
		b.Fatal(err)
	}
	const n = 10000
	for i := 0; i < n; i++ {
		if err := tw.Add([]byte(fmt.Sprintf("key-%08d", i)), []byte("value-xxxxxxxx")); err != nil {
			b.Fatal(err)
		}
	}
	if _, err := tw.Finish(); err != nil {
		b.Fatal(err)
	}
	_ = tw.Close()
	tr, err := Open(f.Name())
	if err != nil {
		b.Fatal(err)
	}
	defer tr.Close()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := tr.Get([]byte(fmt.Sprintf("key-%08d", i%n))); err != nil {
			b.Fatal(err)
		}
	}
}
