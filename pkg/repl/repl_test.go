package repl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"example.com/mini-kv/pkg/lsm"
)

func TestParse(t *testing.T) {
	cases := []struct {
		line string
		want Command
		err  bool
	}{
		{line: "select a", want: Command{Kind: Select, Key: "a"}},
		{line: "SELECT a", want: Command{Kind: Select, Key: "a"}},
		{line: "  Insert   k   v  ", want: Command{Kind: Insert, Key: "k", Value: "v"}},
		{line: "insert k v extra tokens", want: Command{Kind: Insert, Key: "k", Value: "v"}},
		{line: "delete k", want: Command{Kind: Delete, Key: "k"}},
		{line: ".dump", want: Command{Kind: Dump}},
		{line: ".compact", want: Command{Kind: Compact}},
		{line: ".stats", want: Command{Kind: Stats}},
		{line: ".exit", want: Command{Kind: Exit}},
		{line: "", err: true},
		{line: "select", err: true},
		{line: "insert k", err: true},
		{line: "delete", err: true},
		{line: "update k v", err: true},
		{line: ".EXIT", err: true},
		{line: ".help", err: true},
	}
	for _, c := range cases {
		got, err := Parse(c.line)
		if c.err {
			if !errors.Is(err, ErrUnrecognized) {
				t.Fatalf("Parse(%q): expected ErrUnrecognized, got %+v, %v", c.line, got, err)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Fatalf("Parse(%q) = %+v, %v; want %+v", c.line, got, err, c.want)
		}
	}
}

func runTranscript(t *testing.T, table lsm.Table, input string) string {
	t.Helper()
	var out bytes.Buffer
	shell := New(table, &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := shell.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func TestRunTranscript(t *testing.T) {
	input := strings.Join([]string{
		"insert a 1",
		"insert a 2",
		"select a",
		"delete a",
		"select a",
		"delete a",
		"insert b x",
		".compact",
		"select b",
		"bogus",
		"",
		"insert onlykey",
		".exit",
		"select b",
	}, "\n")
	want := strings.Join([]string{
		"Succeeded",
		"Duplicate key",
		"1",
		"Succeeded",
		"Not found",
		"Not found",
		"Succeeded",
		"Compacted",
		"x",
		MsgUnrecognized,
		MsgUnrecognized,
		MsgUnrecognized,
	}, "\n") + "\n"

	tables := map[string]func(t *testing.T) lsm.Table{
		"memory": func(t *testing.T) lsm.Table { return lsm.NewMemoryTable() },
		"disk": func(t *testing.T) lsm.Table {
			table, err := lsm.Open(lsm.Options{
				Dir:         t.TempDir(),
				FsyncPolicy: "none",
				Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
			})
			if err != nil {
				t.Fatal(err)
			}
			return table
		},
	}
	for name, factory := range tables {
		t.Run(name, func(t *testing.T) {
			table := factory(t)
			defer table.Close()
			if got := runTranscript(t, table, input); got != want {
				t.Fatalf("transcript:\n%s\nwant:\n%s", got, want)
			}
		})
	}
}

func TestRunEndsAtEOF(t *testing.T) {
	table := lsm.NewMemoryTable()
	got := runTranscript(t, table, "insert k v\nselect k")
	if got != "Succeeded\nv\n" {
		t.Fatalf("transcript: %q", got)
	}
}

func TestDumpAndStats(t *testing.T) {
	table := lsm.NewMemoryTable()
	got := runTranscript(t, table, "insert b 2\ninsert a 1\n.dump\n.stats\n")
	if !strings.Contains(got, "\"a\": \"1\"\n\"b\": \"2\"\n") {
		t.Fatalf("dump output missing ordered entries:\n%s", got)
	}
	if !strings.Contains(got, `minikv_operations_total{engine="memory",op="insert"} 2`) {
		t.Fatalf("stats output missing insert counter:\n%s", got)
	}
}

func TestInvalidUTF8IsRejected(t *testing.T) {
	table := lsm.NewMemoryTable()
	got := runTranscript(t, table, "insert k \xff\nselect k\n")
	if got != MsgUnrecognized+"\n"+MsgNotFound+"\n" {
		t.Fatalf("transcript: %q", got)
	}
}

// failingTable fails every operation the way a table in the failed state does.
type failingTable struct{ lsm.Table }

var errBroken = errors.New("disk on fire")

func (failingTable) Insert(context.Context, string, string) error { return errBroken }

func TestRunStopsOnStorageFailure(t *testing.T) {
	var out bytes.Buffer
	shell := New(failingTable{lsm.NewMemoryTable()}, &out, nil)
	err := shell.Run(context.Background(), strings.NewReader("insert k v\nselect k\n"))
	if !errors.Is(err, errBroken) {
		t.Fatalf("Run: expected storage error, got %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("nothing should be printed, got %q", out.String())
	}
}
