// Package repl implements the line-oriented command front end of a table.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"example.com/mini-kv/pkg/lsm"
)

type Kind int

const (
	Select Kind = iota + 1
	Insert
	Delete
	Dump
	Compact
	Stats
	Exit
)

// Command is one parsed input line.
type Command struct {
	Kind  Kind
	Key   string
	Value string
}

const (
	MsgSucceeded    = "Succeeded"
	MsgDuplicateKey = "Duplicate key"
	MsgNotFound     = "Not found"
	MsgCompacted    = "Compacted"
	MsgUnrecognized = "Unrecognized command. Use .exit to quit."
)

var ErrUnrecognized = errors.New("unrecognized command")

var metaCommands = map[string]Kind{
	".dump":    Dump,
	".compact": Compact,
	".stats":   Stats,
	".exit":    Exit,
}

// Parse splits line on whitespace. Data verbs are case-insensitive and any
// tokens past the ones a verb needs are ignored.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrUnrecognized
	}
	if kind, ok := metaCommands[fields[0]]; ok {
		return Command{Kind: kind}, nil
	}
	switch strings.ToLower(fields[0]) {
	case "select":
		if len(fields) >= 2 {
			return Command{Kind: Select, Key: fields[1]}, nil
		}
	case "insert":
		if len(fields) >= 3 {
			return Command{Kind: Insert, Key: fields[1], Value: fields[2]}, nil
		}
	case "delete":
		if len(fields) >= 2 {
			return Command{Kind: Delete, Key: fields[1]}, nil
		}
	}
	return Command{}, ErrUnrecognized
}

// Shell executes commands against one table and writes replies to out.
type Shell struct {
	table lsm.Table
	out   io.Writer
	log   *slog.Logger
}

func New(table lsm.Table, out io.Writer, logger *slog.Logger) *Shell {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shell{table: table, out: out, log: logger}
}

// Execute runs cmd. Logical outcomes are printed; only storage failures are
// returned. exit reports whether the session should end.
func (s *Shell) Execute(ctx context.Context, cmd Command) (exit bool, err error) {
	switch cmd.Kind {
	case Select:
		val, ok, err := s.table.Select(ctx, cmd.Key)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, s.println(MsgNotFound)
		}
		return false, s.println(val)
	case Insert:
		return false, s.reply(s.table.Insert(ctx, cmd.Key, cmd.Value))
	case Delete:
		return false, s.reply(s.table.Delete(ctx, cmd.Key))
	case Dump:
		return false, s.table.Dump(s.out)
	case Compact:
		if err := s.table.Compact(ctx); err != nil {
			return false, err
		}
		return false, s.println(MsgCompacted)
	case Stats:
		s.table.WriteMetrics(s.out)
		return false, nil
	case Exit:
		return true, nil
	}
	return false, s.println(MsgUnrecognized)
}

// reply maps a write result to its message.
func (s *Shell) reply(err error) error {
	switch {
	case err == nil:
		return s.println(MsgSucceeded)
	case errors.Is(err, lsm.ErrDuplicateKey):
		return s.println(MsgDuplicateKey)
	case errors.Is(err, lsm.ErrNotFound):
		return s.println(MsgNotFound)
	case errors.Is(err, lsm.ErrInvalidArgument):
		s.log.Debug("rejected command", "err", err)
		return s.println(MsgUnrecognized)
	}
	return err
}

func (s *Shell) println(msg string) error {
	_, err := fmt.Fprintln(s.out, msg)
	return err
}

// Run reads commands from in until .exit, end of input or a storage failure.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd, err := Parse(sc.Text())
		if err != nil {
			if err := s.println(MsgUnrecognized); err != nil {
				return err
			}
			continue
		}
		exit, err := s.Execute(ctx, cmd)
		if err != nil {
			return fmt.Errorf("%s: %w", strings.TrimSpace(sc.Text()), err)
		}
		if exit {
			return nil
		}
	}
	return sc.Err()
}
