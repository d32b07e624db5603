package lsm

import (
	"errors"
	"testing"
)

func TestOperationRoundTrip(t *testing.T) {
	ops := []Operation{
		InsertOp("a", "1"),
		InsertOp("key with spaces", ""),
		InsertOp("日本", "値"),
		DeleteOp("a"),
		DeleteOp("日本"),
	}
	for _, op := range ops {
		got, err := DecodeOperation(EncodeOperation(op))
		if err != nil {
			t.Fatalf("decode %v: %v", op, err)
		}
		if got != op {
			t.Fatalf("round trip: got %v want %v", got, op)
		}
	}
}

func TestDecodeOperationRejectsGarbage(t *testing.T) {
	valid := EncodeOperation(InsertOp("key", "value"))
	cases := map[string][]byte{
		"empty":            nil,
		"unknown kind":     {0x03, 0x01, 'k'},
		"zero kind":        {0x00, 0x01, 'k'},
		"truncated key":    {byte(KindDelete), 0x05, 'k'},
		"missing value":    {byte(KindInsert), 0x01, 'k'},
		"truncated value":  valid[:len(valid)-1],
		"trailing bytes":   append(append([]byte(nil), valid...), 0x00),
		"value on delete":  {byte(KindDelete), 0x01, 'k', 0x01, 'v'},
		"bad varint":       {byte(KindDelete), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		"invalid utf8 key": {byte(KindDelete), 0x01, 0xff},
		"invalid utf8 val": {byte(KindInsert), 0x01, 'k', 0x01, 0xfe},
		"empty key":        {byte(KindDelete), 0x00},
		"empty insert key": {byte(KindInsert), 0x00, 0x01, 'v'},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeOperation(p); !errors.Is(err, ErrCorruptedRecord) {
				t.Fatalf("expected ErrCorruptedRecord, got %v", err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name   string
		base   string
		baseOK bool
		ops    []Operation
		want   string
		wantOK bool
	}{
		{"absent no ops", "", false, nil, "", false},
		{"base no ops", "b", true, nil, "b", true},
		{"insert on absent", "", false, []Operation{InsertOp("k", "1")}, "1", true},
		{"delete base", "b", true, []Operation{DeleteOp("k")}, "", false},
		{"delete then insert", "b", true, []Operation{DeleteOp("k"), InsertOp("k", "2")}, "2", true},
		{"insert then delete", "", false, []Operation{InsertOp("k", "1"), DeleteOp("k")}, "", false},
		{"last insert wins", "", false, []Operation{InsertOp("k", "1"), DeleteOp("k"), InsertOp("k", "3")}, "3", true},
	}
	for _, c := range cases {
		got, ok := resolve(c.base, c.baseOK, c.ops)
		if got != c.want || ok != c.wantOK {
			t.Fatalf("%s: got %q/%v want %q/%v", c.name, got, ok, c.want, c.wantOK)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := validateKey(""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty key: %v", err)
	}
	if err := validateKey("\xc3\x28"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("invalid key: %v", err)
	}
	if err := validateKey("ok"); err != nil {
		t.Fatalf("valid key: %v", err)
	}
	if err := validateValue(""); err != nil {
		t.Fatalf("empty value: %v", err)
	}
	if err := validateValue("\xff"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("invalid value: %v", err)
	}
}
