package lsm

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

type OpKind uint8

const (
	KindInsert OpKind = 1
	KindDelete OpKind = 2
)

func (k OpKind) String() string {
	switch k {
	case KindInsert:
		return "Insert"
	case KindDelete:
		return "Delete"
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

// Operation is one accepted mutation. Value is empty for deletes.
type Operation struct {
	Kind  OpKind
	Key   string
	Value string
}

func InsertOp(key, value string) Operation { return Operation{Kind: KindInsert, Key: key, Value: value} }

func DeleteOp(key string) Operation { return Operation{Kind: KindDelete, Key: key} }

func (op Operation) String() string {
	if op.Kind == KindDelete {
		return fmt.Sprintf("Delete(%q)", op.Key)
	}
	return fmt.Sprintf("%s(%q, %q)", op.Kind, op.Key, op.Value)
}

// resolve applies pending ops, oldest first, on top of a base state.
func resolve(val string, ok bool, ops []Operation) (string, bool) {
	for _, op := range ops {
		switch op.Kind {
		case KindInsert:
			val, ok = op.Value, true
		case KindDelete:
			val, ok = "", false
		}
	}
	return val, ok
}

/*
Record payload:
[ kind : 1 byte ]
[ klen : uvarint ][ key ]
[ vlen : uvarint ][ value ]   inserts only
*/

func EncodeOperation(op Operation) []byte {
	n := 1 + binary.MaxVarintLen64 + len(op.Key)
	if op.Kind == KindInsert {
		n += binary.MaxVarintLen64 + len(op.Value)
	}
	buf := make([]byte, 0, n)
	buf = append(buf, byte(op.Kind))
	buf = binary.AppendUvarint(buf, uint64(len(op.Key)))
	buf = append(buf, op.Key...)
	if op.Kind == KindInsert {
		buf = binary.AppendUvarint(buf, uint64(len(op.Value)))
		buf = append(buf, op.Value...)
	}
	return buf
}

// DecodeOperation is strict: unknown kinds, short input, trailing bytes and
// invalid UTF-8 are all rejected with ErrCorruptedRecord.
func DecodeOperation(p []byte) (Operation, error) {
	if len(p) == 0 {
		return Operation{}, fmt.Errorf("%w: empty payload", ErrCorruptedRecord)
	}
	op := Operation{Kind: OpKind(p[0])}
	if op.Kind != KindInsert && op.Kind != KindDelete {
		return Operation{}, fmt.Errorf("%w: unknown kind %d", ErrCorruptedRecord, p[0])
	}
	rest := p[1:]
	key, rest, err := readString(rest, "key")
	if err != nil {
		return Operation{}, err
	}
	op.Key = key
	if op.Kind == KindInsert {
		if op.Value, rest, err = readString(rest, "value"); err != nil {
			return Operation{}, err
		}
	}
	if len(rest) != 0 {
		return Operation{}, fmt.Errorf("%w: %d trailing bytes", ErrCorruptedRecord, len(rest))
	}
	if op.Key == "" {
		return Operation{}, fmt.Errorf("%w: empty key", ErrCorruptedRecord)
	}
	return op, nil
}

func readString(p []byte, what string) (string, []byte, error) {
	n, sz := binary.Uvarint(p)
	if sz <= 0 {
		return "", nil, fmt.Errorf("%w: bad %s length", ErrCorruptedRecord, what)
	}
	p = p[sz:]
	if n > uint64(len(p)) {
		return "", nil, fmt.Errorf("%w: %s length %d exceeds payload", ErrCorruptedRecord, what, n)
	}
	s := p[:n]
	if !utf8.Valid(s) {
		return "", nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrCorruptedRecord, what)
	}
	return string(s), p[n:], nil
}

// validateKey rejects keys the table cannot store.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidArgument)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: key is not valid UTF-8", ErrInvalidArgument)
	}
	return nil
}

func validateValue(value string) error {
	if !utf8.ValidString(value) {
		return fmt.Errorf("%w: value is not valid UTF-8", ErrInvalidArgument)
	}
	return nil
}
