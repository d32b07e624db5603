package lsm

import (
	"strings"

	"github.com/huandu/skiplist"
)

// memTable is the pending-mutation index: every operation accepted since the
// last compaction, grouped by key in append order. Keys are kept in the same
// byte order as the base table so the two can be merged in lockstep.
type memTable struct {
	list   *skiplist.SkipList
	numOps int64
}

func compareKeys(a, b interface{}) int {
	return strings.Compare(a.(string), b.(string))
}

func newMemTable() *memTable {
	return &memTable{
		list: skiplist.New(skiplist.GreaterThanFunc(compareKeys)),
	}
}

// Append records op after every earlier operation on the same key.
func (m *memTable) Append(op Operation) {
	var ops []Operation
	if e := m.list.Get(op.Key); e != nil {
		ops = e.Value.([]Operation)
	}
	m.list.Set(op.Key, append(ops, op))
	m.numOps++
}

// Ops returns the pending operations for key, oldest first.
func (m *memTable) Ops(key string) []Operation {
	e := m.list.Get(key)
	if e == nil {
		return nil
	}
	return e.Value.([]Operation)
}

func (m *memTable) NumKeys() int { return m.list.Len() }

func (m *memTable) NumOps() int64 { return m.numOps }

// Clear drops everything; used once the log has been reset.
func (m *memTable) Clear() {
	m.list = skiplist.New(skiplist.GreaterThanFunc(compareKeys))
	m.numOps = 0
}

func (m *memTable) NewIterator() *memIter { return &memIter{list: m.list} }
