package lsm

import "github.com/huandu/skiplist"

// memIter walks the pending-mutation index in ascending key order.
type memIter struct {
	list *skiplist.SkipList
	elem *skiplist.Element
}

func (it *memIter) First() { it.elem = it.list.Front() }

// Seek positions the iterator at the first key >= key.
func (it *memIter) Seek(key string) { it.elem = it.list.Find(key) }

func (it *memIter) Next() {
	if it.elem != nil {
		it.elem = it.elem.Next()
	}
}

func (it *memIter) Valid() bool { return it.elem != nil }

func (it *memIter) Key() string {
	if it.elem == nil {
		return ""
	}
	return it.elem.Key().(string)
}

func (it *memIter) Ops() []Operation {
	if it.elem == nil {
		return nil
	}
	return it.elem.Value.([]Operation)
}

func (it *memIter) Close() error {
	it.elem = nil
	return nil
}
