package bml

import "github.com/machinefabric/bml-go/bmlipc"

type slot[T any] struct {
	gen  uint16
	live bool
	val  T
}

// handleTable hands out generation-checked handles. A handle is valid only
// while its slot is live and carries the same generation, so freed handles
// are rejected. Fresh slots start at the table's base generation; tables
// with different bases do not accept each other's handles.
type handleTable[T any] struct {
	kind  bmlipc.HandleKind
	base  uint16
	slots []slot[T]
	free  []int
	live  int
}

func newHandleTable[T any](kind bmlipc.HandleKind) *handleTable[T] {
	return &handleTable[T]{kind: kind, base: 1}
}

// setBase sets the generation of slots allocated from now on. Zero is
// not a valid generation and maps to 1.
func (t *handleTable[T]) setBase(base uint16) {
	base &= bmlipc.MaxHandleGeneration
	if base == 0 {
		base = 1
	}
	t.base = base
}

func (t *handleTable[T]) insert(v T) (Handle, bool) {
	var idx int
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if len(t.slots) >= bmlipc.MaxHandleSlots {
			return 0, false
		}
		t.slots = append(t.slots, slot[T]{gen: t.base})
		idx = len(t.slots) - 1
	}
	s := &t.slots[idx]
	s.live = true
	s.val = v
	t.live++
	return bmlipc.MakeHandle(t.kind, s.gen, idx), true
}

func (t *handleTable[T]) lookup(h Handle) (*slot[T], bool) {
	if h.IsZero() || h.Kind() != t.kind {
		return nil, false
	}
	idx := h.Index()
	if idx >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[idx]
	if !s.live || s.gen != h.Generation() {
		return nil, false
	}
	return s, true
}

func (t *handleTable[T]) get(h Handle) (T, bool) {
	s, ok := t.lookup(h)
	if !ok {
		var zero T
		return zero, false
	}
	return s.val, true
}

func (t *handleTable[T]) remove(h Handle) (T, bool) {
	s, ok := t.lookup(h)
	if !ok {
		var zero T
		return zero, false
	}
	v := s.val
	var zero T
	s.val = zero
	s.live = false
	s.gen++
	if s.gen > bmlipc.MaxHandleGeneration {
		s.gen = 1
	}
	t.free = append(t.free, h.Index())
	t.live--
	return v, true
}

func (t *handleTable[T]) len() int { return t.live }

// each visits live entries in slot order.
func (t *handleTable[T]) each(fn func(h Handle, v T)) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.live {
			fn(bmlipc.MakeHandle(t.kind, s.gen, i), s.val)
		}
	}
}
