package bmlipc

import "fmt"

// Handle is an opaque reference to a worker-side machine type or machine
// instance. Zero is never a valid handle.
//
// Layout: bit 31 marks an instance handle, bits 16..30 carry the slot
// generation and bits 0..15 the slot index.
type Handle uint32

// HandleKind distinguishes machine type handles from instance handles.
type HandleKind uint8

const (
	KindType HandleKind = iota
	KindInstance
)

const (
	handleKindBit   = 1 << 31
	handleGenShift  = 16
	handleGenMask   = 0x7fff
	handleIndexMask = 0xffff

	// MaxHandleSlots is the number of slots addressable by one handle table.
	MaxHandleSlots = handleIndexMask + 1
	// MaxHandleGeneration is the largest generation before wrap-around.
	MaxHandleGeneration = handleGenMask
)

// MakeHandle packs kind, generation and slot index. Generation must be non-zero.
func MakeHandle(kind HandleKind, generation uint16, index int) Handle {
	h := Handle(uint32(generation&handleGenMask)<<handleGenShift | uint32(index&handleIndexMask))
	if kind == KindInstance {
		h |= handleKindBit
	}
	return h
}

// Kind returns the handle kind.
func (h Handle) Kind() HandleKind {
	if h&handleKindBit != 0 {
		return KindInstance
	}
	return KindType
}

// Generation returns the slot generation.
func (h Handle) Generation() uint16 {
	return uint16(uint32(h) >> handleGenShift & handleGenMask)
}

// Index returns the slot index.
func (h Handle) Index() int {
	return int(uint32(h) & handleIndexMask)
}

// IsZero reports whether h is the null handle.
func (h Handle) IsZero() bool { return h == 0 }

func (h Handle) String() string {
	if h == 0 {
		return "handle(nil)"
	}
	kind := "type"
	if h.Kind() == KindInstance {
		kind = "machine"
	}
	return fmt.Sprintf("%s#%d.%d", kind, h.Index(), h.Generation())
}
