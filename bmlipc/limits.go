package bmlipc

// DefaultMaxFrame is the default largest message payload (64 KiB). It holds a
// stereo reply for a 4096 sample block with room to spare.
const DefaultMaxFrame int = 65_536

// MaxFrameHardLimit bounds any negotiated frame size (16 MiB).
const MaxFrameHardLimit int = 16_777_216

// Limits holds the limits negotiated during the HELLO exchange.
type Limits struct {
	MaxFrame int `cbor:"max_frame"`
}

// DefaultLimits returns the default protocol limits
func DefaultLimits() Limits {
	return Limits{MaxFrame: DefaultMaxFrame}
}

// Normalize clamps the limits into the supported range. A zero MaxFrame
// means the peer did not state one and the default applies.
func (l Limits) Normalize() Limits {
	switch {
	case l.MaxFrame == 0:
		l.MaxFrame = DefaultMaxFrame
	case l.MaxFrame < DefaultBufferSize:
		l.MaxFrame = DefaultBufferSize
	case l.MaxFrame > MaxFrameHardLimit:
		l.MaxFrame = MaxFrameHardLimit
	}
	return l
}

// NegotiateLimits returns the minimum of two limit sets
func NegotiateLimits(a, b Limits) Limits {
	a, b = a.Normalize(), b.Normalize()
	return Limits{MaxFrame: min(a.MaxFrame, b.MaxFrame)}
}
