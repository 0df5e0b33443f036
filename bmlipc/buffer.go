// Package bmlipc implements the wire layer shared by the bml client proxy and
// the bmlhost worker: a bounded message buffer, the i/s/d format language,
// command ids, typed request/reply messages and length-prefixed framing.
package bmlipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultBufferSize is the capacity used by the original transport. It is
// the floor for negotiated frame sizes.
const DefaultBufferSize int = 2048

var (
	// ErrOverflow is recorded when a write would exceed the buffer capacity.
	ErrOverflow = errors.New("bmlipc: write exceeds buffer capacity")
	// ErrShortRead is recorded when a read runs past the received size.
	ErrShortRead = errors.New("bmlipc: read past end of message")
	// ErrUnterminated is recorded when a string has no terminator before the end of the message.
	ErrUnterminated = errors.New("bmlipc: unterminated string")
	// ErrNegativeLength is recorded for a data block whose length prefix is negative.
	ErrNegativeLength = errors.New("bmlipc: negative data length")
)

// Buffer is a fixed-capacity byte region with a cursor (pos) and a content
// length (size). Writes append at pos and extend size; reads consume from pos
// up to size. The first failure is sticky until Clear.
type Buffer struct {
	data []byte
	pos  int
	size int
	err  error
	log  *zap.Logger
}

// NewBuffer creates a cleared buffer with the given capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Clear resets pos, size and the sticky error.
func (b *Buffer) Clear() {
	b.pos = 0
	b.size = 0
	b.err = nil
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of content bytes.
func (b *Buffer) Len() int { return b.size }

// Pos returns the cursor position.
func (b *Buffer) Pos() int { return b.pos }

// Remaining returns the unread content byte count.
func (b *Buffer) Remaining() int { return b.size - b.pos }

// Bytes returns the content bytes. The slice aliases the buffer storage and
// is only valid until the next write or Load.
func (b *Buffer) Bytes() []byte { return b.data[:b.size] }

// Err returns the first error recorded since the last Clear.
func (b *Buffer) Err() error { return b.err }

// IOError reports whether an error has been recorded since the last Clear.
func (b *Buffer) IOError() bool { return b.err != nil }

// Load clears the buffer and copies p in as received content, with the
// cursor at the start.
func (b *Buffer) Load(p []byte) error {
	b.Clear()
	if len(p) > len(b.data) {
		b.err = fmt.Errorf("%w: %d byte message, capacity %d", ErrOverflow, len(p), len(b.data))
		return b.err
	}
	b.size = copy(b.data, p)
	return nil
}

// Rewind moves the cursor back to the start so written content can be read back.
func (b *Buffer) Rewind() { b.pos = 0 }

func (b *Buffer) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Buffer) reserve(n int) bool {
	if b.err != nil {
		return false
	}
	if n > len(b.data)-b.pos {
		b.fail(fmt.Errorf("%w: need %d bytes at %d, capacity %d", ErrOverflow, n, b.pos, len(b.data)))
		return false
	}
	return true
}

func (b *Buffer) advance(n int) {
	b.pos += n
	if b.pos > b.size {
		b.size = b.pos
	}
}

func (b *Buffer) available(n int) bool {
	if b.err != nil {
		return false
	}
	if n > b.size-b.pos {
		b.fail(fmt.Errorf("%w: need %d bytes at %d, size %d", ErrShortRead, n, b.pos, b.size))
		return false
	}
	return true
}

// WriteInt stores a 4-byte little-endian signed integer.
func (b *Buffer) WriteInt(v int32) {
	if !b.reserve(4) {
		return
	}
	binary.LittleEndian.PutUint32(b.data[b.pos:], uint32(v))
	b.advance(4)
}

// WriteString stores the string bytes followed by a single zero terminator.
// A string containing a zero byte is truncated at it on the reading side.
func (b *Buffer) WriteString(s string) {
	if !b.reserve(len(s) + 1) {
		return
	}
	copy(b.data[b.pos:], s)
	b.data[b.pos+len(s)] = 0
	b.advance(len(s) + 1)
}

// WriteData stores a length-prefixed block: the byte count as an int, then
// the raw bytes. The whole block is written or nothing is.
func (b *Buffer) WriteData(p []byte) {
	if !b.reserve(4 + len(p)) {
		return
	}
	binary.LittleEndian.PutUint32(b.data[b.pos:], uint32(len(p)))
	copy(b.data[b.pos+4:], p)
	b.advance(4 + len(p))
}

// ReadInt consumes a 4-byte integer. It returns 0 when fewer than 4 bytes remain.
func (b *Buffer) ReadInt() int32 {
	if !b.available(4) {
		return 0
	}
	v := int32(binary.LittleEndian.Uint32(b.data[b.pos:]))
	b.pos += 4
	return v
}

// ReadString consumes bytes up to and including the next zero byte. It
// returns "" and records ErrUnterminated when no terminator precedes size.
func (b *Buffer) ReadString() string {
	if b.err != nil {
		return ""
	}
	end := bytes.IndexByte(b.data[b.pos:b.size], 0)
	if end < 0 {
		b.fail(fmt.Errorf("%w at %d", ErrUnterminated, b.pos))
		return ""
	}
	s := string(b.data[b.pos : b.pos+end])
	b.pos += end + 1
	return s
}

// ReadData consumes a length-prefixed block and returns a view of its bytes.
// The view aliases the buffer storage. A length that runs past size is an
// error and nothing past size is read.
func (b *Buffer) ReadData() []byte {
	start := b.pos
	n := b.ReadInt()
	if b.err != nil {
		return nil
	}
	if n < 0 {
		b.fail(fmt.Errorf("%w: %d at %d", ErrNegativeLength, n, start))
		return nil
	}
	if !b.available(int(n)) {
		return nil
	}
	p := b.data[b.pos : b.pos+int(n)]
	b.pos += int(n)
	return p
}
