package bmlipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrFrameTooLarge is returned for a frame above the negotiated limit. The
	// payload has been drained so the stream stays usable.
	ErrFrameTooLarge = errors.New("bmlipc: frame exceeds max_frame")
	// ErrFrameCorrupt is returned for a length prefix above the hard limit.
	// The stream cannot be resynchronized after it.
	ErrFrameCorrupt = errors.New("bmlipc: frame length exceeds hard limit")
)

// FrameReader reads length-prefixed messages from a stream
type FrameReader struct {
	reader io.Reader
	limits Limits
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		reader: r,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = limits.Normalize()
}

// Limits returns the reader's limits
func (fr *FrameReader) Limits() Limits { return fr.limits }

// ReadFrame reads one message into b, replacing its content. io.EOF is
// returned unwrapped when the stream ends cleanly between frames.
func (fr *FrameReader) ReadFrame(b *Buffer) error {
	b.Clear()

	// Read 4-byte length prefix (big-endian)
	var lengthBuf [4]byte
	if _, err := io.ReadFull(fr.reader, lengthBuf[:]); err != nil {
		return err
	}
	length := int64(binary.BigEndian.Uint32(lengthBuf[:]))

	// Hard limit check
	if length > int64(MaxFrameHardLimit) {
		return fmt.Errorf("%w: %d > %d", ErrFrameCorrupt, length, MaxFrameHardLimit)
	}

	// Enforce max_frame and buffer capacity; drain the payload to stay in sync
	if length > int64(fr.limits.MaxFrame) || length > int64(b.Cap()) {
		if _, err := io.CopyN(io.Discard, fr.reader, length); err != nil {
			return noEOF(err)
		}
		return fmt.Errorf("%w: %d bytes, limit %d, buffer %d", ErrFrameTooLarge, length, fr.limits.MaxFrame, b.Cap())
	}

	if _, err := io.ReadFull(fr.reader, b.data[:length]); err != nil {
		return noEOF(err)
	}
	b.size = int(length)
	return nil
}

// A stream ending inside a frame is never a clean close.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// FrameWriter writes length-prefixed messages to a stream
type FrameWriter struct {
	writer  io.Writer
	limits  Limits
	scratch []byte
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.limits = limits.Normalize()
}

// Limits returns the writer's limits
func (fw *FrameWriter) Limits() Limits { return fw.limits }

// WriteFrame writes the content of b as one frame. Prefix and payload go out
// in a single write. A buffer carrying an encode error is never sent.
func (fw *FrameWriter) WriteFrame(b *Buffer) error {
	if err := b.Err(); err != nil {
		return fmt.Errorf("refusing to send message with encode error: %w", err)
	}
	return fw.WritePayload(b.Bytes())
}

// WritePayload writes p as one frame.
func (fw *FrameWriter) WritePayload(p []byte) error {
	// Enforce max_frame limit
	if len(p) > fw.limits.MaxFrame {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, len(p), fw.limits.MaxFrame)
	}

	need := 4 + len(p)
	if cap(fw.scratch) < need {
		fw.scratch = make([]byte, need)
	}
	frame := fw.scratch[:need]
	binary.BigEndian.PutUint32(frame, uint32(len(p)))
	copy(frame[4:], p)
	_, err := fw.writer.Write(frame)
	return err
}
