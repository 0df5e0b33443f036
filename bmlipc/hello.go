package bmlipc

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ProtocolVersion is bumped whenever a message layout changes.
const ProtocolVersion uint8 = 1

const maxHelloSize = 1024

// ErrVersionMismatch is returned when the peer speaks another protocol version.
var ErrVersionMismatch = errors.New("bmlipc: protocol version mismatch")

// Hello is the first message in each direction after connect. It is CBOR
// encoded so fields can be added without a version bump.
type Hello struct {
	Version  uint8  `cbor:"version"`
	MaxFrame int    `cbor:"max_frame"`
	PID      int    `cbor:"pid"`
	WorkerID string `cbor:"worker_id,omitempty"`
	Loader   string `cbor:"loader,omitempty"`
}

// Limits returns the limits announced by this hello.
func (h Hello) Limits() Limits {
	return Limits{MaxFrame: h.MaxFrame}.Normalize()
}

func writeHello(writer *FrameWriter, h Hello) error {
	payload, err := cbor.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode HELLO: %w", err)
	}
	return writer.WritePayload(payload)
}

func readHello(reader *FrameReader) (Hello, error) {
	b := NewBuffer(maxHelloSize)
	if err := reader.ReadFrame(b); err != nil {
		return Hello{}, err
	}
	var h Hello
	if err := cbor.Unmarshal(b.Bytes(), &h); err != nil {
		return Hello{}, fmt.Errorf("failed to decode HELLO: %w", err)
	}
	if h.Version != ProtocolVersion {
		return Hello{}, fmt.Errorf("%w: peer %d, local %d", ErrVersionMismatch, h.Version, ProtocolVersion)
	}
	return h, nil
}

// HandshakeInitiate performs handshake from the client side and applies the
// negotiated limits to reader and writer.
func HandshakeInitiate(reader *FrameReader, writer *FrameWriter, local Hello) (Hello, Limits, error) {
	local.Version = ProtocolVersion

	// 1. Send HELLO with our limits
	if err := writeHello(writer, local); err != nil {
		return Hello{}, Limits{}, fmt.Errorf("failed to write HELLO: %w", err)
	}

	// 2. Read the worker's HELLO
	remote, err := readHello(reader)
	if err != nil {
		return Hello{}, Limits{}, fmt.Errorf("failed to read HELLO response: %w", err)
	}

	// 3. Negotiate limits (min of both sides)
	negotiated := NegotiateLimits(local.Limits(), remote.Limits())
	reader.SetLimits(negotiated)
	writer.SetLimits(negotiated)
	return remote, negotiated, nil
}

// HandshakeAccept performs handshake from the worker side and applies the
// negotiated limits to reader and writer.
func HandshakeAccept(reader *FrameReader, writer *FrameWriter, local Hello) (Hello, Limits, error) {
	local.Version = ProtocolVersion

	// 1. Read HELLO from the client
	remote, err := readHello(reader)
	if err != nil {
		return Hello{}, Limits{}, fmt.Errorf("failed to read HELLO: %w", err)
	}

	// 2. Answer with ours
	if err := writeHello(writer, local); err != nil {
		return Hello{}, Limits{}, fmt.Errorf("failed to write HELLO response: %w", err)
	}

	negotiated := NegotiateLimits(local.Limits(), remote.Limits())
	reader.SetLimits(negotiated)
	writer.SetLimits(negotiated)
	return remote, negotiated, nil
}
