package bml

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ErrorKind classifies session failures.
type ErrorKind int

const (
	ErrorKindEncode ErrorKind = iota
	ErrorKindDecode
	ErrorKindTransport
	ErrorKindPeerGone
	ErrorKindTimeout
	ErrorKindSpawn
	ErrorKindConnect
	ErrorKindHandshake
	ErrorKindClosed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindEncode:
		return "encode"
	case ErrorKindDecode:
		return "decode"
	case ErrorKindTransport:
		return "transport"
	case ErrorKindPeerGone:
		return "peer gone"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindSpawn:
		return "spawn"
	case ErrorKindConnect:
		return "connect"
	case ErrorKindHandshake:
		return "handshake"
	case ErrorKindClosed:
		return "closed"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a session failure with the operation it happened in.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == ErrorKindPeerGone {
		return fmt.Sprintf("bml: %s: worker is gone: %v", e.Op, e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("bml: %s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("bml: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrClosed is wrapped by errors from calls on a closed session.
var ErrClosed = errors.New("session is closed")

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a session error, or false for other errors.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// isPeerGone reports whether a send error means the worker process is gone
// rather than a transient failure.
func isPeerGone(err error) bool {
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isEOF reports whether a receive ended because the worker closed the stream.
func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, unix.ECONNRESET)
}
