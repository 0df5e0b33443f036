package bmlipc

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/machinefabric/bml-go/strpool"
)

// ErrFormatArgument is recorded when an argument does not match its format character.
var ErrFormatArgument = errors.New("bmlipc: argument does not match format")

// SetLogger sets the logger used to report unknown format characters.
func (b *Buffer) SetLogger(log *zap.Logger) {
	b.log = log
}

func (b *Buffer) logger() *zap.Logger {
	if b.log == nil {
		return zap.NewNop()
	}
	return b.log
}

func (b *Buffer) argMismatch(c byte, i int, arg interface{}) {
	b.fail(fmt.Errorf("%w: %q argument %d has type %T", ErrFormatArgument, c, i, arg))
}

func asInt32(arg interface{}) (int32, bool) {
	switch v := arg.(type) {
	case int32:
		return v, true
	case int:
		return int32(v), true
	case uint32:
		return int32(v), true
	case Handle:
		return int32(v), true
	case Command:
		return int32(v), true
	}
	return 0, false
}

// Write appends args according to format. 'i' takes an integer, 's' a
// string and 'd' two arguments: a byte count and a []byte holding at least
// that many bytes. Unknown characters are logged and skipped.
func (b *Buffer) Write(format string, args ...interface{}) {
	next := 0
	take := func() (interface{}, int) {
		if next >= len(args) {
			return nil, -1
		}
		next++
		return args[next-1], next - 1
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		switch c {
		case 'i':
			arg, n := take()
			v, ok := asInt32(arg)
			if !ok {
				b.argMismatch(c, n, arg)
				return
			}
			b.WriteInt(v)
		case 's':
			arg, n := take()
			s, ok := arg.(string)
			if !ok {
				b.argMismatch(c, n, arg)
				return
			}
			b.WriteString(s)
		case 'd':
			arg, n := take()
			size, ok := asInt32(arg)
			if !ok {
				b.argMismatch(c, n, arg)
				return
			}
			arg, n = take()
			p, ok := arg.([]byte)
			if !ok || int(size) > len(p) || size < 0 {
				b.argMismatch(c, n, arg)
				return
			}
			b.WriteData(p[:size])
		default:
			b.logger().Warn("unknown format character", zap.String("format", format), zap.Int("index", i))
		}
	}
}

// Read consumes values according to format into the pointer arguments.
// 'i' takes *int32, *int or *Handle. 's' takes *string and the result is
// interned in pool when pool is non-nil. 'd' takes a *int that receives the
// byte count and a []byte destination the bytes are copied into. Unknown
// characters are logged and skipped.
func (b *Buffer) Read(pool *strpool.Pool, format string, args ...interface{}) {
	next := 0
	take := func() (interface{}, int) {
		if next >= len(args) {
			return nil, -1
		}
		next++
		return args[next-1], next - 1
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		switch c {
		case 'i':
			arg, n := take()
			v := b.ReadInt()
			switch out := arg.(type) {
			case *int32:
				*out = v
			case *int:
				*out = int(v)
			case *Handle:
				*out = Handle(v)
			default:
				b.argMismatch(c, n, arg)
				return
			}
		case 's':
			arg, n := take()
			out, ok := arg.(*string)
			if !ok {
				b.argMismatch(c, n, arg)
				return
			}
			*out = pool.Intern(b.ReadString())
		case 'd':
			arg, n := take()
			size, ok := arg.(*int)
			if !ok {
				b.argMismatch(c, n, arg)
				return
			}
			arg, n = take()
			dst, ok := arg.([]byte)
			if !ok {
				b.argMismatch(c, n, arg)
				return
			}
			p := b.ReadData()
			if len(p) > len(dst) {
				b.fail(fmt.Errorf("%w: %d byte block into %d byte destination", ErrOverflow, len(p), len(dst)))
				*size = 0
				return
			}
			*size = copy(dst, p)
		default:
			b.logger().Warn("unknown format character", zap.String("format", format), zap.Int("index", i))
		}
	}
}
