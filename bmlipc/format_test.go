package bmlipc

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/machinefabric/bml-go/strpool"
)

// TEST411: the format language round trips each kind of value
func Test411_format_roundtrip(t *testing.T) {
	blob := []byte("state")
	b := NewBuffer(DefaultBufferSize)
	b.Write("iisdi", int32(3), 42, "gain", len(blob), blob, Handle(0x10001))
	require.NoError(t, b.Err())
	b.Rewind()

	var (
		a    int32
		n    int
		s    string
		size int
		h    Handle
	)
	dst := make([]byte, 16)
	b.Read(nil, "iisdi", &a, &n, &s, &size, dst, &h)
	require.NoError(t, b.Err())

	assert.Equal(t, int32(3), a)
	assert.Equal(t, 42, n)
	assert.Equal(t, "gain", s)
	assert.Equal(t, "state", string(dst[:size]))
	assert.Equal(t, Handle(0x10001), h)
}

// TEST412: strings read through a pool share storage
func Test412_format_interns_strings(t *testing.T) {
	pool := strpool.New(strpool.DefaultCapacity)
	b := NewBuffer(64)
	b.Write("ss", "Cutoff", "Cutoff")
	b.Rewind()

	var first, second string
	b.Read(pool, "ss", &first, &second)
	require.NoError(t, b.Err())
	assert.Equal(t, unsafe.StringData(first), unsafe.StringData(second))
	assert.Equal(t, 1, pool.Count())
}

// TEST413: unknown format characters are logged and skipped
func Test413_unknown_format_character(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	b := NewBuffer(64)
	b.SetLogger(zap.New(core))

	b.Write("ixi", 1, 2)
	require.NoError(t, b.Err())
	assert.Equal(t, 8, b.Len())
	assert.Equal(t, 1, logs.Len())

	b.Rewind()
	var x, y int
	b.Read(nil, "i?i", &x, &y)
	assert.Equal(t, 1, x)
	assert.Equal(t, 2, y)
	assert.Equal(t, 2, logs.Len())
}

// TEST414: mismatched arguments record an error instead of panicking
func Test414_argument_mismatch(t *testing.T) {
	b := NewBuffer(64)
	b.Write("s", 12)
	assert.True(t, errors.Is(b.Err(), ErrFormatArgument))

	b.Clear()
	b.Write("d", 10, []byte{1})
	assert.True(t, errors.Is(b.Err(), ErrFormatArgument), "byte count larger than the slice")

	b.Clear()
	b.Write("i", 5)
	b.Rewind()
	var s string
	b.Read(nil, "i", &s)
	assert.True(t, errors.Is(b.Err(), ErrFormatArgument))
}

// TEST415: a data block larger than the destination is an overflow
func Test415_read_data_overflow(t *testing.T) {
	b := NewBuffer(64)
	b.WriteData([]byte{1, 2, 3, 4})
	b.Rewind()

	size := -1
	b.Read(nil, "d", &size, make([]byte, 2))
	assert.True(t, errors.Is(b.Err(), ErrOverflow))
	assert.Equal(t, 0, size)
}
