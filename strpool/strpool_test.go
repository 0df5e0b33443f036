package strpool

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sameBacking(a, b string) bool {
	return unsafe.StringData(a) == unsafe.StringData(b)
}

// TEST101: interning equal content returns the identical string
func Test101_intern_returns_identical_copy(t *testing.T) {
	p := New(DefaultCapacity)

	first := p.Intern(string([]byte("Jeskola Bass")))
	second := p.Intern(string([]byte("Jeskola Bass")))

	assert.Equal(t, "Jeskola Bass", first)
	assert.True(t, sameBacking(first, second), "second intern must return the stored copy")
	assert.Equal(t, 1, p.Count())
}

// TEST102: the pool keeps its own copy of the key
func Test102_intern_copies_key(t *testing.T) {
	p := New(DefaultCapacity)
	raw := []byte("cutoff")
	key := unsafe.String(&raw[0], len(raw))

	stored := p.Intern(key)
	raw[0] = 'C'

	assert.Equal(t, "cutoff", stored)
	assert.False(t, sameBacking(key, stored))
}

// TEST103: exists and count track distinct strings across bucket collisions
func Test103_exists_and_count(t *testing.T) {
	p := New(3)
	for i := 0; i < 50; i++ {
		p.Intern(fmt.Sprintf("param-%d", i))
		p.Intern(fmt.Sprintf("param-%d", i))
	}

	assert.Equal(t, 50, p.Count())
	for i := 0; i < 50; i++ {
		assert.True(t, p.Exists(fmt.Sprintf("param-%d", i)))
	}
	assert.False(t, p.Exists("param-50"))
}

// TEST104: enum visits every string once and stops early on request
func Test104_enum(t *testing.T) {
	p := New(DefaultCapacity)
	for _, s := range []string{"a", "b", "c", ""} {
		p.Intern(s)
	}

	seen := map[string]int{}
	p.Enum(func(s string) bool {
		seen[s]++
		return true
	})
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "": 1}, seen)

	calls := 0
	p.Enum(func(string) bool {
		calls++
		return false
	})
	assert.Equal(t, 1, calls)
}

// TEST105: nil pool passes strings through
func Test105_nil_pool(t *testing.T) {
	var p *Pool
	assert.Equal(t, "x", p.Intern("x"))
	assert.False(t, p.Exists("x"))
	assert.Equal(t, 0, p.Count())
	p.Enum(func(string) bool { t.Fatal("nil pool has no entries"); return false })
	p.Reset()
}

// TEST106: reset empties the pool
func Test106_reset(t *testing.T) {
	p := New(0)
	old := p.Intern("gain")
	p.Reset()
	require.Equal(t, 0, p.Count())
	require.False(t, p.Exists("gain"))

	fresh := p.Intern("gain")
	assert.Equal(t, old, fresh)
	assert.False(t, sameBacking(old, fresh))
}
