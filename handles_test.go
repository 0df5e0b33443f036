package bml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/bml-go/bmlipc"
)

// TEST501: inserted values are found under their handle and never under zero
func Test501_handle_table_insert_lookup(t *testing.T) {
	tbl := newHandleTable[string](bmlipc.KindType)

	a, ok := tbl.insert("a")
	require.True(t, ok)
	b, ok := tbl.insert("b")
	require.True(t, ok)

	assert.False(t, a.IsZero())
	assert.NotEqual(t, a, b)
	assert.Equal(t, bmlipc.KindType, a.Kind())

	v, ok := tbl.get(a)
	require.True(t, ok)
	assert.Equal(t, "a", v)
	v, ok = tbl.get(b)
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = tbl.get(0)
	assert.False(t, ok)
	assert.Equal(t, 2, tbl.len())
}

// TEST502: a removed handle is stale even after its slot is reused
func Test502_handle_table_generation(t *testing.T) {
	tbl := newHandleTable[int](bmlipc.KindInstance)

	h1, _ := tbl.insert(1)
	v, ok := tbl.remove(h1)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = tbl.get(h1)
	assert.False(t, ok, "removed handle must not resolve")
	_, ok = tbl.remove(h1)
	assert.False(t, ok, "double remove must be rejected")

	h2, _ := tbl.insert(2)
	assert.Equal(t, h1.Index(), h2.Index(), "slot is reused")
	assert.NotEqual(t, h1.Generation(), h2.Generation())

	_, ok = tbl.get(h1)
	assert.False(t, ok, "old generation must not see the new value")
	v, ok = tbl.get(h2)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

// TEST503: handles of the other kind are rejected
func Test503_handle_table_kind_check(t *testing.T) {
	types := newHandleTable[int](bmlipc.KindType)
	instances := newHandleTable[int](bmlipc.KindInstance)

	ht, _ := types.insert(1)
	hi, _ := instances.insert(1)

	_, ok := instances.get(ht)
	assert.False(t, ok)
	_, ok = types.get(hi)
	assert.False(t, ok)
	_, ok = types.get(bmlipc.MakeHandle(bmlipc.KindType, 1, 500))
	assert.False(t, ok, "index past the table")
}

// TEST504: each visits live entries only
func Test504_handle_table_each(t *testing.T) {
	tbl := newHandleTable[string](bmlipc.KindType)
	a, _ := tbl.insert("a")
	tbl.insert("b")
	tbl.remove(a)
	tbl.insert("c")

	var seen []string
	tbl.each(func(h Handle, v string) {
		got, ok := tbl.get(h)
		require.True(t, ok)
		assert.Equal(t, v, got)
		seen = append(seen, v)
	})
	assert.ElementsMatch(t, []string{"b", "c"}, seen)
}

// TEST505: tables with different base generations reject each other's handles
func Test505_handle_table_base_generation(t *testing.T) {
	first := newHandleTable[string](bmlipc.KindInstance)
	second := newHandleTable[string](bmlipc.KindInstance)
	second.setBase(0x1234)

	a, _ := first.insert("a")
	b, _ := second.insert("b")
	assert.Equal(t, a.Index(), b.Index())
	assert.Equal(t, uint16(1), a.Generation())
	assert.Equal(t, uint16(0x1234), b.Generation())

	_, ok := second.get(a)
	assert.False(t, ok)
	_, ok = first.get(b)
	assert.False(t, ok)

	zero := newHandleTable[string](bmlipc.KindType)
	zero.setBase(0x8000)
	h, _ := zero.insert("z")
	assert.Equal(t, uint16(1), h.Generation(), "a base without generation bits maps to 1")
}
