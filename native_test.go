package bml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/machinefabric/bml-go/logging"
	"github.com/machinefabric/bml-go/machine"
)

func newTestNative(t *testing.T) (*Native, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	n := NewNative(machine.NewMux(machine.NewBuiltinLoader(nil), nil), logging.NewTracer(zap.New(core), 0))
	t.Cleanup(func() { _ = n.Shutdown() })
	return n, logs
}

// TEST511: open, new and init give a machine with default parameter values
func Test511_native_lifecycle(t *testing.T) {
	n, _ := newTestNative(t)

	bmh := n.Open("builtin:gain")
	require.False(t, bmh.IsZero())
	bm := n.New(bmh)
	require.False(t, bm.IsZero())
	n.Init(bm, nil)

	assert.Equal(t, machine.IntValue(1), n.GetMachineInfo(bmh, machine.PropNumGlobalParams))
	assert.Equal(t, "Gain", n.GetGlobalParameterInfo(bmh, 0, machine.ParamName).Str)
	assert.Equal(t, "Invert", n.GetAttributeInfo(bmh, 0, machine.AttrName).Str)
	assert.Equal(t, 0x40, n.GetGlobalParameterValue(bm, 0))

	n.SetGlobalParameterValue(bm, 0, 0x20)
	assert.Equal(t, 0x20, n.GetGlobalParameterValue(bm, 0))
	assert.Equal(t, "50%", n.DescribeGlobalValue(bmh, 0, 0x20))

	types, instances := n.Stats()
	assert.Equal(t, 1, types)
	assert.Equal(t, 1, instances)
}

// TEST512: an unknown module yields the zero handle
func Test512_native_open_unknown(t *testing.T) {
	n, logs := newTestNative(t)

	assert.True(t, n.Open("builtin:nope").IsZero())
	assert.True(t, n.Open("/no/such/machine.so").IsZero(), "native paths fail without a native loader")
	assert.Equal(t, 2, logs.FilterMessage("failed to open machine").Len())
}

// TEST513: stale handles answer neutral values instead of reaching freed machines
func Test513_native_stale_handles(t *testing.T) {
	n, logs := newTestNative(t)

	bmh := n.Open("builtin:gain")
	bm := n.New(bmh)
	n.Init(bm, nil)
	n.Free(bm)

	assert.Equal(t, 0, n.GetGlobalParameterValue(bm, 0))
	n.SetGlobalParameterValue(bm, 0, 1)
	n.Tick(bm)
	assert.False(t, n.Work(bm, make([]float32, 4), machine.ModeReadWrite))
	n.Free(bm)
	assert.Equal(t, 5, logs.FilterMessage("stale or unknown machine handle").Len())

	// a type handle is not an instance handle
	assert.Equal(t, 0, n.GetGlobalParameterValue(bmh, 0))
	assert.False(t, n.GetMachineInfo(bm, machine.PropName).OK())
}

// TEST514: closing a type frees the instances created from it
func Test514_native_close_frees_orphans(t *testing.T) {
	n, _ := newTestNative(t)

	bmh := n.Open("builtin:tone")
	other := n.Open("builtin:gain")
	a := n.New(bmh)
	b := n.New(bmh)
	c := n.New(other)

	n.Close(bmh)
	types, instances := n.Stats()
	assert.Equal(t, 1, types)
	assert.Equal(t, 1, instances)

	n.Init(c, nil)
	assert.Equal(t, 0x40, n.GetGlobalParameterValue(c, 0))
	assert.True(t, n.New(bmh).IsZero())
	_ = a
	_ = b
}

// TEST515: work runs in place and mono-to-stereo doubles the block
func Test515_native_work(t *testing.T) {
	n, _ := newTestNative(t)
	bmh := n.Open("builtin:gain")
	bm := n.New(bmh)
	n.Init(bm, nil)
	n.SetGlobalParameterValue(bm, 0, 0x80)

	samples := []float32{1, -2, 3}
	require.True(t, n.Work(bm, samples, machine.ModeReadWrite))
	assert.Equal(t, []float32{2, -4, 6}, samples)

	out := make([]float32, 6)
	require.True(t, n.WorkM2S(bm, []float32{1, 2, 3}, out, machine.ModeReadWrite))
	assert.Equal(t, []float32{2, 2, 4, 4, 6, 6}, out)
}

// TEST516: shutdown releases everything
func Test516_native_shutdown(t *testing.T) {
	n := NewNative(machine.NewMux(machine.NewBuiltinLoader(nil), nil), nil)
	bmh := n.Open("builtin:gain")
	n.New(bmh)
	n.New(bmh)

	require.NoError(t, n.Shutdown())
	types, instances := n.Stats()
	assert.Zero(t, types)
	assert.Zero(t, instances)
}

// TEST517: backends seeded differently do not accept each other's handles
func Test517_native_seeded_generations(t *testing.T) {
	old, _ := newTestNative(t)
	fresh, logs := newTestNative(t)
	fresh.SeedGenerations(0x2a)

	oldType := old.Open("builtin:gain")
	oldMachine := old.New(oldType)
	freshType := fresh.Open("builtin:tone")
	freshMachine := fresh.New(freshType)
	require.False(t, freshMachine.IsZero())

	assert.Equal(t, uint16(0x2a), freshType.Generation())
	assert.NotEqual(t, oldType, freshType)
	assert.False(t, fresh.GetMachineInfo(oldType, machine.PropName).OK())
	assert.Equal(t, 0, fresh.GetGlobalParameterValue(oldMachine, 0))
	assert.Equal(t, 2, logs.FilterMessageSnippet("stale or unknown").Len())
}
