package main

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bml "github.com/machinefabric/bml-go"
	"github.com/machinefabric/bml-go/machine"
)

func newNative(t *testing.T) *bml.Native {
	t.Helper()
	n := bml.NewNative(machine.NewMux(machine.NewBuiltinLoader(nil), nil), nil)
	t.Cleanup(func() { _ = n.Shutdown() })
	return n
}

func rawSamples(v ...int16) []byte {
	out := make([]byte, 2*len(v))
	for i, s := range v {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func decodeSamples(p []byte) []int16 {
	out := make([]int16, len(p)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(p[2*i:]))
	}
	return out
}

// TEST701: info prints the machine header, parameters and attributes
func Test701_dump_info(t *testing.T) {
	api := newNative(t)
	var out bytes.Buffer
	require.NoError(t, dumpInfo(api, "builtin:gain", &out))

	text := out.String()
	assert.Contains(t, text, "builtin:gain\n")
	assert.Contains(t, text, `Name: "BML Gain"`)
	assert.Contains(t, text, `Type: 2 -> "MT_EFFECT"`)
	assert.Contains(t, text, "MIF_MONO_TO_STEREO")
	assert.Contains(t, text, "GlobalParam=00")
	assert.Contains(t, text, "RealValue: 64 100%")
	assert.Contains(t, text, `Name: "Invert"`)

	types, instances := api.Stats()
	assert.Zero(t, types, "the machine is closed afterwards")
	assert.Zero(t, instances)
}

// TEST702: info on a generator lists its track parameters
func Test702_dump_info_tracks(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, dumpInfo(newNative(t), "builtin:tone", &out))

	text := out.String()
	assert.Contains(t, text, "NumTrackParams: 2")
	assert.Contains(t, text, "TrackParam=01")
	assert.Contains(t, text, "RealValue: 440 440 Hz")
}

// TEST703: info on a missing machine fails
func Test703_dump_info_missing(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorContains(t, dumpInfo(newNative(t), "builtin:missing", &out), "cannot open")
}

// TEST704: an effect renders input through work_m2s into interleaved stereo
func Test704_process_effect(t *testing.T) {
	api := newNative(t)
	var out bytes.Buffer
	st, err := processRaw(api, "builtin:gain", bytes.NewReader(rawSamples(100, -200, 300)), &out)
	require.NoError(t, err)

	assert.Equal(t, 1, st.Blocks)
	assert.Equal(t, 6, st.Samples)
	assert.Equal(t, []int16{100, 100, -200, -200, 300, 300}, decodeSamples(out.Bytes()))
	assert.InDelta(t, 300, st.Peak, 1e-9)
	assert.Zero(t, st.Clipped)
}

// TEST705: input is processed in blocks of at most the maximum buffer length
func Test705_process_blocks(t *testing.T) {
	in := make([]int16, machine.MaxBufferLength+10)
	for i := range in {
		in[i] = int16(i)
	}
	var out bytes.Buffer
	st, err := processRaw(newNative(t), "builtin:gain", bytes.NewReader(rawSamples(in...)), &out)
	require.NoError(t, err)

	assert.Equal(t, 2, st.Blocks)
	assert.Equal(t, 2*len(in), st.Samples)
	got := decodeSamples(out.Bytes())
	assert.Equal(t, int16(machine.MaxBufferLength+9), got[len(got)-1])
}

// TEST706: a generator runs for as many blocks as the input holds
func Test706_process_generator(t *testing.T) {
	var out bytes.Buffer
	st, err := processRaw(newNative(t), "builtin:tone", bytes.NewReader(make([]byte, 4*machine.MaxBufferLength)), &out)
	require.NoError(t, err)

	assert.Equal(t, 2, st.Blocks)
	assert.Equal(t, 2*machine.MaxBufferLength, st.Samples)
	assert.Equal(t, 4*machine.MaxBufferLength, out.Len())
	assert.False(t, st.NaN)
}

// TEST707: output beyond the 16 bit range is clipped and counted
func Test707_observe_clips(t *testing.T) {
	var st processStats
	assert.Equal(t, int16(32767), st.observe(40000))
	assert.Equal(t, int16(-32768), st.observe(-40000))
	assert.Equal(t, int16(12), st.observe(12.7))
	assert.Equal(t, int16(0), st.observe(float32(math.NaN())))

	assert.Equal(t, 2, st.Clipped)
	assert.True(t, st.NaN)
	assert.InDelta(t, 40000, st.Peak, 1e-9)
}
