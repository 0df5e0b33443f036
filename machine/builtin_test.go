package machine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBuiltin(t *testing.T, name string) Library {
	t.Helper()
	lib, err := NewBuiltinLoader(nil).Open(BuiltinScheme + name)
	require.NoError(t, err)
	return lib
}

// TEST201: machine info answers every property with the right kind
func Test201_machine_info_properties(t *testing.T) {
	lib := openBuiltin(t, "gain")

	for _, key := range Properties() {
		v := lib.MachineInfo(key)
		require.True(t, v.OK(), "property %s", key)
		if key.IsString() {
			assert.Equal(t, KindString, v.Kind, "property %s", key)
		} else {
			assert.Equal(t, KindInt, v.Kind, "property %s", key)
		}
	}

	assert.Equal(t, "BML Gain", lib.MachineInfo(PropName).Str)
	assert.Equal(t, "builtin:gain", lib.MachineInfo(PropDLLName).Str)
	assert.Equal(t, int(TypeEffect), lib.MachineInfo(PropType).Int)
	assert.Equal(t, 1, lib.MachineInfo(PropNumGlobalParams).Int)
	assert.Equal(t, 1, lib.MachineInfo(PropNumInputChannels).Int)
	assert.Equal(t, 2, lib.MachineInfo(PropNumOutputChannels).Int, "mono-to-stereo machines report two outputs")
	assert.False(t, lib.MachineInfo(Property(99)).OK())
}

// TEST202: output channels default to one without the mono-to-stereo flag
func Test202_output_channels_default(t *testing.T) {
	lib := openBuiltin(t, "tone")
	assert.Equal(t, 1, lib.MachineInfo(PropNumOutputChannels).Int)
}

// TEST203: parameter and attribute info is bounds checked
func Test203_indexed_info_bounds(t *testing.T) {
	lib := openBuiltin(t, "tone")

	assert.Equal(t, "Volume", lib.GlobalParameterInfo(0, ParamName).Str)
	assert.Equal(t, "Freq", lib.TrackParameterInfo(0, ParamName).Str)
	assert.Equal(t, 440, lib.TrackParameterInfo(0, ParamDefValue).Int)
	assert.Equal(t, int(ParamKindSwitch), lib.TrackParameterInfo(1, ParamType).Int)

	assert.False(t, lib.GlobalParameterInfo(1, ParamName).OK())
	assert.False(t, lib.TrackParameterInfo(-1, ParamName).OK())
	assert.False(t, lib.AttributeInfo(0, AttrName).OK())
	assert.False(t, lib.GlobalParameterInfo(0, Parameter(42)).OK())

	gain := openBuiltin(t, "gain")
	assert.Equal(t, "Invert", gain.AttributeInfo(0, AttrName).Str)
	assert.Equal(t, 1, gain.AttributeInfo(0, AttrMaxValue).Int)
}

// TEST204: init applies attribute defaults and parameter initial values
func Test204_init_defaults(t *testing.T) {
	lib := openBuiltin(t, "tone")
	m, err := lib.New()
	require.NoError(t, err)
	m.Init(nil)

	assert.Equal(t, 0x80, m.GlobalParameterValue(0))
	for track := 0; track < 4; track++ {
		assert.Equal(t, 440, m.TrackParameterValue(track, 0), "track %d", track)
		assert.Equal(t, 1, m.TrackParameterValue(track, 1), "track %d", track)
	}
}

// TEST205: non-state parameters start at their no-value
func Test205_initial_value_without_state_flag(t *testing.T) {
	p := ParameterInfo{NoValue: 0xff, Default: 7}
	assert.Equal(t, 0xff, p.Initial())
	p.Flags = ParamFlagState
	assert.Equal(t, 7, p.Initial())
}

// TEST206: out of range values read 0 and writes are ignored
func Test206_value_bounds(t *testing.T) {
	lib := openBuiltin(t, "gain")
	m, err := lib.New()
	require.NoError(t, err)
	m.Init(nil)

	m.SetGlobalParameterValue(5, 1)
	m.SetTrackParameterValue(0, 0, 1)
	m.SetAttributeValue(-1, 1)
	assert.Equal(t, 0, m.GlobalParameterValue(5))
	assert.Equal(t, 0, m.TrackParameterValue(0, 0))
	assert.Equal(t, 0, m.AttributeValue(-1))

	m.SetGlobalParameterValue(0, 0x20)
	assert.Equal(t, 0x20, m.GlobalParameterValue(0))
}

// TEST207: gain scales in place and splits mono to stereo
func Test207_gain_work(t *testing.T) {
	lib := openBuiltin(t, "gain")
	m, err := lib.New()
	require.NoError(t, err)
	m.Init(nil)
	m.SetGlobalParameterValue(0, 0x80)

	samples := []float32{0.25, -0.5}
	assert.True(t, m.Work(samples, ModeReadWrite))
	assert.Equal(t, []float32{0.5, -1}, samples)

	assert.False(t, m.Work(samples, ModeWrite), "effects need input")

	m.SetAttributeValue(0, 1)
	out := make([]float32, 4)
	assert.True(t, m.WorkM2S([]float32{0.25, 0.5}, out, ModeReadWrite))
	assert.Equal(t, []float32{-0.5, -0.5, -1, -1}, out)
}

// TEST208: tone follows the master sample rate and stops until the next tick
func Test208_tone_work(t *testing.T) {
	loader := NewBuiltinLoader(nil)
	lib, err := loader.Open("builtin:tone")
	require.NoError(t, err)
	m, err := lib.New()
	require.NoError(t, err)
	m.Init(nil)

	loader.SetMasterInfo(MasterInfo{BeatsPerMinute: 120, TicksPerBeat: 4, SamplesPerSecond: 4})
	m.SetTrackParameterValue(0, 0, 1)

	samples := make([]float32, 4)
	require.True(t, m.Work(samples, ModeWrite))
	assert.InDelta(t, 0, samples[0], 1e-6)
	assert.InDelta(t, 1, samples[1], 1e-6)
	assert.InDelta(t, 0, samples[2], 1e-6)
	assert.InDelta(t, -1, samples[3], 1e-6)

	m.Stop()
	assert.False(t, m.Work(samples, ModeWrite))
	m.Tick()
	assert.True(t, m.Work(samples, ModeWrite))

	m.SetTrackParameterValue(0, 1, 0)
	assert.False(t, m.Work(samples, ModeWrite), "all gates closed")
}

// TEST209: describe covers globals and track parameters
func Test209_describe(t *testing.T) {
	lib := openBuiltin(t, "tone")

	text, ok := lib.DescribeGlobalValue(0, 0x40)
	assert.True(t, ok)
	assert.Equal(t, "50%", text)

	text, ok = lib.DescribeTrackValue(0, 880)
	assert.True(t, ok)
	assert.Equal(t, "880 Hz", text)

	text, ok = lib.DescribeTrackValue(7, 1)
	assert.True(t, ok)
	assert.Equal(t, "", text)
}

// TEST210: unknown builtin names and native paths fail through the mux
func Test210_mux_routing(t *testing.T) {
	mux := NewMux(NewBuiltinLoader(nil), nil)

	_, err := mux.Open("builtin:nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = mux.Open("/usr/lib/buzz/Jeskola Bass.dll")
	assert.True(t, errors.Is(err, ErrNativeUnavailable))

	lib, err := mux.Open("builtin:gain")
	require.NoError(t, err)
	assert.Equal(t, "BML Gain", lib.MachineInfo(PropName).Str)
	assert.Equal(t, "builtin", mux.Name())
	assert.NoError(t, mux.Close())
}

// TEST211: registry rejects duplicates and lists names sorted
func Test211_registry(t *testing.T) {
	r := NewRegistry()
	def := Definition{New: func() Interface { return &gain{} }}
	require.NoError(t, r.Register("b", def))
	require.NoError(t, r.Register("a", def))
	assert.Error(t, r.Register("a", def))
	assert.Error(t, r.Register("c", Definition{}))
	assert.Equal(t, []string{"a", "b"}, r.Names())

	ResetDefaultRegistry()
	assert.Equal(t, []string{"crash", "gain", "hang", "tone"}, DefaultRegistry().Names())
}
