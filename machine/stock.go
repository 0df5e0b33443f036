package machine

import (
	"fmt"
	"math"
	"os"
	"time"
)

// CrashExitCode is the status the crash machine terminates its process with.
const CrashExitCode = 70

func stockMachines() map[string]Definition {
	return map[string]Definition{
		"gain": {
			Info: Info{
				Type:      TypeEffect,
				Version:   InterfaceVersion,
				Flags:     FlagMonoToStereo,
				Name:      "BML Gain",
				ShortName: "Gain",
				Author:    "bml",
				Commands:  "About...",
				Globals: []ParameterInfo{
					{Kind: ParamKindByte, Name: "Gain", Description: "Output gain", Min: 0, Max: 0x80, NoValue: 0xff, Flags: ParamFlagState, Default: 0x40},
				},
				Attributes: []AttributeInfo{
					{Name: "Invert", Min: 0, Max: 1, Default: 0},
				},
			},
			New: func() Interface { return &gain{} },
		},
		"tone": {
			Info: Info{
				Type:      TypeGenerator,
				Version:   InterfaceVersion,
				MinTracks: 1,
				MaxTracks: 4,
				Name:      "BML Tone",
				ShortName: "Tone",
				Author:    "bml",
				Globals: []ParameterInfo{
					{Kind: ParamKindByte, Name: "Volume", Description: "Master volume", Min: 0, Max: 0x80, NoValue: 0xff, Flags: ParamFlagState, Default: 0x80},
				},
				Tracks: []ParameterInfo{
					{Kind: ParamKindWord, Name: "Freq", Description: "Frequency in Hz", Min: 1, Max: 20000, NoValue: 0, Flags: ParamFlagState, Default: 440},
					{Kind: ParamKindSwitch, Name: "Gate", Description: "Track on/off", Min: 0, Max: 1, NoValue: 0xff, Flags: ParamFlagState, Default: 1},
				},
			},
			New: func() Interface { return &tone{} },
		},
		"crash": {
			Info: Info{
				Type:      TypeEffect,
				Version:   InterfaceVersion,
				Name:      "BML Crash",
				ShortName: "Crash",
				Author:    "bml",
			},
			New: func() Interface { return &crash{} },
		},
		"hang": {
			Info: Info{
				Type:      TypeEffect,
				Version:   InterfaceVersion,
				Name:      "BML Hang",
				ShortName: "Hang",
				Author:    "bml",
			},
			New: func() Interface { return &hang{} },
		},
	}
}

func percent(value, unity int) string {
	return fmt.Sprintf("%d%%", value*100/unity)
}

// gain scales its input by Gain/0x40 and optionally flips the phase.
type gain struct {
	host *Host
}

func (g *gain) Init(h *Host, _ []byte) { g.host = h }
func (g *gain) Tick() {}
func (g *gain) Stop() {}
func (g *gain) AttributesChanged() {}
func (g *gain) SetNumTracks(int) {}

func (g *gain) factor() float32 {
	f := float32(g.host.Global(0)) / 0x40
	if g.host.Attribute(0) != 0 {
		f = -f
	}
	return f
}

func (g *gain) Work(samples []float32, mode Mode) bool {
	if !mode.Reads() {
		return false
	}
	f := g.factor()
	for i := range samples {
		samples[i] *= f
	}
	return true
}

func (g *gain) WorkMonoToStereo(in, out []float32, mode Mode) bool {
	if !mode.Reads() {
		return false
	}
	f := g.factor()
	for i, s := range in {
		if 2*i+1 >= len(out) {
			break
		}
		out[2*i] = s * f
		out[2*i+1] = s * f
	}
	return true
}

func (g *gain) DescribeValue(param, value int) (string, bool) {
	if param != 0 {
		return "", false
	}
	return percent(value, 0x40), true
}

// tone sums one sine oscillator per active, gated track.
type tone struct {
	host    *Host
	phase   [4]float64
	stopped bool
}

func (t *tone) Init(h *Host, _ []byte) { t.host = h }
func (t *tone) Tick() { t.stopped = false }
func (t *tone) AttributesChanged() {}
func (t *tone) SetNumTracks(int) {}

func (t *tone) Stop() {
	t.stopped = true
	t.phase = [4]float64{}
}

func (t *tone) Work(samples []float32, mode Mode) bool {
	if !mode.Writes() || t.stopped {
		return false
	}
	rate := float64(t.host.Master().SamplesPerSecond)
	if rate <= 0 {
		return false
	}
	tracks := min(t.host.NumTracks(), len(t.phase))
	for i := range samples {
		samples[i] = 0
	}
	active := 0
	for tr := 0; tr < tracks; tr++ {
		if t.host.Track(tr, 1) != 1 {
			continue
		}
		active++
		step := 2 * math.Pi * float64(t.host.Track(tr, 0)) / rate
		for i := range samples {
			samples[i] += float32(math.Sin(t.phase[tr]))
			t.phase[tr] = math.Mod(t.phase[tr]+step, 2*math.Pi)
		}
	}
	if active == 0 {
		return false
	}
	vol := float32(t.host.Global(0)) / 0x80 / float32(active)
	for i := range samples {
		samples[i] *= vol
	}
	return true
}

func (t *tone) DescribeValue(param, value int) (string, bool) {
	switch param {
	case 0:
		return percent(value, 0x80), true
	case 1:
		return fmt.Sprintf("%d Hz", value), true
	case 2:
		if value == 1 {
			return "on", true
		}
		return "off", true
	}
	return "", false
}

// crash terminates the hosting process on its first tick.
type crash struct{}

func (crash) Init(*Host, []byte) {}
func (crash) Tick() { os.Exit(CrashExitCode) }
func (crash) Work([]float32, Mode) bool { return false }
func (crash) Stop() {}
func (crash) AttributesChanged() {}
func (crash) SetNumTracks(int) {}
func (crash) DescribeValue(int, int) (string, bool) { return "", false }

// hang never returns from a tick.
type hang struct{}

func (hang) Init(*Host, []byte) {}

func (hang) Tick() {
	for {
		time.Sleep(time.Hour)
	}
}

func (hang) Work([]float32, Mode) bool { return false }
func (hang) Stop() {}
func (hang) AttributesChanged() {}
func (hang) SetNumTracks(int) {}
func (hang) DescribeValue(int, int) (string, bool) { return "", false }
