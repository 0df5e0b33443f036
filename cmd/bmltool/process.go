package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/google/subcommands"

	bml "github.com/machinefabric/bml-go"
	"github.com/machinefabric/bml-go/machine"
)

// processCmd implements subcommands.Command for the "process" command.
type processCmd struct {
	bpm   int
	tpb   int
	srate int
}

// Name implements subcommands.Command.Name.
func (*processCmd) Name() string { return "process" }

// Synopsis implements subcommands.Command.Synopsis.
func (*processCmd) Synopsis() string { return "run raw 16 bit audio through a machine" }

// Usage implements subcommands.Command.Usage.
func (*processCmd) Usage() string {
	return `process [flags] <machine> <input.raw> <output.raw>

Input is mono signed 16 bit little endian. Output is mono, or interleaved
stereo for mono-to-stereo machines. Generators ignore the input samples but
run for as many blocks as the input holds.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *processCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.bpm, "bpm", 120, "beats per minute.")
	f.IntVar(&c.tpb, "tpb", 4, "ticks per beat.")
	f.IntVar(&c.srate, "rate", 44100, "sample rate.")
}

// Execute implements subcommands.Command.Execute.
func (c *processCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 3 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	in, err := os.Open(f.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "process: %v\n", err)
		return subcommands.ExitFailure
	}
	defer in.Close()
	out, err := os.Create(f.Arg(2))
	if err != nil {
		fmt.Fprintf(os.Stderr, "process: %v\n", err)
		return subcommands.ExitFailure
	}
	defer out.Close()

	b, err := openBackend()
	if err != nil {
		fmt.Fprintf(os.Stderr, "process: %v\n", err)
		return subcommands.ExitFailure
	}
	defer b.shutdown()

	b.SetMasterInfo(c.bpm, c.tpb, c.srate)
	st, err := processRaw(b, f.Arg(0), in, out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "process: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%s: %d blocks, %d samples out, peak %.1f, clipped %d", f.Arg(0), st.Blocks, st.Samples, st.Peak, st.Clipped)
	if st.NaN || st.Inf || st.Denormal {
		fmt.Printf(", nan=%t inf=%t denormal=%t", st.NaN, st.Inf, st.Denormal)
	}
	fmt.Println()
	return subcommands.ExitSuccess
}

// processStats summarizes the rendered output.
type processStats struct {
	Blocks   int
	Samples  int
	Peak     float64
	Clipped  int
	NaN      bool
	Inf      bool
	Denormal bool
}

func (st *processStats) observe(v float32) int16 {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		st.NaN = true
		return 0
	case math.IsInf(f, 0):
		st.Inf = true
	case f != 0 && math.Abs(f) < 0x1p-126:
		st.Denormal = true
	}
	if math.Abs(f) > st.Peak {
		st.Peak = math.Abs(f)
	}
	switch {
	case f > math.MaxInt16:
		st.Clipped++
		return math.MaxInt16
	case f < math.MinInt16:
		st.Clipped++
		return math.MinInt16
	}
	return int16(f)
}

// setTriggers writes a trigger value into every non-state parameter, the
// way a pattern row starts a generator. With on unset the parameters are
// reset to their off or no-value.
func setTriggers(api bml.API, bmh, bm bml.Handle, tracks int, on bool) {
	trigger := func(info func(machine.Parameter) machine.Value) (int, bool) {
		if info(machine.ParamFlags).Int&machine.ParamFlagState != 0 {
			return 0, false
		}
		switch machine.ParamKind(info(machine.ParamType).Int) {
		case machine.ParamKindNote:
			if on {
				return 32, true
			}
			return 0, true
		case machine.ParamKindSwitch:
			if on {
				return 1, true
			}
			return 0xff, true
		}
		return info(machine.ParamNoValue).Int, true
	}

	globals := api.GetMachineInfo(bmh, machine.PropNumGlobalParams).Int
	for i := 0; i < globals; i++ {
		if v, ok := trigger(func(k machine.Parameter) machine.Value { return api.GetGlobalParameterInfo(bmh, i, k) }); ok {
			api.SetGlobalParameterValue(bm, i, v)
		}
	}
	if tracks == 0 {
		return
	}
	params := api.GetMachineInfo(bmh, machine.PropNumTrackParams).Int
	for i := 0; i < params; i++ {
		if v, ok := trigger(func(k machine.Parameter) machine.Value { return api.GetTrackParameterInfo(bmh, i, k) }); ok {
			api.SetTrackParameterValue(bm, 0, i, v)
		}
	}
}

// processRaw renders in through the machine at path in blocks of
// machine.MaxBufferLength samples and writes 16 bit samples to out.
func processRaw(api bml.API, path string, in io.Reader, out io.Writer) (processStats, error) {
	var st processStats
	bmh := api.Open(path)
	if bmh.IsZero() {
		return st, fmt.Errorf("%s: cannot open machine", path)
	}
	defer api.Close(bmh)
	bm := api.New(bmh)
	if bm.IsZero() {
		return st, fmt.Errorf("%s: cannot create machine", path)
	}
	defer api.Free(bm)
	api.Init(bm, nil)

	generator := api.GetMachineInfo(bmh, machine.PropType).Int == int(machine.TypeGenerator)
	stereo := api.GetMachineInfo(bmh, machine.PropFlags).Int&machine.FlagMonoToStereo != 0
	tracks := api.GetMachineInfo(bmh, machine.PropMinTracks).Int
	if tracks > 0 {
		api.SetNumTracks(bm, tracks)
	}
	mode := machine.ModeReadWrite
	if generator {
		mode = machine.ModeWrite
		setTriggers(api, bmh, bm, tracks, true)
	}

	raw := make([]byte, 2*machine.MaxBufferLength)
	mono := make([]float32, machine.MaxBufferLength)
	wide := make([]float32, 2*machine.MaxBufferLength)
	outRaw := make([]byte, 4*machine.MaxBufferLength)
	triggered := generator
	for {
		n, err := io.ReadFull(in, raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return st, err
		}
		samples := n / 2
		if samples == 0 {
			break
		}

		api.Tick(bm)
		block := mono[:samples]
		for i := range block {
			if generator {
				block[i] = 0
			} else {
				block[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:])))
			}
		}
		result := block
		if stereo {
			result = wide[:2*samples]
			api.WorkM2S(bm, block, result, mode)
		} else {
			api.Work(bm, block, mode)
		}
		for i, v := range result {
			binary.LittleEndian.PutUint16(outRaw[2*i:], uint16(st.observe(v)))
		}
		if _, err := out.Write(outRaw[:2*len(result)]); err != nil {
			return st, err
		}
		st.Blocks++
		st.Samples += len(result)

		if triggered {
			setTriggers(api, bmh, bm, tracks, false)
			triggered = false
		}
		if err != nil {
			break
		}
	}
	api.Stop(bm)
	return st, nil
}
