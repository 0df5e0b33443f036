package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	bml "github.com/machinefabric/bml-go"
	"github.com/machinefabric/bml-go/machine"
)

// infoCmd implements subcommands.Command for the "info" command.
type infoCmd struct {
	jobs int
}

// Name implements subcommands.Command.Name.
func (*infoCmd) Name() string { return "info" }

// Synopsis implements subcommands.Command.Synopsis.
func (*infoCmd) Synopsis() string { return "print the description of one or more machines" }

// Usage implements subcommands.Command.Usage.
func (*infoCmd) Usage() string {
	return `info [flags] <machine>...

Machines are shared objects or builtin:<name> paths. Each machine is queried
through its own worker.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *infoCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.jobs, "j", 4, "number of machines queried at once.")
}

// Execute implements subcommands.Command.Execute.
func (c *infoCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	paths := f.Args()
	reports := make([]bytes.Buffer, len(paths))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(max(c.jobs, 1))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			b, err := openBackend()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			defer b.shutdown()
			return dumpInfo(b, path, &reports[i])
		})
	}
	err := g.Wait()
	for i := range reports {
		os.Stdout.Write(reports[i].Bytes())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "info: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

var (
	machineTypes   = []string{"MT_MASTER", "MT_GENERATOR", "MT_EFFECT"}
	parameterTypes = []string{"PT_NOTE", "PT_SWITCH", "PT_BYTE", "PT_WORD"}
	machineFlags   = []string{
		"MIF_MONO_TO_STEREO", "MIF_PLAYS_WAVES", "MIF_USES_LIB_INTERFACE", "MIF_USES_INSTRUMENTS",
		"MIF_DOES_INPUT_MIXING", "MIF_NO_OUTPUT", "MIF_CONTROL_MACHINE", "MIF_INTERNAL_AUX",
	}
	parameterFlags = []string{"MPF_WAVE", "MPF_STATE", "MPF_TICK_ON_EDIT"}
)

func name(names []string, v int) string {
	if v >= 0 && v < len(names) {
		return names[v]
	}
	return "unknown"
}

func printFlags(w io.Writer, indent string, names []string, v int) {
	for i, n := range names {
		if v&(1<<i) != 0 {
			fmt.Fprintf(w, "%s%s\n", indent, n)
		}
	}
}

// dumpInfo writes everything the machine at path reports about itself.
func dumpInfo(api bml.API, path string, w io.Writer) error {
	fmt.Fprintf(w, "%s\n", path)
	bmh := api.Open(path)
	if bmh.IsZero() {
		return fmt.Errorf("%s: cannot open machine", path)
	}
	defer api.Close(bmh)
	bm := api.New(bmh)
	if bm.IsZero() {
		return fmt.Errorf("%s: cannot create machine", path)
	}
	defer api.Free(bm)
	api.Init(bm, nil)

	str := func(key machine.Property) string { return api.GetMachineInfo(bmh, key).Str }
	num := func(key machine.Property) int { return api.GetMachineInfo(bmh, key).Int }

	fmt.Fprintf(w, "  Short Name: %q\n", str(machine.PropShortName))
	fmt.Fprintf(w, "  Name: %q\n", str(machine.PropName))
	fmt.Fprintf(w, "  Author: %q\n", str(machine.PropAuthor))
	fmt.Fprintf(w, "  Commands: %q\n", strings.ReplaceAll(str(machine.PropCommands), "\n", ","))
	fmt.Fprintf(w, "  Type: %d -> %q\n", num(machine.PropType), name(machineTypes, num(machine.PropType)))
	fmt.Fprintf(w, "  Version: %3.1f\n", float64(num(machine.PropVersion))/10)
	fmt.Fprintf(w, "  Flags: 0x%x\n", num(machine.PropFlags))
	printFlags(w, "    ", machineFlags, num(machine.PropFlags))
	tracks := num(machine.PropMinTracks)
	fmt.Fprintf(w, "  MinTracks: %d\n", tracks)
	fmt.Fprintf(w, "  MaxTracks: %d\n", num(machine.PropMaxTracks))
	fmt.Fprintf(w, "  InputChannels: %d\n", num(machine.PropNumInputChannels))
	fmt.Fprintf(w, "  OutputChannels: %d\n", num(machine.PropNumOutputChannels))

	globals := num(machine.PropNumGlobalParams)
	fmt.Fprintf(w, "  NumGlobalParams: %d\n", globals)
	for i := 0; i < globals; i++ {
		info := func(key machine.Parameter) machine.Value { return api.GetGlobalParameterInfo(bmh, i, key) }
		fmt.Fprintf(w, "    GlobalParam=%02d\n", i)
		dumpParameter(w, info)
		v := api.GetGlobalParameterValue(bm, i)
		fmt.Fprintf(w, "      RealValue: %d %s\n", v, api.DescribeGlobalValue(bmh, i, v))
	}

	trackParams := num(machine.PropNumTrackParams)
	fmt.Fprintf(w, "  NumTrackParams: %d\n", trackParams)
	if tracks > 0 {
		for i := 0; i < trackParams; i++ {
			info := func(key machine.Parameter) machine.Value { return api.GetTrackParameterInfo(bmh, i, key) }
			fmt.Fprintf(w, "    TrackParam=%02d\n", i)
			dumpParameter(w, info)
			v := api.GetTrackParameterValue(bm, 0, i)
			fmt.Fprintf(w, "      RealValue: %d %s\n", v, api.DescribeTrackValue(bmh, i, v))
		}
	}

	attrs := num(machine.PropNumAttributes)
	fmt.Fprintf(w, "  NumAttributes: %d\n", attrs)
	for i := 0; i < attrs; i++ {
		info := func(key machine.Attribute) machine.Value { return api.GetAttributeInfo(bmh, i, key) }
		fmt.Fprintf(w, "    Attribute=%02d\n", i)
		fmt.Fprintf(w, "      Name: %q\n", info(machine.AttrName).Str)
		fmt.Fprintf(w, "      Value: %d .. %d .. %d\n",
			info(machine.AttrMinValue).Int, info(machine.AttrDefValue).Int, info(machine.AttrMaxValue).Int)
		fmt.Fprintf(w, "      RealValue: %d\n", api.GetAttributeValue(bm, i))
	}
	return nil
}

func dumpParameter(w io.Writer, info func(machine.Parameter) machine.Value) {
	kind := info(machine.ParamType).Int
	fmt.Fprintf(w, "      Type: %d -> %q\n", kind, name(parameterTypes, kind))
	fmt.Fprintf(w, "      Name: %q\n", info(machine.ParamName).Str)
	fmt.Fprintf(w, "      Description: %q\n", info(machine.ParamDescription).Str)
	flags := info(machine.ParamFlags).Int
	fmt.Fprintf(w, "      Flags: 0x%x\n", flags)
	printFlags(w, "        ", parameterFlags, flags)
	fmt.Fprintf(w, "      Value: %d .. %d .. %d [%d]\n",
		info(machine.ParamMinValue).Int, info(machine.ParamDefValue).Int,
		info(machine.ParamMaxValue).Int, info(machine.ParamNoValue).Int)
}
