package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/google/subcommands"
)

// describeCmd implements subcommands.Command for the "describe" command.
type describeCmd struct {
	track bool
}

// Name implements subcommands.Command.Name.
func (*describeCmd) Name() string { return "describe" }

// Synopsis implements subcommands.Command.Synopsis.
func (*describeCmd) Synopsis() string { return "print the display text of a parameter value" }

// Usage implements subcommands.Command.Usage.
func (*describeCmd) Usage() string {
	return `describe [-track] <machine> <param> <value>
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *describeCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.track, "track", false, "describe a track parameter instead of a global one.")
}

// Execute implements subcommands.Command.Execute.
func (c *describeCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 3 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	param, err := strconv.Atoi(f.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "describe: bad parameter index: %v\n", err)
		return subcommands.ExitUsageError
	}
	value, err := strconv.ParseInt(f.Arg(2), 0, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "describe: bad value: %v\n", err)
		return subcommands.ExitUsageError
	}

	b, err := openBackend()
	if err != nil {
		fmt.Fprintf(os.Stderr, "describe: %v\n", err)
		return subcommands.ExitFailure
	}
	defer b.shutdown()

	bmh := b.Open(f.Arg(0))
	if bmh.IsZero() {
		fmt.Fprintf(os.Stderr, "describe: cannot open %s\n", f.Arg(0))
		return subcommands.ExitFailure
	}
	defer b.Close(bmh)

	var text string
	if c.track {
		text = b.DescribeTrackValue(bmh, param, int(value))
	} else {
		text = b.DescribeGlobalValue(bmh, param, int(value))
	}
	fmt.Println(text)
	return subcommands.ExitSuccess
}
