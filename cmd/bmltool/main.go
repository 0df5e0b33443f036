// Command bmltool inspects and runs Buzz machines through bml, either in a
// worker process (the default) or in process.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	bml "github.com/machinefabric/bml-go"
	"github.com/machinefabric/bml-go/logging"
	"github.com/machinefabric/bml-go/machine"
)

var (
	configPath = flag.String("config", "", "YAML or TOML session configuration file.")
	inProcess  = flag.Bool("inprocess", false, "run machines in this process instead of a worker.")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(infoCmd), "")
	subcommands.Register(new(processCmd), "")
	subcommands.Register(new(describeCmd), "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// backend is a machine API plus the function that releases it.
type backend struct {
	bml.API
	shutdown func() error
}

// openBackend creates one API instance per the global flags. Each call
// spawns its own worker unless -inprocess is set.
func openBackend() (*backend, error) {
	cfg := bml.DefaultConfig()
	if *configPath != "" {
		loaded, err := bml.LoadConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		cfg.ApplyEnv(os.Getenv)
	} else {
		loaded, err := bml.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if *inProcess {
		log := logging.New("bmltool", cfg.Debug)
		native := bml.NewNative(machine.NewMux(machine.NewBuiltinLoader(nil), nativeLoader()), logging.NewTracer(log, cfg.Debug))
		return &backend{API: native, shutdown: native.Shutdown}, nil
	}
	s, err := bml.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return &backend{API: s, shutdown: s.Shutdown}, nil
}

// nativeLoader returns the native loader when one can be opened.
func nativeLoader() machine.Loader {
	l, err := machine.OpenNative(os.Getenv(machine.EnvNativeLibrary))
	if err != nil {
		return nil
	}
	return l
}
