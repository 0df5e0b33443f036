package bmlhost

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	bml "github.com/machinefabric/bml-go"
	"github.com/machinefabric/bml-go/logging"
	"github.com/machinefabric/bml-go/machine"
)

// Exit codes returned by Main.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// NewLoader builds the worker's plugin machinery: builtin machines plus the
// native loader library. A library named by BML_NATIVE_LIB must load; the
// default library is optional and only logged when missing.
func NewLoader(log *zap.Logger, getenv func(string) string) (machine.Loader, error) {
	builtin := machine.NewBuiltinLoader(nil)
	path := getenv(machine.EnvNativeLibrary)
	native, err := machine.OpenNative(path)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("load native machines from %s: %w", path, err)
		}
		log.Debug("native machines unavailable", zap.Error(err))
		return machine.NewMux(builtin, nil), nil
	}
	return machine.NewMux(builtin, native), nil
}

// Main runs a worker for the socket path in args and returns the process
// exit code.
func Main(args []string, stderr io.Writer) int {
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintf(stderr, "usage: %s <socket-path>\n", filepath.Base(os.Args[0]))
		return ExitFailure
	}
	flags := logging.FlagsFromEnv()
	log := logging.New("bmlhost", flags)
	defer log.Sync()

	loader, err := NewLoader(log, os.Getenv)
	if err != nil {
		log.Error("failed to initialize machines", zap.Error(err))
		return ExitFailure
	}
	api := bml.NewNative(loader, logging.NewTracer(log, flags))

	srv, err := Listen(args[0], api, Options{Logger: log, Debug: flags})
	if err != nil {
		log.Error("failed to listen", zap.Error(err))
		_ = api.Shutdown()
		return ExitFailure
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	if err := srv.Accept(); err != nil {
		log.Error("failed to accept client", zap.Error(err))
		return ExitFailure
	}
	if err := srv.Serve(); err != nil {
		log.Error("connection lost", zap.Error(err))
		return ExitFailure
	}
	return ExitOK
}
