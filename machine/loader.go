package machine

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

var (
	// ErrNotFound is returned when no module exists under a path.
	ErrNotFound = errors.New("machine: module not found")
	// ErrNativeUnavailable is returned when native modules cannot be loaded in this build.
	ErrNativeUnavailable = errors.New("machine: native loader unavailable")
)

// Loader opens machine modules. Implementations are used from one goroutine.
type Loader interface {
	// Name identifies the backend in logs and the worker hello.
	Name() string
	// SetMasterInfo updates the timing seen by every machine.
	SetMasterInfo(info MasterInfo)
	// Open loads the module at path.
	Open(path string) (Library, error)
	// Close releases the backend.
	Close() error
}

// Library is an opened machine module: a machine type.
type Library interface {
	MachineInfo(key Property) Value
	GlobalParameterInfo(index int, key Parameter) Value
	TrackParameterInfo(index int, key Parameter) Value
	AttributeInfo(index int, key Attribute) Value
	// DescribeGlobalValue returns the display text for a global parameter value.
	DescribeGlobalValue(param, value int) (string, bool)
	// DescribeTrackValue returns the display text for a track parameter value.
	DescribeTrackValue(param, value int) (string, bool)
	// New creates an uninitialized instance.
	New() (Instance, error)
	Close() error
}

// Instance is one live machine. Out-of-range indexes read as 0 and writes to
// them are ignored.
type Instance interface {
	Init(blob []byte)
	GlobalParameterValue(index int) int
	SetGlobalParameterValue(index, value int)
	TrackParameterValue(track, index int) int
	SetTrackParameterValue(track, index, value int)
	AttributeValue(index int) int
	SetAttributeValue(index, value int)
	Tick()
	// Work processes samples in place and reports whether output was produced.
	Work(samples []float32, mode Mode) bool
	// WorkM2S reads mono input and writes interleaved stereo to out, which
	// holds twice as many samples.
	WorkM2S(in, out []float32, mode Mode) bool
	Stop()
	AttributesChanged()
	SetNumTracks(n int)
	Free()
}

// EnvNativeLibrary names the native loader library to open instead of
// DefaultNativeLibrary.
const EnvNativeLibrary = "BML_NATIVE_LIB"

// BuiltinScheme prefixes paths served by the builtin registry.
const BuiltinScheme = "builtin:"

// Mux routes builtin paths to one loader and everything else to another.
type Mux struct {
	Builtin Loader
	Native  Loader
}

// NewMux creates a mux. Native may be nil when only builtin machines are served.
func NewMux(builtin, native Loader) *Mux {
	return &Mux{Builtin: builtin, Native: native}
}

func (m *Mux) Name() string {
	if m.Native == nil {
		return m.Builtin.Name()
	}
	return m.Builtin.Name() + "+" + m.Native.Name()
}

func (m *Mux) SetMasterInfo(info MasterInfo) {
	m.Builtin.SetMasterInfo(info)
	if m.Native != nil {
		m.Native.SetMasterInfo(info)
	}
}

func (m *Mux) Open(path string) (Library, error) {
	if strings.HasPrefix(path, BuiltinScheme) {
		return m.Builtin.Open(path)
	}
	if m.Native == nil {
		return nil, fmt.Errorf("open %q: %w", path, ErrNativeUnavailable)
	}
	return m.Native.Open(path)
}

func (m *Mux) Close() error {
	err := m.Builtin.Close()
	if m.Native != nil {
		err = multierr.Append(err, m.Native.Close())
	}
	return err
}
