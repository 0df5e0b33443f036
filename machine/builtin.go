package machine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Interface is implemented by builtin machines.
type Interface interface {
	// Init is called once with the host view and the saved state, if any.
	Init(h *Host, blob []byte)
	Tick()
	Work(samples []float32, mode Mode) bool
	Stop()
	AttributesChanged()
	SetNumTracks(n int)
	// DescribeValue formats a value of the parameter at param, counting
	// globals first and then track parameters.
	DescribeValue(param, value int) (string, bool)
}

// MonoToStereo is implemented by builtin machines that set FlagMonoToStereo.
type MonoToStereo interface {
	WorkMonoToStereo(in, out []float32, mode Mode) bool
}

// Definition registers a builtin machine type.
type Definition struct {
	Info Info
	New  func() Interface
}

// Host is the parameter and timing state a builtin machine reads.
type Host struct {
	info      *Info
	master    *MasterInfo
	globals   []int
	tracks    [][]int
	attrs     []int
	numTracks int
}

func newHost(info *Info, master *MasterInfo) *Host {
	h := &Host{
		info:    info,
		master:  master,
		globals: make([]int, len(info.Globals)),
		attrs:   make([]int, len(info.Attributes)),
		tracks:  make([][]int, info.MaxTracks),
	}
	for t := range h.tracks {
		h.tracks[t] = make([]int, len(info.Tracks))
	}
	return h
}

// Master returns the current song timing.
func (h *Host) Master() MasterInfo { return *h.master }

// Info returns the machine description.
func (h *Host) Info() *Info { return h.info }

// Global returns a global parameter value, 0 when out of range.
func (h *Host) Global(index int) int {
	if index < 0 || index >= len(h.globals) {
		return 0
	}
	return h.globals[index]
}

// Track returns a track parameter value, 0 when out of range.
func (h *Host) Track(track, index int) int {
	if track < 0 || track >= len(h.tracks) || index < 0 || index >= len(h.tracks[track]) {
		return 0
	}
	return h.tracks[track][index]
}

// Attribute returns an attribute value, 0 when out of range.
func (h *Host) Attribute(index int) int {
	if index < 0 || index >= len(h.attrs) {
		return 0
	}
	return h.attrs[index]
}

// NumTracks returns the active track count.
func (h *Host) NumTracks() int { return h.numTracks }

// Registry maps builtin machine names to definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition under name.
func (r *Registry) Register(name string, def Definition) error {
	if name == "" || def.New == nil {
		return fmt.Errorf("machine: invalid builtin definition %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[name]; exists {
		return fmt.Errorf("machine: builtin %q already registered", name)
	}
	r.defs[name] = def
	return nil
}

// Lookup finds a definition by name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default registry with the stock machines, created on first use.
var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the registry holding the stock builtin machines.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		for name, def := range stockMachines() {
			_ = defaultRegistry.Register(name, def)
		}
	})
	return defaultRegistry
}

// ResetDefaultRegistry drops the default registry (for testing only)
func ResetDefaultRegistry() {
	defaultRegistry = nil
	defaultRegistryOnce = sync.Once{}
}

// BuiltinLoader serves "builtin:<name>" paths from a registry.
type BuiltinLoader struct {
	registry *Registry
	master   *MasterInfo
}

// NewBuiltinLoader creates a loader over registry; nil selects DefaultRegistry.
func NewBuiltinLoader(registry *Registry) *BuiltinLoader {
	if registry == nil {
		registry = DefaultRegistry()
	}
	master := DefaultMasterInfo()
	return &BuiltinLoader{registry: registry, master: &master}
}

func (l *BuiltinLoader) Name() string { return "builtin" }

func (l *BuiltinLoader) SetMasterInfo(info MasterInfo) { *l.master = info }

func (l *BuiltinLoader) Open(path string) (Library, error) {
	name := strings.TrimPrefix(path, BuiltinScheme)
	def, ok := l.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("open %q: %w", path, ErrNotFound)
	}
	lib := &builtinLibrary{def: def, dll: path, master: l.master}
	// a private instance answers DescribeValue
	lib.describer = def.New()
	lib.describer.Init(newHost(&lib.def.Info, l.master), nil)
	return lib, nil
}

func (l *BuiltinLoader) Close() error { return nil }

type builtinLibrary struct {
	def       Definition
	dll       string
	master    *MasterInfo
	describer Interface
}

func (b *builtinLibrary) MachineInfo(key Property) Value {
	return b.def.Info.Property(b.dll, key)
}

func (b *builtinLibrary) GlobalParameterInfo(index int, key Parameter) Value {
	return b.def.Info.GlobalParameter(index, key)
}

func (b *builtinLibrary) TrackParameterInfo(index int, key Parameter) Value {
	return b.def.Info.TrackParameter(index, key)
}

func (b *builtinLibrary) AttributeInfo(index int, key Attribute) Value {
	return b.def.Info.Attribute(index, key)
}

func (b *builtinLibrary) DescribeGlobalValue(param, value int) (string, bool) {
	if param < 0 || param >= len(b.def.Info.Globals) {
		return "", true
	}
	return b.describer.DescribeValue(param, value)
}

func (b *builtinLibrary) DescribeTrackValue(param, value int) (string, bool) {
	if param < 0 || param >= len(b.def.Info.Tracks) {
		return "", true
	}
	return b.describer.DescribeValue(len(b.def.Info.Globals)+param, value)
}

func (b *builtinLibrary) New() (Instance, error) {
	return &builtinInstance{
		info:  &b.def.Info,
		host:  newHost(&b.def.Info, b.master),
		iface: b.def.New(),
	}, nil
}

func (b *builtinLibrary) Close() error { return nil }

type builtinInstance struct {
	info  *Info
	host  *Host
	iface Interface
}

func (m *builtinInstance) Init(blob []byte) {
	for i, a := range m.info.Attributes {
		m.host.attrs[i] = a.Default
	}
	m.iface.Init(m.host, blob)
	m.iface.AttributesChanged()
	m.host.numTracks = m.info.MinTracks
	m.iface.SetNumTracks(m.info.MinTracks)

	for i, p := range m.info.Globals {
		m.host.globals[i] = p.Initial()
	}
	if m.info.MinTracks > 0 && m.info.MaxTracks > 0 {
		for t := range m.host.tracks {
			for i, p := range m.info.Tracks {
				m.host.tracks[t][i] = p.Initial()
			}
		}
	}
}

func (m *builtinInstance) GlobalParameterValue(index int) int {
	return m.host.Global(index)
}

func (m *builtinInstance) SetGlobalParameterValue(index, value int) {
	if index >= 0 && index < len(m.host.globals) {
		m.host.globals[index] = value
	}
}

func (m *builtinInstance) TrackParameterValue(track, index int) int {
	return m.host.Track(track, index)
}

func (m *builtinInstance) SetTrackParameterValue(track, index, value int) {
	if track >= 0 && track < len(m.host.tracks) && index >= 0 && index < len(m.host.tracks[track]) {
		m.host.tracks[track][index] = value
	}
}

func (m *builtinInstance) AttributeValue(index int) int {
	return m.host.Attribute(index)
}

func (m *builtinInstance) SetAttributeValue(index, value int) {
	if index >= 0 && index < len(m.host.attrs) {
		m.host.attrs[index] = value
	}
}

func (m *builtinInstance) Tick() { m.iface.Tick() }

func (m *builtinInstance) Work(samples []float32, mode Mode) bool {
	return m.iface.Work(samples, mode)
}

func (m *builtinInstance) WorkM2S(in, out []float32, mode Mode) bool {
	if m2s, ok := m.iface.(MonoToStereo); ok && m.info.Flags&FlagMonoToStereo != 0 {
		return m2s.WorkMonoToStereo(in, out, mode)
	}
	return false
}

func (m *builtinInstance) Stop() { m.iface.Stop() }

func (m *builtinInstance) AttributesChanged() { m.iface.AttributesChanged() }

func (m *builtinInstance) SetNumTracks(n int) {
	m.host.numTracks = n
	m.iface.SetNumTracks(n)
}

func (m *builtinInstance) Free() {}
