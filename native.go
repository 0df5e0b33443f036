package bml

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/machinefabric/bml-go/bmlipc"
	"github.com/machinefabric/bml-go/logging"
	"github.com/machinefabric/bml-go/machine"
)

type machineType struct {
	path string
	lib  machine.Library
}

type machineInstance struct {
	owner Handle
	inst  machine.Instance
}

// Native runs machines in the calling process. It is the backend of the
// worker and can be used directly by hosts that do not need isolation. It is
// not safe for concurrent use.
type Native struct {
	loader    machine.Loader
	trace     *logging.Tracer
	types     *handleTable[*machineType]
	instances *handleTable[*machineInstance]
}

// NewNative creates an in-process backend over loader.
func NewNative(loader machine.Loader, trace *logging.Tracer) *Native {
	if trace == nil {
		trace = logging.NewTracer(nil, 0)
	}
	return &Native{
		loader:    loader,
		trace:     trace,
		types:     newHandleTable[*machineType](bmlipc.KindType),
		instances: newHandleTable[*machineInstance](bmlipc.KindInstance),
	}
}

// SeedGenerations sets the generation that newly allocated handle slots
// start at. A worker seeds it from its id so that handles issued by a
// previous worker do not resolve against its own machines. It must be
// called before the first Open.
func (n *Native) SeedGenerations(seed uint16) {
	n.types.setBase(seed)
	n.instances.setBase(seed)
}

// Loader returns the backing loader.
func (n *Native) Loader() machine.Loader { return n.loader }

// Stats returns the number of open types and live instances.
func (n *Native) Stats() (types, instances int) {
	return n.types.len(), n.instances.len()
}

func (n *Native) typeOf(op string, bmh Handle) (*machineType, bool) {
	t, ok := n.types.get(bmh)
	if !ok {
		n.trace.Logger().Warn("stale or unknown machine type handle", zap.String("op", op), zap.Stringer("handle", bmh))
	}
	return t, ok
}

func (n *Native) instanceOf(op string, bm Handle) (machine.Instance, bool) {
	m, ok := n.instances.get(bm)
	if !ok {
		n.trace.Logger().Warn("stale or unknown machine handle", zap.String("op", op), zap.Stringer("handle", bm))
		return nil, false
	}
	return m.inst, true
}

func (n *Native) SetMasterInfo(bpm, tpb, srate int) {
	n.trace.LoaderTrace("set master info", zap.Int("bpm", bpm), zap.Int("tpb", tpb), zap.Int("srate", srate))
	n.loader.SetMasterInfo(machine.MasterInfo{BeatsPerMinute: bpm, TicksPerBeat: tpb, SamplesPerSecond: srate})
}

func (n *Native) Open(path string) Handle {
	lib, err := n.loader.Open(path)
	if err != nil {
		n.trace.Logger().Warn("failed to open machine", zap.String("path", path), zap.Error(err))
		return 0
	}
	h, ok := n.types.insert(&machineType{path: path, lib: lib})
	if !ok {
		n.trace.Logger().Error("machine type table is full", zap.String("path", path))
		_ = lib.Close()
		return 0
	}
	n.trace.LoaderTrace("opened machine", zap.String("path", path), zap.Stringer("handle", h))
	return h
}

// Close releases a machine type and frees any instances still created from it.
func (n *Native) Close(bmh Handle) {
	t, ok := n.types.remove(bmh)
	if !ok {
		n.trace.Logger().Warn("stale or unknown machine type handle", zap.String("op", "close"), zap.Stringer("handle", bmh))
		return
	}
	var orphans []Handle
	n.instances.each(func(h Handle, m *machineInstance) {
		if m.owner == bmh {
			orphans = append(orphans, h)
		}
	})
	for _, h := range orphans {
		n.Free(h)
	}
	if err := t.lib.Close(); err != nil {
		n.trace.Logger().Warn("failed to close machine", zap.String("path", t.path), zap.Error(err))
	}
	n.trace.LoaderTrace("closed machine", zap.String("path", t.path), zap.Int("orphans", len(orphans)))
}

func (n *Native) GetMachineInfo(bmh Handle, key machine.Property) machine.Value {
	t, ok := n.typeOf("get machine info", bmh)
	if !ok {
		return machine.Value{}
	}
	return t.lib.MachineInfo(key)
}

func (n *Native) GetGlobalParameterInfo(bmh Handle, index int, key machine.Parameter) machine.Value {
	t, ok := n.typeOf("get global parameter info", bmh)
	if !ok {
		return machine.Value{}
	}
	return t.lib.GlobalParameterInfo(index, key)
}

func (n *Native) GetTrackParameterInfo(bmh Handle, index int, key machine.Parameter) machine.Value {
	t, ok := n.typeOf("get track parameter info", bmh)
	if !ok {
		return machine.Value{}
	}
	return t.lib.TrackParameterInfo(index, key)
}

func (n *Native) GetAttributeInfo(bmh Handle, index int, key machine.Attribute) machine.Value {
	t, ok := n.typeOf("get attribute info", bmh)
	if !ok {
		return machine.Value{}
	}
	return t.lib.AttributeInfo(index, key)
}

// DescribeGlobal returns the display text for a global parameter value and
// whether the machine produced one.
func (n *Native) DescribeGlobal(bmh Handle, param, value int) (string, bool) {
	t, ok := n.typeOf("describe global value", bmh)
	if !ok {
		return "", false
	}
	return t.lib.DescribeGlobalValue(param, value)
}

// DescribeTrack returns the display text for a track parameter value and
// whether the machine produced one.
func (n *Native) DescribeTrack(bmh Handle, param, value int) (string, bool) {
	t, ok := n.typeOf("describe track value", bmh)
	if !ok {
		return "", false
	}
	return t.lib.DescribeTrackValue(param, value)
}

func (n *Native) DescribeGlobalValue(bmh Handle, param, value int) string {
	s, _ := n.DescribeGlobal(bmh, param, value)
	return s
}

func (n *Native) DescribeTrackValue(bmh Handle, param, value int) string {
	s, _ := n.DescribeTrack(bmh, param, value)
	return s
}

func (n *Native) New(bmh Handle) Handle {
	t, ok := n.typeOf("new", bmh)
	if !ok {
		return 0
	}
	inst, err := t.lib.New()
	if err != nil {
		n.trace.Logger().Warn("failed to create machine", zap.String("path", t.path), zap.Error(err))
		return 0
	}
	h, ok := n.instances.insert(&machineInstance{owner: bmh, inst: inst})
	if !ok {
		n.trace.Logger().Error("machine instance table is full", zap.String("path", t.path))
		inst.Free()
		return 0
	}
	n.trace.LoaderTrace("created machine", zap.String("path", t.path), zap.Stringer("handle", h))
	return h
}

func (n *Native) Free(bm Handle) {
	m, ok := n.instances.remove(bm)
	if !ok {
		n.trace.Logger().Warn("stale or unknown machine handle", zap.String("op", "free"), zap.Stringer("handle", bm))
		return
	}
	m.inst.Free()
}

func (n *Native) Init(bm Handle, blob []byte) {
	if m, ok := n.instanceOf("init", bm); ok {
		m.Init(blob)
	}
}

func (n *Native) GetTrackParameterValue(bm Handle, track, index int) int {
	if m, ok := n.instanceOf("get track parameter value", bm); ok {
		return m.TrackParameterValue(track, index)
	}
	return 0
}

func (n *Native) SetTrackParameterValue(bm Handle, track, index, value int) {
	if m, ok := n.instanceOf("set track parameter value", bm); ok {
		m.SetTrackParameterValue(track, index, value)
	}
}

func (n *Native) GetGlobalParameterValue(bm Handle, index int) int {
	if m, ok := n.instanceOf("get global parameter value", bm); ok {
		return m.GlobalParameterValue(index)
	}
	return 0
}

func (n *Native) SetGlobalParameterValue(bm Handle, index, value int) {
	if m, ok := n.instanceOf("set global parameter value", bm); ok {
		m.SetGlobalParameterValue(index, value)
	}
}

func (n *Native) GetAttributeValue(bm Handle, index int) int {
	if m, ok := n.instanceOf("get attribute value", bm); ok {
		return m.AttributeValue(index)
	}
	return 0
}

func (n *Native) SetAttributeValue(bm Handle, index, value int) {
	if m, ok := n.instanceOf("set attribute value", bm); ok {
		m.SetAttributeValue(index, value)
	}
}

func (n *Native) Tick(bm Handle) {
	if m, ok := n.instanceOf("tick", bm); ok {
		m.Tick()
	}
}

func (n *Native) Work(bm Handle, samples []float32, mode machine.Mode) bool {
	if m, ok := n.instanceOf("work", bm); ok {
		return m.Work(samples, mode)
	}
	return false
}

func (n *Native) WorkM2S(bm Handle, in, out []float32, mode machine.Mode) bool {
	if m, ok := n.instanceOf("work m2s", bm); ok {
		return m.WorkM2S(in, out, mode)
	}
	return false
}

func (n *Native) Stop(bm Handle) {
	if m, ok := n.instanceOf("stop", bm); ok {
		m.Stop()
	}
}

func (n *Native) AttributesChanged(bm Handle) {
	if m, ok := n.instanceOf("attributes changed", bm); ok {
		m.AttributesChanged()
	}
}

func (n *Native) SetNumTracks(bm Handle, count int) {
	if m, ok := n.instanceOf("set num tracks", bm); ok {
		m.SetNumTracks(count)
	}
}

// Shutdown frees every instance, closes every type and releases the loader.
func (n *Native) Shutdown() error {
	var instances, types []Handle
	n.instances.each(func(h Handle, _ *machineInstance) { instances = append(instances, h) })
	for _, h := range instances {
		n.Free(h)
	}
	var err error
	n.types.each(func(h Handle, _ *machineType) { types = append(types, h) })
	for _, h := range types {
		if t, ok := n.types.remove(h); ok {
			err = multierr.Append(err, t.lib.Close())
		}
	}
	return multierr.Append(err, n.loader.Close())
}
