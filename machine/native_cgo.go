//go:build cgo && linux

package machine

/*
#cgo LDFLAGS: -ldl

#include <stdlib.h>
#include <dlfcn.h>

typedef void (*bm_set_master_info_func)(long bpm, long tpb, long srat);
typedef void *(*bm_open_func)(char *file_name);
typedef void (*bm_close_func)(void *bmh);
typedef int (*bm_get_machine_info_func)(void *bmh, int key, void *value);
typedef int (*bm_get_indexed_info_func)(void *bmh, int index, int key, void *value);
typedef const char *(*bm_describe_func)(void *bmh, int param, int value);
typedef void *(*bm_new_func)(void *bmh);
typedef void (*bm_instance_func)(void *bm);
typedef void (*bm_init_func)(void *bm, unsigned long blob_size, unsigned char *blob_data);
typedef int (*bm_get_track_value_func)(void *bm, int track, int index);
typedef void (*bm_set_track_value_func)(void *bm, int track, int index, int value);
typedef int (*bm_get_value_func)(void *bm, int index);
typedef void (*bm_set_value_func)(void *bm, int index, int value);
typedef int (*bm_work_func)(void *bm, float *samples, int num, int mode);
typedef int (*bm_work_m2s_func)(void *bm, float *in, float *out, int num, int mode);
typedef void (*bm_set_num_tracks_func)(void *bm, int num);

static void call_set_master_info(void *fn, long bpm, long tpb, long srat) {
    ((bm_set_master_info_func)fn)(bpm, tpb, srat);
}
static void *call_open(void *fn, char *name) { return ((bm_open_func)fn)(name); }
static void call_close(void *fn, void *bmh) { ((bm_close_func)fn)(bmh); }
static int call_machine_info_int(void *fn, void *bmh, int key, int *out) {
    return ((bm_get_machine_info_func)fn)(bmh, key, out);
}
static int call_machine_info_str(void *fn, void *bmh, int key, const char **out) {
    return ((bm_get_machine_info_func)fn)(bmh, key, out);
}
static int call_indexed_info_int(void *fn, void *bmh, int index, int key, int *out) {
    return ((bm_get_indexed_info_func)fn)(bmh, index, key, out);
}
static int call_indexed_info_str(void *fn, void *bmh, int index, int key, const char **out) {
    return ((bm_get_indexed_info_func)fn)(bmh, index, key, out);
}
static const char *call_describe(void *fn, void *bmh, int param, int value) {
    return ((bm_describe_func)fn)(bmh, param, value);
}
static void *call_new(void *fn, void *bmh) { return ((bm_new_func)fn)(bmh); }
static void call_instance(void *fn, void *bm) { ((bm_instance_func)fn)(bm); }
static void call_init(void *fn, void *bm, unsigned long size, unsigned char *data) {
    ((bm_init_func)fn)(bm, size, data);
}
static int call_get_track_value(void *fn, void *bm, int track, int index) {
    return ((bm_get_track_value_func)fn)(bm, track, index);
}
static void call_set_track_value(void *fn, void *bm, int track, int index, int value) {
    ((bm_set_track_value_func)fn)(bm, track, index, value);
}
static int call_get_value(void *fn, void *bm, int index) { return ((bm_get_value_func)fn)(bm, index); }
static void call_set_value(void *fn, void *bm, int index, int value) {
    ((bm_set_value_func)fn)(bm, index, value);
}
static int call_work(void *fn, void *bm, float *samples, int num, int mode) {
    return ((bm_work_func)fn)(bm, samples, num, mode);
}
static int call_work_m2s(void *fn, void *bm, float *in, float *out, int num, int mode) {
    return ((bm_work_m2s_func)fn)(bm, in, out, num, mode);
}
static void call_set_num_tracks(void *fn, void *bm, int num) {
    ((bm_set_num_tracks_func)fn)(bm, num);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// DefaultNativeLibrary is the loader library opened when no path is configured.
const DefaultNativeLibrary = "libbuzzmachineloader.so"

type nativeSyms struct {
	setMasterInfo       unsafe.Pointer
	open                unsafe.Pointer
	close               unsafe.Pointer
	machineInfo         unsafe.Pointer
	globalParameterInfo unsafe.Pointer
	trackParameterInfo  unsafe.Pointer
	attributeInfo       unsafe.Pointer
	describeGlobalValue unsafe.Pointer
	describeTrackValue  unsafe.Pointer
	new                 unsafe.Pointer
	free                unsafe.Pointer
	init                unsafe.Pointer
	getTrackValue       unsafe.Pointer
	setTrackValue       unsafe.Pointer
	getGlobalValue      unsafe.Pointer
	setGlobalValue      unsafe.Pointer
	getAttributeValue   unsafe.Pointer
	setAttributeValue   unsafe.Pointer
	tick                unsafe.Pointer
	work                unsafe.Pointer
	workM2S             unsafe.Pointer
	stop                unsafe.Pointer
	attributesChanged   unsafe.Pointer
	setNumTracks        unsafe.Pointer
}

// NativeLoader loads Buzz machine modules through the native loader library.
type NativeLoader struct {
	lib  unsafe.Pointer
	syms nativeSyms
}

// OpenNative dlopens the loader library and resolves its entry points. An
// empty path selects DefaultNativeLibrary.
func OpenNative(path string) (*NativeLoader, error) {
	if path == "" {
		path = DefaultNativeLibrary
	}
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	lib := C.dlopen(cPath, C.RTLD_LAZY)
	if lib == nil {
		return nil, fmt.Errorf("dlopen %s: %s", path, C.GoString(C.dlerror()))
	}

	l := &NativeLoader{lib: lib}
	s := &l.syms
	for _, sym := range []struct {
		name string
		dst  *unsafe.Pointer
	}{
		{"bm_set_master_info", &s.setMasterInfo},
		{"bm_open", &s.open},
		{"bm_close", &s.close},
		{"bm_get_machine_info", &s.machineInfo},
		{"bm_get_global_parameter_info", &s.globalParameterInfo},
		{"bm_get_track_parameter_info", &s.trackParameterInfo},
		{"bm_get_attribute_info", &s.attributeInfo},
		{"bm_describe_global_value", &s.describeGlobalValue},
		{"bm_describe_track_value", &s.describeTrackValue},
		{"bm_new", &s.new},
		{"bm_free", &s.free},
		{"bm_init", &s.init},
		{"bm_get_track_parameter_value", &s.getTrackValue},
		{"bm_set_track_parameter_value", &s.setTrackValue},
		{"bm_get_global_parameter_value", &s.getGlobalValue},
		{"bm_set_global_parameter_value", &s.setGlobalValue},
		{"bm_get_attribute_value", &s.getAttributeValue},
		{"bm_set_attribute_value", &s.setAttributeValue},
		{"bm_tick", &s.tick},
		{"bm_work", &s.work},
		{"bm_work_m2s", &s.workM2S},
		{"bm_stop", &s.stop},
		{"bm_attributes_changed", &s.attributesChanged},
		{"bm_set_num_tracks", &s.setNumTracks},
	} {
		cName := C.CString(sym.name)
		ptr := C.dlsym(lib, cName)
		C.free(unsafe.Pointer(cName))
		if ptr == nil {
			C.dlclose(lib)
			return nil, fmt.Errorf("%s: symbol not found: %s", path, sym.name)
		}
		*sym.dst = ptr
	}
	return l, nil
}

func (l *NativeLoader) Name() string { return "native" }

func (l *NativeLoader) SetMasterInfo(info MasterInfo) {
	C.call_set_master_info(l.syms.setMasterInfo, C.long(info.BeatsPerMinute), C.long(info.TicksPerBeat), C.long(info.SamplesPerSecond))
}

func (l *NativeLoader) Open(path string) (Library, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	bmh := C.call_open(l.syms.open, cPath)
	if bmh == nil {
		return nil, fmt.Errorf("open %q: %w", path, ErrNotFound)
	}
	return &nativeLibrary{syms: &l.syms, bmh: bmh}, nil
}

func (l *NativeLoader) Close() error {
	if l.lib != nil {
		C.dlclose(l.lib)
		l.lib = nil
	}
	return nil
}

type nativeLibrary struct {
	syms *nativeSyms
	bmh  unsafe.Pointer
}

func (n *nativeLibrary) MachineInfo(key Property) Value {
	if key.IsString() {
		var s *C.char
		if C.call_machine_info_str(n.syms.machineInfo, n.bmh, C.int(key), &s) == 0 || s == nil {
			return Value{}
		}
		return StringValue(C.GoString(s))
	}
	var v C.int
	if C.call_machine_info_int(n.syms.machineInfo, n.bmh, C.int(key), &v) == 0 {
		return Value{}
	}
	return IntValue(int(v))
}

func (n *nativeLibrary) indexedInfo(fn unsafe.Pointer, index, key int, isString bool) Value {
	if isString {
		var s *C.char
		if C.call_indexed_info_str(fn, n.bmh, C.int(index), C.int(key), &s) == 0 || s == nil {
			return Value{}
		}
		return StringValue(C.GoString(s))
	}
	var v C.int
	if C.call_indexed_info_int(fn, n.bmh, C.int(index), C.int(key), &v) == 0 {
		return Value{}
	}
	return IntValue(int(v))
}

func (n *nativeLibrary) GlobalParameterInfo(index int, key Parameter) Value {
	return n.indexedInfo(n.syms.globalParameterInfo, index, int(key), key.IsString())
}

func (n *nativeLibrary) TrackParameterInfo(index int, key Parameter) Value {
	return n.indexedInfo(n.syms.trackParameterInfo, index, int(key), key.IsString())
}

func (n *nativeLibrary) AttributeInfo(index int, key Attribute) Value {
	return n.indexedInfo(n.syms.attributeInfo, index, int(key), key.IsString())
}

func (n *nativeLibrary) describe(fn unsafe.Pointer, param, value int) (string, bool) {
	s := C.call_describe(fn, n.bmh, C.int(param), C.int(value))
	if s == nil {
		return "", false
	}
	return C.GoString(s), true
}

func (n *nativeLibrary) DescribeGlobalValue(param, value int) (string, bool) {
	return n.describe(n.syms.describeGlobalValue, param, value)
}

func (n *nativeLibrary) DescribeTrackValue(param, value int) (string, bool) {
	return n.describe(n.syms.describeTrackValue, param, value)
}

func (n *nativeLibrary) New() (Instance, error) {
	bm := C.call_new(n.syms.new, n.bmh)
	if bm == nil {
		return nil, fmt.Errorf("machine: native instance creation failed")
	}
	return &nativeInstance{syms: n.syms, bm: bm}, nil
}

func (n *nativeLibrary) Close() error {
	C.call_close(n.syms.close, n.bmh)
	return nil
}

type nativeInstance struct {
	syms *nativeSyms
	bm   unsafe.Pointer
}

func (m *nativeInstance) Init(blob []byte) {
	if len(blob) == 0 {
		C.call_init(m.syms.init, m.bm, 0, nil)
		return
	}
	data := C.CBytes(blob)
	defer C.free(data)
	C.call_init(m.syms.init, m.bm, C.ulong(len(blob)), (*C.uchar)(data))
}

func (m *nativeInstance) GlobalParameterValue(index int) int {
	return int(C.call_get_value(m.syms.getGlobalValue, m.bm, C.int(index)))
}

func (m *nativeInstance) SetGlobalParameterValue(index, value int) {
	C.call_set_value(m.syms.setGlobalValue, m.bm, C.int(index), C.int(value))
}

func (m *nativeInstance) TrackParameterValue(track, index int) int {
	return int(C.call_get_track_value(m.syms.getTrackValue, m.bm, C.int(track), C.int(index)))
}

func (m *nativeInstance) SetTrackParameterValue(track, index, value int) {
	C.call_set_track_value(m.syms.setTrackValue, m.bm, C.int(track), C.int(index), C.int(value))
}

func (m *nativeInstance) AttributeValue(index int) int {
	return int(C.call_get_value(m.syms.getAttributeValue, m.bm, C.int(index)))
}

func (m *nativeInstance) SetAttributeValue(index, value int) {
	C.call_set_value(m.syms.setAttributeValue, m.bm, C.int(index), C.int(value))
}

func (m *nativeInstance) Tick() { C.call_instance(m.syms.tick, m.bm) }

func (m *nativeInstance) Work(samples []float32, mode Mode) bool {
	if len(samples) == 0 {
		return false
	}
	return C.call_work(m.syms.work, m.bm, (*C.float)(unsafe.Pointer(&samples[0])), C.int(len(samples)), C.int(mode)) != 0
}

func (m *nativeInstance) WorkM2S(in, out []float32, mode Mode) bool {
	if len(in) == 0 || len(out) < 2*len(in) {
		return false
	}
	return C.call_work_m2s(m.syms.workM2S, m.bm,
		(*C.float)(unsafe.Pointer(&in[0])), (*C.float)(unsafe.Pointer(&out[0])),
		C.int(len(in)), C.int(mode)) != 0
}

func (m *nativeInstance) Stop() { C.call_instance(m.syms.stop, m.bm) }

func (m *nativeInstance) AttributesChanged() { C.call_instance(m.syms.attributesChanged, m.bm) }

func (m *nativeInstance) SetNumTracks(n int) {
	C.call_set_num_tracks(m.syms.setNumTracks, m.bm, C.int(n))
}

func (m *nativeInstance) Free() { C.call_instance(m.syms.free, m.bm) }
