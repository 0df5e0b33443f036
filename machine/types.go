// Package machine is the boundary to the plugin machinery the worker hosts:
// the property keys a host can query, machine descriptions, and the loader
// interfaces implemented by the builtin and native backends.
package machine

import "fmt"

// Property is a machine-level info key.
type Property int

const (
	PropType Property = iota
	PropVersion
	PropFlags
	PropMinTracks
	PropMaxTracks
	PropNumGlobalParams
	PropNumTrackParams
	PropNumAttributes
	PropName
	PropShortName
	PropAuthor
	PropCommands
	PropDLLName
	PropNumInputChannels
	PropNumOutputChannels
)

var propertyNames = []string{
	"type", "version", "flags", "min-tracks", "max-tracks", "num-global-params",
	"num-track-params", "num-attributes", "name", "short-name", "author",
	"commands", "dll-name", "num-input-channels", "num-output-channels",
}

func (p Property) String() string {
	if p >= 0 && int(p) < len(propertyNames) {
		return propertyNames[p]
	}
	return fmt.Sprintf("property(%d)", int(p))
}

// IsString reports whether the property yields a string.
func (p Property) IsString() bool {
	switch p {
	case PropName, PropShortName, PropAuthor, PropCommands, PropDLLName:
		return true
	}
	return false
}

// Properties returns every machine-level key in wire order.
func Properties() []Property {
	out := make([]Property, len(propertyNames))
	for i := range out {
		out[i] = Property(i)
	}
	return out
}

// Parameter is a global or track parameter info key.
type Parameter int

const (
	ParamType Parameter = iota
	ParamName
	ParamDescription
	ParamMinValue
	ParamMaxValue
	ParamNoValue
	ParamFlags
	ParamDefValue
)

var parameterNames = []string{
	"type", "name", "description", "min-value", "max-value", "no-value", "flags", "def-value",
}

func (p Parameter) String() string {
	if p >= 0 && int(p) < len(parameterNames) {
		return parameterNames[p]
	}
	return fmt.Sprintf("parameter(%d)", int(p))
}

// IsString reports whether the key yields a string.
func (p Parameter) IsString() bool {
	return p == ParamName || p == ParamDescription
}

// Parameters returns every parameter key in wire order.
func Parameters() []Parameter {
	out := make([]Parameter, len(parameterNames))
	for i := range out {
		out[i] = Parameter(i)
	}
	return out
}

// Attribute is an attribute info key.
type Attribute int

const (
	AttrName Attribute = iota
	AttrMinValue
	AttrMaxValue
	AttrDefValue
)

var attributeNames = []string{"name", "min-value", "max-value", "def-value"}

func (a Attribute) String() string {
	if a >= 0 && int(a) < len(attributeNames) {
		return attributeNames[a]
	}
	return fmt.Sprintf("attribute(%d)", int(a))
}

// IsString reports whether the key yields a string.
func (a Attribute) IsString() bool { return a == AttrName }

// Attributes returns every attribute key in wire order.
func Attributes() []Attribute {
	out := make([]Attribute, len(attributeNames))
	for i := range out {
		out[i] = Attribute(i)
	}
	return out
}

// ValueKind tags an info result. The numeric values are part of the wire format.
type ValueKind int32

const (
	KindNone ValueKind = iota
	KindInt
	KindString
)

// Value is an info query result: nothing, an int or a string.
type Value struct {
	Kind ValueKind
	Int  int
	Str  string
}

// IntValue wraps an int result.
func IntValue(v int) Value { return Value{Kind: KindInt, Int: v} }

// StringValue wraps a string result.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// OK reports whether the value carries a result.
func (v Value) OK() bool { return v.Kind != KindNone }

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprint(v.Int)
	case KindString:
		return v.Str
	}
	return "<none>"
}

// Type is the machine role.
type Type int

const (
	TypeMaster Type = iota
	TypeGenerator
	TypeEffect
)

func (t Type) String() string {
	switch t {
	case TypeMaster:
		return "master"
	case TypeGenerator:
		return "generator"
	case TypeEffect:
		return "effect"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Machine flags.
const (
	FlagMonoToStereo     = 1 << 0
	FlagPlaysWaves       = 1 << 1
	FlagUsesLibInterface = 1 << 2
	FlagUsesInstruments  = 1 << 3
	FlagDoesInputMixing  = 1 << 4
	FlagNoOutput         = 1 << 5
	FlagControlMachine   = 1 << 6
	FlagInternalAux      = 1 << 7
)

// ParamKind is the parameter value type.
type ParamKind int

const (
	ParamKindNote ParamKind = iota
	ParamKindSwitch
	ParamKindByte
	ParamKindWord
)

// Parameter flags.
const (
	ParamFlagWave       = 1 << 0
	ParamFlagState      = 1 << 1
	ParamFlagTickOnEdit = 1 << 2
)

// Mode tells Work which directions of the sample buffer are valid.
type Mode int

const (
	ModeNoIO Mode = iota
	ModeRead
	ModeWrite
	ModeReadWrite
)

// Reads reports whether the input samples are valid.
func (m Mode) Reads() bool { return m&ModeRead != 0 }

// Writes reports whether the machine is expected to produce output.
func (m Mode) Writes() bool { return m&ModeWrite != 0 }

// InterfaceVersion is the machine interface version reported by builtin machines.
const InterfaceVersion = 15

// MaxBufferLength is the largest block in samples a machine is asked to process.
const MaxBufferLength = 256

// MasterInfo is the song timing shared with every machine.
type MasterInfo struct {
	BeatsPerMinute   int
	TicksPerBeat     int
	SamplesPerSecond int
}

// SamplesPerTick derives the tick length from the timing.
func (m MasterInfo) SamplesPerTick() int {
	if m.BeatsPerMinute <= 0 || m.TicksPerBeat <= 0 {
		return 0
	}
	return m.SamplesPerSecond * 60 / (m.BeatsPerMinute * m.TicksPerBeat)
}

// DefaultMasterInfo is the timing used until a host sets one.
func DefaultMasterInfo() MasterInfo {
	return MasterInfo{BeatsPerMinute: 125, TicksPerBeat: 4, SamplesPerSecond: 44100}
}
