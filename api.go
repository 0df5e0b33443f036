// Package bml hosts Buzz machines either in process or in a sandboxed worker
// process. Both forms implement API, so a host can switch between them
// without code changes.
package bml

import (
	"github.com/machinefabric/bml-go/bmlipc"
	"github.com/machinefabric/bml-go/machine"
)

// Handle references a machine type (from Open) or a machine instance (from New).
type Handle = bmlipc.Handle

// API is the machine hosting interface. Calls never fail loudly: an
// operation that cannot complete returns 0, an empty value or "".
type API interface {
	SetMasterInfo(bpm, tpb, srate int)

	Open(path string) Handle
	Close(bmh Handle)
	GetMachineInfo(bmh Handle, key machine.Property) machine.Value
	GetGlobalParameterInfo(bmh Handle, index int, key machine.Parameter) machine.Value
	GetTrackParameterInfo(bmh Handle, index int, key machine.Parameter) machine.Value
	GetAttributeInfo(bmh Handle, index int, key machine.Attribute) machine.Value
	DescribeGlobalValue(bmh Handle, param, value int) string
	DescribeTrackValue(bmh Handle, param, value int) string

	New(bmh Handle) Handle
	Free(bm Handle)
	Init(bm Handle, blob []byte)
	GetTrackParameterValue(bm Handle, track, index int) int
	SetTrackParameterValue(bm Handle, track, index, value int)
	GetGlobalParameterValue(bm Handle, index int) int
	SetGlobalParameterValue(bm Handle, index, value int)
	GetAttributeValue(bm Handle, index int) int
	SetAttributeValue(bm Handle, index, value int)
	Tick(bm Handle)
	// Work processes samples in place.
	Work(bm Handle, samples []float32, mode machine.Mode) bool
	// WorkM2S reads mono input and writes interleaved stereo into out.
	WorkM2S(bm Handle, in, out []float32, mode machine.Mode) bool
	Stop(bm Handle)
	AttributesChanged(bm Handle)
	SetNumTracks(bm Handle, n int)
}

var (
	_ API = (*Native)(nil)
	_ API = (*Session)(nil)
)
