package bmlipc

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/machinefabric/bml-go/machine"
	"github.com/machinefabric/bml-go/strpool"
)

// Message is a typed message body. Encode appends the body fields to b and
// Decode consumes them; decoding failures are left on the buffer's sticky
// error for the caller to check.
type Message interface {
	Encode(b *Buffer)
	Decode(b *Buffer, pool *strpool.Pool)
}

// Request is a message preceded on the wire by its command id.
type Request interface {
	Message
	Command() Command
}

// EncodeRequest clears b and writes the command id followed by the request body.
func EncodeRequest(b *Buffer, req Request) error {
	b.Clear()
	b.WriteInt(int32(req.Command()))
	req.Encode(b)
	return b.Err()
}

// EncodeReply clears b and writes the reply body.
func EncodeReply(b *Buffer, reply Message) error {
	b.Clear()
	reply.Encode(b)
	return b.Err()
}

// NewRequest returns an empty request value for cmd, ready to Decode, and
// the empty reply value the worker answers it with. It returns false for
// unknown ids and for quit, which carries no body and gets no reply.
func NewRequest(cmd Command) (Request, Message, bool) {
	switch cmd {
	case CommandSetMasterInfo:
		return &MasterInfoRequest{}, &StatusReply{}, true
	case CommandOpen:
		return &OpenRequest{}, &StatusReply{}, true
	case CommandClose, CommandNew, CommandFree, CommandTick, CommandStop, CommandAttributesChanged:
		return &HandleRequest{Cmd: cmd}, &StatusReply{}, true
	case CommandGetMachineInfo:
		return &MachineInfoRequest{}, &InfoReply{}, true
	case CommandGetGlobalParameterInfo, CommandGetTrackParameterInfo, CommandGetAttributeInfo:
		return &InfoRequest{Cmd: cmd}, &InfoReply{}, true
	case CommandDescribeGlobalValue, CommandDescribeTrackValue:
		return &DescribeRequest{Cmd: cmd}, &DescribeReply{}, true
	case CommandInit:
		return &InitRequest{}, &StatusReply{}, true
	case CommandGetTrackParameterValue:
		return &TrackValueRequest{}, &StatusReply{}, true
	case CommandSetTrackParameterValue:
		return &SetTrackValueRequest{}, &StatusReply{}, true
	case CommandGetGlobalParameterValue, CommandGetAttributeValue, CommandSetNumTracks:
		return &IndexRequest{Cmd: cmd}, &StatusReply{}, true
	case CommandSetGlobalParameterValue, CommandSetAttributeValue:
		return &SetValueRequest{Cmd: cmd}, &StatusReply{}, true
	case CommandWork, CommandWorkM2S:
		return &WorkRequest{Cmd: cmd}, &WorkReply{}, true
	}
	return nil, nil, false
}

// MasterInfoRequest carries the song timing shared by all machines.
type MasterInfoRequest struct {
	Info machine.MasterInfo
}

func (r *MasterInfoRequest) Command() Command { return CommandSetMasterInfo }

func (r *MasterInfoRequest) Encode(b *Buffer) {
	b.WriteInt(int32(r.Info.BeatsPerMinute))
	b.WriteInt(int32(r.Info.TicksPerBeat))
	b.WriteInt(int32(r.Info.SamplesPerSecond))
}

func (r *MasterInfoRequest) Decode(b *Buffer, _ *strpool.Pool) {
	r.Info.BeatsPerMinute = int(b.ReadInt())
	r.Info.TicksPerBeat = int(b.ReadInt())
	r.Info.SamplesPerSecond = int(b.ReadInt())
}

// OpenRequest asks the worker to load a machine module.
type OpenRequest struct {
	Path string
}

func (r *OpenRequest) Command() Command { return CommandOpen }

func (r *OpenRequest) Encode(b *Buffer) { b.WriteString(r.Path) }

func (r *OpenRequest) Decode(b *Buffer, pool *strpool.Pool) { r.Path = pool.Intern(b.ReadString()) }

// HandleRequest is a request whose only argument is a handle.
type HandleRequest struct {
	Cmd    Command
	Handle Handle
}

func (r *HandleRequest) Command() Command { return r.Cmd }

func (r *HandleRequest) Encode(b *Buffer) { b.WriteInt(int32(r.Handle)) }

func (r *HandleRequest) Decode(b *Buffer, _ *strpool.Pool) { r.Handle = Handle(b.ReadInt()) }

// MachineInfoRequest queries one machine-level property.
type MachineInfoRequest struct {
	Handle Handle
	Key    machine.Property
}

func (r *MachineInfoRequest) Command() Command { return CommandGetMachineInfo }

func (r *MachineInfoRequest) Encode(b *Buffer) {
	b.WriteInt(int32(r.Handle))
	b.WriteInt(int32(r.Key))
}

func (r *MachineInfoRequest) Decode(b *Buffer, _ *strpool.Pool) {
	r.Handle = Handle(b.ReadInt())
	r.Key = machine.Property(b.ReadInt())
}

// InfoRequest queries one key of an indexed parameter or attribute. Key holds
// a machine.Parameter or machine.Attribute value depending on Cmd.
type InfoRequest struct {
	Cmd    Command
	Handle Handle
	Index  int
	Key    int
}

func (r *InfoRequest) Command() Command { return r.Cmd }

func (r *InfoRequest) Encode(b *Buffer) {
	b.WriteInt(int32(r.Handle))
	b.WriteInt(int32(r.Index))
	b.WriteInt(int32(r.Key))
}

func (r *InfoRequest) Decode(b *Buffer, _ *strpool.Pool) {
	r.Handle = Handle(b.ReadInt())
	r.Index = int(b.ReadInt())
	r.Key = int(b.ReadInt())
}

// DescribeRequest asks for the display text of a parameter value.
type DescribeRequest struct {
	Cmd    Command
	Handle Handle
	Param  int
	Value  int
}

func (r *DescribeRequest) Command() Command { return r.Cmd }

func (r *DescribeRequest) Encode(b *Buffer) {
	b.WriteInt(int32(r.Handle))
	b.WriteInt(int32(r.Param))
	b.WriteInt(int32(r.Value))
}

func (r *DescribeRequest) Decode(b *Buffer, _ *strpool.Pool) {
	r.Handle = Handle(b.ReadInt())
	r.Param = int(b.ReadInt())
	r.Value = int(b.ReadInt())
}

// InitRequest initializes an instance with an optional state blob.
type InitRequest struct {
	Handle Handle
	Blob   []byte
}

func (r *InitRequest) Command() Command { return CommandInit }

func (r *InitRequest) Encode(b *Buffer) {
	b.WriteInt(int32(r.Handle))
	b.WriteData(r.Blob)
}

func (r *InitRequest) Decode(b *Buffer, _ *strpool.Pool) {
	r.Handle = Handle(b.ReadInt())
	r.Blob = append(r.Blob[:0], b.ReadData()...)
}

// IndexRequest carries a handle and one integer: a parameter or attribute
// index for the getters, a track count for set-num-tracks.
type IndexRequest struct {
	Cmd    Command
	Handle Handle
	Index  int
}

func (r *IndexRequest) Command() Command { return r.Cmd }

func (r *IndexRequest) Encode(b *Buffer) {
	b.WriteInt(int32(r.Handle))
	b.WriteInt(int32(r.Index))
}

func (r *IndexRequest) Decode(b *Buffer, _ *strpool.Pool) {
	r.Handle = Handle(b.ReadInt())
	r.Index = int(b.ReadInt())
}

// SetValueRequest sets a global parameter or an attribute.
type SetValueRequest struct {
	Cmd    Command
	Handle Handle
	Index  int
	Value  int
}

func (r *SetValueRequest) Command() Command { return r.Cmd }

func (r *SetValueRequest) Encode(b *Buffer) {
	b.WriteInt(int32(r.Handle))
	b.WriteInt(int32(r.Index))
	b.WriteInt(int32(r.Value))
}

func (r *SetValueRequest) Decode(b *Buffer, _ *strpool.Pool) {
	r.Handle = Handle(b.ReadInt())
	r.Index = int(b.ReadInt())
	r.Value = int(b.ReadInt())
}

// TrackValueRequest reads a track parameter.
type TrackValueRequest struct {
	Handle Handle
	Track  int
	Index  int
}

func (r *TrackValueRequest) Command() Command { return CommandGetTrackParameterValue }

func (r *TrackValueRequest) Encode(b *Buffer) {
	b.WriteInt(int32(r.Handle))
	b.WriteInt(int32(r.Track))
	b.WriteInt(int32(r.Index))
}

func (r *TrackValueRequest) Decode(b *Buffer, _ *strpool.Pool) {
	r.Handle = Handle(b.ReadInt())
	r.Track = int(b.ReadInt())
	r.Index = int(b.ReadInt())
}

// SetTrackValueRequest writes a track parameter.
type SetTrackValueRequest struct {
	Handle Handle
	Track  int
	Index  int
	Value  int
}

func (r *SetTrackValueRequest) Command() Command { return CommandSetTrackParameterValue }

func (r *SetTrackValueRequest) Encode(b *Buffer) {
	b.WriteInt(int32(r.Handle))
	b.WriteInt(int32(r.Track))
	b.WriteInt(int32(r.Index))
	b.WriteInt(int32(r.Value))
}

func (r *SetTrackValueRequest) Decode(b *Buffer, _ *strpool.Pool) {
	r.Handle = Handle(b.ReadInt())
	r.Track = int(b.ReadInt())
	r.Index = int(b.ReadInt())
	r.Value = int(b.ReadInt())
}

// WorkRequest carries one audio block. For CommandWorkM2S the samples are
// the mono input.
type WorkRequest struct {
	Cmd     Command
	Handle  Handle
	Samples []float32
	Mode    machine.Mode
}

func (r *WorkRequest) Command() Command { return r.Cmd }

func (r *WorkRequest) Encode(b *Buffer) {
	b.WriteInt(int32(r.Handle))
	writeSamples(b, r.Samples)
	b.WriteInt(int32(r.Mode))
}

func (r *WorkRequest) Decode(b *Buffer, _ *strpool.Pool) {
	r.Handle = Handle(b.ReadInt())
	r.Samples = readSamples(b, r.Samples[:0])
	r.Mode = machine.Mode(b.ReadInt())
}

// StatusReply is the single-int reply: an acknowledgement, a handle or a value.
type StatusReply struct {
	Value int32
}

func (r *StatusReply) Encode(b *Buffer) { b.WriteInt(r.Value) }

func (r *StatusReply) Decode(b *Buffer, _ *strpool.Pool) { r.Value = b.ReadInt() }

// InfoReply is a tagged value: kind, then an int or a string.
type InfoReply struct {
	Value machine.Value
}

func (r *InfoReply) Encode(b *Buffer) {
	b.WriteInt(int32(r.Value.Kind))
	switch r.Value.Kind {
	case machine.KindInt:
		b.WriteInt(int32(r.Value.Int))
	case machine.KindString:
		b.WriteString(r.Value.Str)
	}
}

func (r *InfoReply) Decode(b *Buffer, pool *strpool.Pool) {
	r.Value = machine.Value{Kind: machine.ValueKind(b.ReadInt())}
	switch r.Value.Kind {
	case machine.KindNone:
	case machine.KindInt:
		r.Value.Int = int(b.ReadInt())
	case machine.KindString:
		r.Value.Str = pool.Intern(b.ReadString())
	default:
		b.fail(fmt.Errorf("bmlipc: unknown value kind %d", r.Value.Kind))
	}
}

// DescribeReply carries the display text when the machine has one.
type DescribeReply struct {
	Found bool
	Text  string
}

func (r *DescribeReply) Encode(b *Buffer) {
	if !r.Found {
		b.WriteInt(0)
		return
	}
	b.WriteInt(1)
	b.WriteString(r.Text)
}

func (r *DescribeReply) Decode(b *Buffer, pool *strpool.Pool) {
	r.Found = b.ReadInt() != 0
	r.Text = ""
	if r.Found {
		r.Text = pool.Intern(b.ReadString())
	}
}

// WorkReply carries the machine status and the processed block. Size is the
// output byte count; it is doubled for mono-to-stereo work.
type WorkReply struct {
	Status  bool
	Samples []float32
}

func (r *WorkReply) Encode(b *Buffer) {
	if r.Status {
		b.WriteInt(1)
	} else {
		b.WriteInt(0)
	}
	b.WriteInt(int32(len(r.Samples) * 4))
	writeSamples(b, r.Samples)
}

func (r *WorkReply) Decode(b *Buffer, _ *strpool.Pool) {
	r.Status = b.ReadInt() != 0
	size := b.ReadInt()
	r.Samples = readSamples(b, r.Samples[:0])
	if b.err == nil && int(size) != len(r.Samples)*4 {
		b.fail(fmt.Errorf("bmlipc: work reply size %d does not match %d sample bytes", size, len(r.Samples)*4))
	}
}

func writeSamples(b *Buffer, samples []float32) {
	if !b.reserve(4 + len(samples)*4) {
		return
	}
	binary.LittleEndian.PutUint32(b.data[b.pos:], uint32(len(samples)*4))
	p := b.data[b.pos+4:]
	for i, s := range samples {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	b.advance(4 + len(samples)*4)
}

func readSamples(b *Buffer, dst []float32) []float32 {
	p := b.ReadData()
	if b.err != nil {
		return dst
	}
	if len(p)%4 != 0 {
		b.fail(fmt.Errorf("bmlipc: sample block of %d bytes is not a whole number of samples", len(p)))
		return dst
	}
	for i := 0; i < len(p); i += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(p[i:])))
	}
	return dst
}
