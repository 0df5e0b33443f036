package bmlhost

import (
	"github.com/machinefabric/bml-go/bmlipc"
	"github.com/machinefabric/bml-go/machine"
)

// handler runs one decoded request and fills in its reply. The request and
// reply types are the ones bmlipc.NewRequest returns for the command.
type handler func(s *Server, req bmlipc.Request, reply bmlipc.Message)

func ack(reply bmlipc.Message, v int32) {
	reply.(*bmlipc.StatusReply).Value = v
}

// handlers has one entry per command except quit, which ends Serve.
var handlers = map[bmlipc.Command]handler{
	bmlipc.CommandSetMasterInfo: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.MasterInfoRequest)
		s.api.SetMasterInfo(r.Info.BeatsPerMinute, r.Info.TicksPerBeat, r.Info.SamplesPerSecond)
		ack(reply, 0)
	},
	bmlipc.CommandOpen: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		ack(reply, int32(s.api.Open(req.(*bmlipc.OpenRequest).Path)))
	},
	bmlipc.CommandClose: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		s.api.Close(req.(*bmlipc.HandleRequest).Handle)
		ack(reply, 0)
	},
	bmlipc.CommandGetMachineInfo: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.MachineInfoRequest)
		reply.(*bmlipc.InfoReply).Value = s.api.GetMachineInfo(r.Handle, r.Key)
	},
	bmlipc.CommandGetGlobalParameterInfo: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.InfoRequest)
		reply.(*bmlipc.InfoReply).Value = s.api.GetGlobalParameterInfo(r.Handle, r.Index, machine.Parameter(r.Key))
	},
	bmlipc.CommandGetTrackParameterInfo: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.InfoRequest)
		reply.(*bmlipc.InfoReply).Value = s.api.GetTrackParameterInfo(r.Handle, r.Index, machine.Parameter(r.Key))
	},
	bmlipc.CommandGetAttributeInfo: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.InfoRequest)
		reply.(*bmlipc.InfoReply).Value = s.api.GetAttributeInfo(r.Handle, r.Index, machine.Attribute(r.Key))
	},
	bmlipc.CommandDescribeGlobalValue: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.DescribeRequest)
		out := reply.(*bmlipc.DescribeReply)
		out.Text, out.Found = s.api.DescribeGlobal(r.Handle, r.Param, r.Value)
	},
	bmlipc.CommandDescribeTrackValue: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.DescribeRequest)
		out := reply.(*bmlipc.DescribeReply)
		out.Text, out.Found = s.api.DescribeTrack(r.Handle, r.Param, r.Value)
	},
	bmlipc.CommandNew: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		ack(reply, int32(s.api.New(req.(*bmlipc.HandleRequest).Handle)))
	},
	bmlipc.CommandFree: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		s.api.Free(req.(*bmlipc.HandleRequest).Handle)
		ack(reply, 0)
	},
	bmlipc.CommandInit: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.InitRequest)
		s.api.Init(r.Handle, r.Blob)
		ack(reply, 0)
	},
	bmlipc.CommandGetTrackParameterValue: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.TrackValueRequest)
		ack(reply, int32(s.api.GetTrackParameterValue(r.Handle, r.Track, r.Index)))
	},
	bmlipc.CommandSetTrackParameterValue: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.SetTrackValueRequest)
		s.api.SetTrackParameterValue(r.Handle, r.Track, r.Index, r.Value)
		ack(reply, 0)
	},
	bmlipc.CommandGetGlobalParameterValue: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.IndexRequest)
		ack(reply, int32(s.api.GetGlobalParameterValue(r.Handle, r.Index)))
	},
	bmlipc.CommandSetGlobalParameterValue: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.SetValueRequest)
		s.api.SetGlobalParameterValue(r.Handle, r.Index, r.Value)
		ack(reply, 0)
	},
	bmlipc.CommandGetAttributeValue: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.IndexRequest)
		ack(reply, int32(s.api.GetAttributeValue(r.Handle, r.Index)))
	},
	bmlipc.CommandSetAttributeValue: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.SetValueRequest)
		s.api.SetAttributeValue(r.Handle, r.Index, r.Value)
		ack(reply, 0)
	},
	bmlipc.CommandTick: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		s.api.Tick(req.(*bmlipc.HandleRequest).Handle)
		ack(reply, 0)
	},
	bmlipc.CommandWork: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.WorkRequest)
		out := reply.(*bmlipc.WorkReply)
		out.Status = s.api.Work(r.Handle, r.Samples, r.Mode)
		out.Samples = r.Samples
	},
	bmlipc.CommandWorkM2S: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.WorkRequest)
		out := reply.(*bmlipc.WorkReply)
		n := 2 * len(r.Samples)
		if cap(s.scratch) < n {
			s.scratch = make([]float32, n)
		}
		stereo := s.scratch[:n]
		clear(stereo)
		out.Status = s.api.WorkM2S(r.Handle, r.Samples, stereo, r.Mode)
		out.Samples = stereo
	},
	bmlipc.CommandStop: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		s.api.Stop(req.(*bmlipc.HandleRequest).Handle)
		ack(reply, 0)
	},
	bmlipc.CommandAttributesChanged: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		s.api.AttributesChanged(req.(*bmlipc.HandleRequest).Handle)
		ack(reply, 0)
	},
	bmlipc.CommandSetNumTracks: func(s *Server, req bmlipc.Request, reply bmlipc.Message) {
		r := req.(*bmlipc.IndexRequest)
		s.api.SetNumTracks(r.Handle, r.Index)
		ack(reply, 0)
	},
}
