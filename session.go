package bml

import (
	"fmt"
	"os"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/machinefabric/bml-go/bmlipc"
	"github.com/machinefabric/bml-go/logging"
	"github.com/machinefabric/bml-go/machine"
	"github.com/machinefabric/bml-go/strpool"
)

// sessionSeq numbers the sessions of this process so their sockets differ.
var sessionSeq atomic.Int64

// Session runs machines in a worker process and exposes them through API.
// Each call is one request and one reply over the worker socket. Calls that
// cannot complete return neutral values; LastError reports why.
//
// A Session is not safe for concurrent use. Hosts that call from several
// goroutines must serialize the calls, or use one Session per goroutine.
type Session struct {
	cfg   Config
	trace *logging.Tracer
	sup   *supervisor
	pool  *strpool.Pool

	out *bmlipc.Buffer
	in  *bmlipc.Buffer

	replayOut *bmlipc.Buffer
	replayIn  *bmlipc.Buffer
	master    *machine.MasterInfo

	scratch []float32
	lastErr atomic.Error
	closed  bool
}

// SessionStats describes the supervised worker.
type SessionStats struct {
	SocketPath string
	State      State
	Spawns     int64
	Respawns   int64
	WorkerID   string
	WorkerPID  int
	Loader     string
	MaxFrame   int
	Interned   int
}

// NewSession spawns a worker (unless cfg.Attach is set), connects to it
// and exchanges HELLO. The worker is respawned later whenever a call finds
// it gone.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.MaxFrame = bmlipc.Limits{MaxFrame: cfg.MaxFrame}.Normalize().MaxFrame

	log := cfg.Logger
	if log == nil {
		log = logging.New("bml", cfg.Debug)
	}
	trace := logging.NewTracer(log, cfg.Debug)
	path := cfg.SocketPathFor(os.Getpid(), sessionSeq.Inc()-1)

	s := &Session{
		cfg:       cfg,
		trace:     trace,
		sup:       newSupervisor(cfg, path, trace),
		pool:      strpool.New(cfg.StringPoolSize),
		out:       bmlipc.NewBuffer(cfg.MaxFrame),
		in:        bmlipc.NewBuffer(cfg.MaxFrame),
		replayOut: bmlipc.NewBuffer(bmlipc.DefaultBufferSize),
		replayIn:  bmlipc.NewBuffer(bmlipc.DefaultBufferSize),
	}
	s.out.SetLogger(log)
	s.in.SetLogger(log)
	s.sup.afterConnect = s.replayMasterInfo

	if err := s.sup.establish(); err != nil {
		_ = s.sup.shutdown(nil)
		return nil, err
	}
	return s, nil
}

// Stats returns a snapshot of the worker supervision counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		SocketPath: s.sup.path,
		State:      s.sup.State(),
		Spawns:     s.sup.spawns.Load(),
		Respawns:   s.sup.respawns.Load(),
		WorkerID:   s.sup.remote.WorkerID,
		WorkerPID:  s.sup.remote.PID,
		Loader:     s.sup.remote.Loader,
		MaxFrame:   s.sup.limits.MaxFrame,
		Interned:   s.pool.Count(),
	}
}

// LastError returns the cause of the most recent failed call, or nil.
func (s *Session) LastError() error { return s.lastErr.Load() }

// Shutdown asks the worker to quit and releases the session. The strings
// the session returned stay valid but are no longer interned.
func (s *Session) Shutdown() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.out.Clear()
	s.out.WriteInt(int32(bmlipc.CommandQuit))
	err := s.sup.shutdown(s.out)
	if !s.cfg.Attach {
		// a killed worker leaves its socket behind
		if rerr := os.Remove(s.sup.path); rerr != nil && !os.IsNotExist(rerr) {
			err = multierr.Append(err, rerr)
		}
	}

	s.trace.Trace("session closed", zap.Int("interned", s.pool.Count()))
	s.pool.Reset()
	return err
}

func (s *Session) fail(err error) {
	s.lastErr.Store(err)
	s.trace.Logger().Warn("call failed", zap.Error(err))
}

// call sends req and decodes the answer into reply. It reports whether a
// complete reply was decoded.
func (s *Session) call(req bmlipc.Request, reply bmlipc.Message) bool {
	op := req.Command().String()
	if s.closed {
		s.fail(newError(ErrorKindClosed, op, ErrClosed))
		return false
	}
	if err := bmlipc.EncodeRequest(s.out, req); err != nil {
		s.fail(newError(ErrorKindEncode, op, err))
		return false
	}
	s.trace.Trace("call", zap.Stringer("command", req.Command()), zap.Int("bytes", s.out.Len()))

	if err := s.sup.sendAndReceive(op, s.out, s.in); err != nil {
		s.fail(err)
		return false
	}
	reply.Decode(s.in, s.pool)
	if err := s.in.Err(); err != nil {
		s.fail(newError(ErrorKindDecode, op, err))
		return false
	}
	if n := s.in.Remaining(); n > 0 {
		s.trace.Trace("ignoring trailing reply bytes", zap.Stringer("command", req.Command()), zap.Int("bytes", n))
	}
	return true
}

func (s *Session) status(req bmlipc.Request) (int32, bool) {
	var reply bmlipc.StatusReply
	if !s.call(req, &reply) {
		return 0, false
	}
	return reply.Value, true
}

// replayMasterInfo restores the song timing on a respawned worker.
func (s *Session) replayMasterInfo() error {
	if s.master == nil {
		return nil
	}
	req := &bmlipc.MasterInfoRequest{Info: *s.master}
	if err := bmlipc.EncodeRequest(s.replayOut, req); err != nil {
		return newError(ErrorKindEncode, "replay master info", err)
	}
	if err := s.sup.exchange(s.replayOut, s.replayIn); err != nil {
		return newError(ErrorKindTransport, "replay master info", err)
	}
	var reply bmlipc.StatusReply
	reply.Decode(s.replayIn, nil)
	if err := s.replayIn.Err(); err != nil {
		return newError(ErrorKindDecode, "replay master info", err)
	}
	return nil
}

func (s *Session) SetMasterInfo(bpm, tpb, srate int) {
	info := machine.MasterInfo{BeatsPerMinute: bpm, TicksPerBeat: tpb, SamplesPerSecond: srate}
	s.master = &info
	s.status(&bmlipc.MasterInfoRequest{Info: info})
}

func (s *Session) Open(path string) Handle {
	v, _ := s.status(&bmlipc.OpenRequest{Path: path})
	return Handle(uint32(v))
}

func (s *Session) Close(bmh Handle) {
	s.status(&bmlipc.HandleRequest{Cmd: bmlipc.CommandClose, Handle: bmh})
}

func (s *Session) info(req bmlipc.Request) machine.Value {
	var reply bmlipc.InfoReply
	if !s.call(req, &reply) {
		return machine.Value{}
	}
	return reply.Value
}

func (s *Session) GetMachineInfo(bmh Handle, key machine.Property) machine.Value {
	return s.info(&bmlipc.MachineInfoRequest{Handle: bmh, Key: key})
}

func (s *Session) GetGlobalParameterInfo(bmh Handle, index int, key machine.Parameter) machine.Value {
	return s.info(&bmlipc.InfoRequest{Cmd: bmlipc.CommandGetGlobalParameterInfo, Handle: bmh, Index: index, Key: int(key)})
}

func (s *Session) GetTrackParameterInfo(bmh Handle, index int, key machine.Parameter) machine.Value {
	return s.info(&bmlipc.InfoRequest{Cmd: bmlipc.CommandGetTrackParameterInfo, Handle: bmh, Index: index, Key: int(key)})
}

func (s *Session) GetAttributeInfo(bmh Handle, index int, key machine.Attribute) machine.Value {
	return s.info(&bmlipc.InfoRequest{Cmd: bmlipc.CommandGetAttributeInfo, Handle: bmh, Index: index, Key: int(key)})
}

func (s *Session) describe(cmd bmlipc.Command, bmh Handle, param, value int) string {
	var reply bmlipc.DescribeReply
	if !s.call(&bmlipc.DescribeRequest{Cmd: cmd, Handle: bmh, Param: param, Value: value}, &reply) {
		return ""
	}
	return reply.Text
}

func (s *Session) DescribeGlobalValue(bmh Handle, param, value int) string {
	return s.describe(bmlipc.CommandDescribeGlobalValue, bmh, param, value)
}

func (s *Session) DescribeTrackValue(bmh Handle, param, value int) string {
	return s.describe(bmlipc.CommandDescribeTrackValue, bmh, param, value)
}

func (s *Session) New(bmh Handle) Handle {
	v, _ := s.status(&bmlipc.HandleRequest{Cmd: bmlipc.CommandNew, Handle: bmh})
	return Handle(uint32(v))
}

func (s *Session) Free(bm Handle) {
	s.status(&bmlipc.HandleRequest{Cmd: bmlipc.CommandFree, Handle: bm})
}

func (s *Session) Init(bm Handle, blob []byte) {
	s.status(&bmlipc.InitRequest{Handle: bm, Blob: blob})
}

func (s *Session) GetTrackParameterValue(bm Handle, track, index int) int {
	v, _ := s.status(&bmlipc.TrackValueRequest{Handle: bm, Track: track, Index: index})
	return int(v)
}

func (s *Session) SetTrackParameterValue(bm Handle, track, index, value int) {
	s.status(&bmlipc.SetTrackValueRequest{Handle: bm, Track: track, Index: index, Value: value})
}

func (s *Session) GetGlobalParameterValue(bm Handle, index int) int {
	v, _ := s.status(&bmlipc.IndexRequest{Cmd: bmlipc.CommandGetGlobalParameterValue, Handle: bm, Index: index})
	return int(v)
}

func (s *Session) SetGlobalParameterValue(bm Handle, index, value int) {
	s.status(&bmlipc.SetValueRequest{Cmd: bmlipc.CommandSetGlobalParameterValue, Handle: bm, Index: index, Value: value})
}

func (s *Session) GetAttributeValue(bm Handle, index int) int {
	v, _ := s.status(&bmlipc.IndexRequest{Cmd: bmlipc.CommandGetAttributeValue, Handle: bm, Index: index})
	return int(v)
}

func (s *Session) SetAttributeValue(bm Handle, index, value int) {
	s.status(&bmlipc.SetValueRequest{Cmd: bmlipc.CommandSetAttributeValue, Handle: bm, Index: index, Value: value})
}

func (s *Session) Tick(bm Handle) {
	s.status(&bmlipc.HandleRequest{Cmd: bmlipc.CommandTick, Handle: bm})
}

// work runs one audio block and copies the returned samples into out, which
// must hold exactly want samples.
func (s *Session) work(cmd bmlipc.Command, bm Handle, in, out []float32, want int, mode machine.Mode) bool {
	reply := bmlipc.WorkReply{Samples: s.scratch[:0]}
	if !s.call(&bmlipc.WorkRequest{Cmd: cmd, Handle: bm, Samples: in, Mode: mode}, &reply) {
		return false
	}
	s.scratch = reply.Samples
	if len(reply.Samples) != want {
		s.fail(newError(ErrorKindDecode, cmd.String(),
			fmt.Errorf("worker returned %d samples, expected %d", len(reply.Samples), want)))
		return false
	}
	copy(out, reply.Samples)
	return reply.Status
}

func (s *Session) Work(bm Handle, samples []float32, mode machine.Mode) bool {
	return s.work(bmlipc.CommandWork, bm, samples, samples, len(samples), mode)
}

func (s *Session) WorkM2S(bm Handle, in, out []float32, mode machine.Mode) bool {
	if len(out) < 2*len(in) {
		s.fail(newError(ErrorKindEncode, bmlipc.CommandWorkM2S.String(),
			fmt.Errorf("output holds %d samples, need %d", len(out), 2*len(in))))
		return false
	}
	return s.work(bmlipc.CommandWorkM2S, bm, in, out, 2*len(in), mode)
}

func (s *Session) Stop(bm Handle) {
	s.status(&bmlipc.HandleRequest{Cmd: bmlipc.CommandStop, Handle: bm})
}

func (s *Session) AttributesChanged(bm Handle) {
	s.status(&bmlipc.HandleRequest{Cmd: bmlipc.CommandAttributesChanged, Handle: bm})
}

func (s *Session) SetNumTracks(bm Handle, n int) {
	s.status(&bmlipc.IndexRequest{Cmd: bmlipc.CommandSetNumTracks, Handle: bm, Index: n})
}
