package bml

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/machinefabric/bml-go/bmlipc"
	"github.com/machinefabric/bml-go/logging"
)

// State is the connection state of a supervisor.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// reapTimeout bounds how long a dead or quitting worker is waited for
// before it is killed.
const reapTimeout = 2 * time.Second

// worker is one spawned worker process.
type worker struct {
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

func (w *worker) alive() bool {
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// stop waits up to timeout for the process to exit on its own, then kills it.
func (w *worker) stop(timeout time.Duration) {
	select {
	case <-w.exited:
		return
	case <-time.After(timeout):
	}
	_ = w.cmd.Process.Kill()
	<-w.exited
}

// supervisor owns the worker process and the socket connected to it. It
// spawns the worker on demand, connects with bounded retries and respawns
// the worker once per call when it turns out to be gone.
type supervisor struct {
	cfg   Config
	path  string
	log   *zap.Logger
	trace *logging.Tracer

	state  atomic.Int32
	worker *worker
	conn   *net.UnixConn
	reader *bmlipc.FrameReader
	writer *bmlipc.FrameWriter
	limits bmlipc.Limits
	remote bmlipc.Hello

	// afterConnect runs on every fresh connection except the first one.
	afterConnect func() error

	spawns   atomic.Int64
	respawns atomic.Int64
	connects atomic.Int64
}

func newSupervisor(cfg Config, path string, trace *logging.Tracer) *supervisor {
	return &supervisor{
		cfg:   cfg,
		path:  path,
		log:   trace.Logger(),
		trace: trace,
	}
}

func (s *supervisor) State() State { return State(s.state.Load()) }

func (s *supervisor) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.trace.Trace("supervisor state", zap.Stringer("from", old), zap.Stringer("to", st))
	}
}

// ensureWorker spawns the worker unless one is running or the session
// attaches to a worker started by hand.
func (s *supervisor) ensureWorker() error {
	if s.cfg.Attach {
		return nil
	}
	if s.worker != nil && s.worker.alive() {
		return nil
	}
	argv, err := s.cfg.WorkerArgv(s.path)
	if err != nil {
		return newError(ErrorKindSpawn, "spawn worker", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), s.cfg.WorkerEnv...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return newError(ErrorKindSpawn, "spawn worker", fmt.Errorf("failed to start %s: %w", argv[0], err))
	}

	w := &worker{cmd: cmd, exited: make(chan struct{})}
	go func() {
		w.err = cmd.Wait()
		close(w.exited)
	}()
	if s.worker != nil {
		s.respawns.Inc()
	}
	s.worker = w
	s.spawns.Inc()
	s.log.Info("spawned worker", zap.Strings("argv", argv), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// connect dials the worker socket, retrying with a fixed backoff, and runs
// the HELLO exchange on the new connection.
func (s *supervisor) connect() error {
	s.setState(StateConnecting)
	addr := &net.UnixAddr{Name: s.path, Net: "unix"}

	var conn *net.UnixConn
	attempt := 0
	dial := func() error {
		attempt++
		if s.worker != nil && !s.worker.alive() {
			return backoff.Permanent(fmt.Errorf("worker exited before accepting: %v", s.worker.err))
		}
		c, err := net.DialUnix("unix", nil, addr)
		if err != nil {
			s.trace.Trace("connect failed", zap.String("path", s.path), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		conn = c
		return nil
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.ConnectBackoff), uint64(s.cfg.ConnectRetries))
	if err := backoff.Retry(dial, b); err != nil {
		s.setState(StateDisconnected)
		return newError(ErrorKindConnect, "connect "+s.path, err)
	}

	reader := bmlipc.NewFrameReader(conn)
	writer := bmlipc.NewFrameWriter(conn)
	local := bmlipc.Hello{
		MaxFrame: s.cfg.MaxFrame,
		PID:      os.Getpid(),
		WorkerID: uuid.NewString(),
	}
	if s.cfg.ReplyTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.ReplyTimeout))
	}
	remote, limits, err := bmlipc.HandshakeInitiate(reader, writer, local)
	_ = conn.SetDeadline(time.Time{})
	if err != nil {
		conn.Close()
		s.setState(StateDisconnected)
		return newError(ErrorKindHandshake, "handshake", err)
	}

	s.conn = conn
	s.reader = reader
	s.writer = writer
	s.limits = limits
	s.remote = remote
	s.setState(StateConnected)
	s.log.Debug("connected to worker",
		zap.String("path", s.path),
		zap.String("worker_id", remote.WorkerID),
		zap.Int("worker_pid", remote.PID),
		zap.String("loader", remote.Loader),
		zap.Int("max_frame", limits.MaxFrame))

	if s.connects.Inc() > 1 && s.afterConnect != nil {
		if err := s.afterConnect(); err != nil {
			s.drop()
			return err
		}
	}
	return nil
}

// establish makes sure a worker runs and a connection to it is up.
func (s *supervisor) establish() error {
	if s.State() == StateConnected {
		return nil
	}
	if err := s.ensureWorker(); err != nil {
		return err
	}
	return s.connect()
}

// drop closes the connection and marks the supervisor disconnected. The
// worker process is left alone; a dead one is respawned by ensureWorker.
func (s *supervisor) drop() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.reader = nil
	s.writer = nil
	s.setState(StateDisconnected)
}

// respawn replaces the worker after it was found gone or hung.
func (s *supervisor) respawn(reason error) error {
	s.log.Warn("worker is gone, respawning", zap.String("path", s.path), zap.Error(reason))
	s.drop()
	if s.worker != nil && !s.cfg.Attach {
		s.worker.stop(0)
	}
	return s.establish()
}

// reap waits for a worker that closed its end of the connection, so the
// next call finds it dead and spawns a replacement.
func (s *supervisor) reap() {
	if s.worker != nil && !s.cfg.Attach {
		s.worker.stop(reapTimeout)
	}
}

func (s *supervisor) send(out *bmlipc.Buffer) error {
	if err := s.writer.WriteFrame(out); err != nil {
		return err
	}
	s.trace.Trace("sent", zap.Int("bytes", out.Len()))
	return nil
}

func (s *supervisor) receive(in *bmlipc.Buffer) error {
	if s.cfg.ReplyTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReplyTimeout))
		defer func() {
			if s.conn != nil {
				_ = s.conn.SetReadDeadline(time.Time{})
			}
		}()
	}
	if err := s.reader.ReadFrame(in); err != nil {
		return err
	}
	s.trace.Trace("received", zap.Int("bytes", in.Len()))
	return nil
}

// exchange is one request and, when reply is non-nil, one reply on the
// current connection, without any recovery.
func (s *supervisor) exchange(out, reply *bmlipc.Buffer) error {
	if err := s.send(out); err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	return s.receive(reply)
}

// sendAndReceive delivers out to a live worker and reads its reply into in.
// A send that finds the worker gone, or a reply that does not arrive within
// the reply timeout, respawns the worker and retries the call exactly once.
// A worker that dies while a call is in flight fails that call; the next
// call respawns it.
func (s *supervisor) sendAndReceive(op string, out, in *bmlipc.Buffer) error {
	if err := s.establish(); err != nil {
		return err
	}
	err := s.send(out)
	if err != nil && isPeerGone(err) {
		if rerr := s.respawn(err); rerr != nil {
			return rerr
		}
		err = s.send(out)
	}
	if err != nil {
		switch {
		case errors.Is(err, bmlipc.ErrFrameTooLarge):
			return newError(ErrorKindEncode, op, err)
		case isPeerGone(err):
			s.drop()
			s.reap()
			return newError(ErrorKindPeerGone, op, err)
		}
		return newError(ErrorKindTransport, op, err)
	}
	if in == nil {
		return nil
	}

	err = s.receive(in)
	if err != nil && isTimeout(err) {
		if rerr := s.respawn(err); rerr != nil {
			return rerr
		}
		err = s.exchange(out, in)
		if err != nil && isTimeout(err) {
			s.drop()
			if s.worker != nil && !s.cfg.Attach {
				s.worker.stop(0)
			}
			return newError(ErrorKindTimeout, op, err)
		}
	}
	if err != nil {
		if errors.Is(err, bmlipc.ErrFrameTooLarge) {
			return newError(ErrorKindDecode, op, err)
		}
		s.drop()
		if isEOF(err) || isPeerGone(err) {
			s.reap()
			return newError(ErrorKindPeerGone, op, err)
		}
		return newError(ErrorKindTransport, op, err)
	}
	return nil
}

// shutdown asks the worker to quit when quit is non-nil, closes the
// connection and reaps the worker, killing it when it does not exit in time.
func (s *supervisor) shutdown(quit *bmlipc.Buffer) error {
	var err error
	if quit != nil && s.State() == StateConnected {
		if serr := s.send(quit); serr != nil && !isPeerGone(serr) {
			err = newError(ErrorKindTransport, "quit", serr)
		}
	}
	s.drop()
	if s.worker != nil && !s.cfg.Attach {
		s.worker.stop(reapTimeout)
		s.worker = nil
	}
	return err
}
