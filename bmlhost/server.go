// Package bmlhost is the worker side of the bml protocol. A worker serves
// exactly one client over a unix socket and runs every request against an
// in-process bml.Native backend.
package bmlhost

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	bml "github.com/machinefabric/bml-go"
	"github.com/machinefabric/bml-go/bmlipc"
	"github.com/machinefabric/bml-go/logging"
	"github.com/machinefabric/bml-go/strpool"
)

// maxReadErrors is the number of consecutive failed reads after which the
// connection is given up.
const maxReadErrors = 16

// Options configures a Server.
type Options struct {
	Logger   *zap.Logger
	Debug    logging.DebugFlags
	MaxFrame int
}

// Server is a single-client worker loop.
type Server struct {
	path  string
	api   *bml.Native
	trace *logging.Tracer
	log   *zap.Logger
	id    string

	maxFrame int
	listener *net.UnixListener
	conn     *net.UnixConn
	reader   *bmlipc.FrameReader
	writer   *bmlipc.FrameWriter
	in       *bmlipc.Buffer
	out      *bmlipc.Buffer
	pool     *strpool.Pool
	scratch  []float32

	errLimit *rate.Limiter
	served   atomic.Int64
}

// Listen removes any stale socket at path and listens on it.
func Listen(path string, api *bml.Native, opts Options) (*Server, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxFrame == 0 {
		opts.MaxFrame = bmlipc.DefaultMaxFrame
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	l.SetUnlinkOnClose(false)

	id := uuid.New()
	api.SeedGenerations(generationSeed(id))

	s := &Server{
		path:     path,
		api:      api,
		trace:    logging.NewTracer(log, opts.Debug),
		log:      log,
		id:       id.String(),
		maxFrame: bmlipc.Limits{MaxFrame: opts.MaxFrame}.Normalize().MaxFrame,
		listener: l,
		pool:     strpool.New(strpool.DefaultCapacity),
		errLimit: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	log.Debug("listening", zap.String("path", path), zap.String("worker_id", s.id))
	return s, nil
}

// generationSeed derives the first handle generation from the random bits
// of a worker id.
func generationSeed(id uuid.UUID) uint16 {
	return binary.BigEndian.Uint16(id[:2])
}

// ID returns the worker id announced in HELLO.
func (s *Server) ID() string { return s.id }

// Served returns the number of requests dispatched so far.
func (s *Server) Served() int { return int(s.served.Load()) }

// Accept waits for the one client and answers its HELLO.
func (s *Server) Accept() error {
	conn, err := s.listener.AcceptUnix()
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	reader := bmlipc.NewFrameReader(conn)
	writer := bmlipc.NewFrameWriter(conn)
	local := bmlipc.Hello{
		MaxFrame: s.maxFrame,
		PID:      os.Getpid(),
		WorkerID: s.id,
		Loader:   s.api.Loader().Name(),
	}
	remote, limits, err := bmlipc.HandshakeAccept(reader, writer, local)
	if err != nil {
		conn.Close()
		return fmt.Errorf("handshake: %w", err)
	}
	s.conn = conn
	s.reader = reader
	s.writer = writer
	s.in = bmlipc.NewBuffer(limits.MaxFrame)
	s.out = bmlipc.NewBuffer(limits.MaxFrame)
	s.in.SetLogger(s.log)
	s.out.SetLogger(s.log)
	s.log.Debug("client connected", zap.Int("client_pid", remote.PID), zap.Int("max_frame", limits.MaxFrame))
	return nil
}

// Serve handles requests until the client sends quit or closes the
// connection, both of which return nil. Malformed and oversized messages
// and unknown commands are skipped. An error is returned only when the
// stream can no longer be read.
func (s *Server) Serve() error {
	if s.conn == nil {
		return errors.New("bmlhost: Serve called before Accept")
	}
	readErrors := 0
	for {
		err := s.reader.ReadFrame(s.in)
		switch {
		case err == nil:
			readErrors = 0
		case errors.Is(err, io.EOF):
			s.log.Debug("client closed the connection", zap.Int64("served", s.served.Load()))
			return nil
		case errors.Is(err, bmlipc.ErrFrameTooLarge):
			s.log.Warn("skipping oversized message", zap.Error(err))
			continue
		case errors.Is(err, bmlipc.ErrFrameCorrupt), errors.Is(err, io.ErrUnexpectedEOF),
			errors.Is(err, unix.ECONNRESET), errors.Is(err, net.ErrClosed):
			return fmt.Errorf("read request: %w", err)
		default:
			readErrors++
			if s.errLimit.Allow() {
				s.log.Warn("failed to read request", zap.Error(err), zap.Int("consecutive", readErrors))
			}
			if readErrors >= maxReadErrors {
				return fmt.Errorf("read request: giving up after %d errors: %w", readErrors, err)
			}
			continue
		}

		cmd := bmlipc.Command(s.in.ReadInt())
		if s.in.IOError() {
			s.log.Warn("skipping message without command id", zap.Int("bytes", s.in.Len()))
			continue
		}
		if cmd == bmlipc.CommandQuit {
			s.log.Debug("quit requested", zap.Int64("served", s.served.Load()))
			return nil
		}
		if !s.dispatch(cmd) {
			continue
		}
		if s.out.Len() == 0 {
			continue
		}
		if err := s.writer.WriteFrame(s.out); err != nil {
			s.log.Warn("failed to send reply", zap.Stringer("command", cmd), zap.Error(err))
			continue
		}
		s.trace.Trace("sent reply", zap.Stringer("command", cmd), zap.Int("bytes", s.out.Len()))
	}
}

// dispatch decodes the request for cmd, runs its handler and encodes the
// reply into s.out. It reports false for commands that get no reply.
func (s *Server) dispatch(cmd bmlipc.Command) bool {
	h, ok := handlers[cmd]
	if !ok {
		s.log.Warn("ignoring unknown command", zap.Int32("command", int32(cmd)))
		return false
	}
	req, reply, _ := bmlipc.NewRequest(cmd)
	req.Decode(s.in, s.pool)
	if err := s.in.Err(); err != nil {
		// the zero reply keeps the client from waiting forever
		s.log.Warn("malformed request", zap.Stringer("command", cmd), zap.Error(err))
	} else {
		s.trace.Trace("dispatch", zap.Stringer("command", cmd), zap.Int("bytes", s.in.Len()))
		h(s, req, reply)
		s.served.Inc()
	}

	if err := bmlipc.EncodeReply(s.out, reply); err != nil {
		s.log.Warn("reply does not fit, sending empty reply", zap.Stringer("command", cmd), zap.Error(err))
		_, empty, _ := bmlipc.NewRequest(cmd)
		if err := bmlipc.EncodeReply(s.out, empty); err != nil {
			s.out.Clear()
		}
	}
	return true
}

// Close closes the connection and the listener, removes the socket file and
// shuts the backend down.
func (s *Server) Close() error {
	var err error
	if s.conn != nil {
		err = multierr.Append(err, s.conn.Close())
		s.conn = nil
	}
	err = multierr.Append(err, s.listener.Close())
	if rerr := os.Remove(s.path); rerr != nil && !os.IsNotExist(rerr) {
		err = multierr.Append(err, rerr)
	}
	err = multierr.Append(err, s.api.Shutdown())
	s.trace.LoaderTrace("worker closed", zap.Int("interned", s.pool.Count()))
	s.pool.Reset()
	return err
}
