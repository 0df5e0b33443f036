package bmlhost

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	bml "github.com/machinefabric/bml-go"
	"github.com/machinefabric/bml-go/bmlipc"
	"github.com/machinefabric/bml-go/machine"
)

type rawClient struct {
	conn   net.Conn
	reader *bmlipc.FrameReader
	writer *bmlipc.FrameWriter
	out    *bmlipc.Buffer
	in     *bmlipc.Buffer
	remote bmlipc.Hello
}

// startServer listens on a fresh socket and runs Accept and Serve in the
// background. The result of Serve is delivered on the returned channel.
func startServer(t *testing.T) (*Server, string, <-chan error) {
	t.Helper()
	dir, err := os.MkdirTemp("", "bmlhost")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "worker.sock")

	api := bml.NewNative(machine.NewMux(machine.NewBuiltinLoader(nil), nil), nil)
	// the loop can outlive the test, so it must not log through t
	srv, err := Listen(path, api, Options{Logger: zap.NewNop()})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		if err := srv.Accept(); err != nil {
			done <- err
			return
		}
		done <- srv.Serve()
	}()
	return srv, path, done
}

func dial(t *testing.T, path string) *rawClient {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &rawClient{
		conn:   conn,
		reader: bmlipc.NewFrameReader(conn),
		writer: bmlipc.NewFrameWriter(conn),
		out:    bmlipc.NewBuffer(bmlipc.DefaultMaxFrame),
		in:     bmlipc.NewBuffer(bmlipc.DefaultMaxFrame),
	}
	c.remote, _, err = bmlipc.HandshakeInitiate(c.reader, c.writer, bmlipc.Hello{PID: os.Getpid()})
	require.NoError(t, err)
	return c
}

func (c *rawClient) call(t *testing.T, req bmlipc.Request, reply bmlipc.Message) {
	t.Helper()
	require.NoError(t, bmlipc.EncodeRequest(c.out, req))
	require.NoError(t, c.writer.WriteFrame(c.out))
	c.receive(t, reply)
}

func (c *rawClient) receive(t *testing.T, reply bmlipc.Message) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, c.reader.ReadFrame(c.in))
	reply.Decode(c.in, nil)
	require.NoError(t, c.in.Err())
}

func (c *rawClient) open(t *testing.T, path string) bmlipc.Handle {
	t.Helper()
	var reply bmlipc.StatusReply
	c.call(t, &bmlipc.OpenRequest{Path: path}, &reply)
	return bmlipc.Handle(uint32(reply.Value))
}

func waitServe(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("worker loop did not return")
		return nil
	}
}

// TEST601: every command except quit has a handler and a request shape
func Test601_handlers_cover_commands(t *testing.T) {
	for _, cmd := range bmlipc.Commands() {
		_, _, ok := bmlipc.NewRequest(cmd)
		if cmd == bmlipc.CommandQuit {
			assert.NotContains(t, handlers, cmd)
			continue
		}
		assert.Contains(t, handlers, cmd, cmd.String())
		assert.True(t, ok, cmd.String())
	}
	assert.Len(t, handlers, len(bmlipc.Commands())-1)
}

// TEST602: the worker announces itself in HELLO and serves requests in order
func Test602_serve_requests(t *testing.T) {
	srv, path, done := startServer(t)
	c := dial(t, path)

	assert.Equal(t, srv.ID(), c.remote.WorkerID)
	assert.Equal(t, os.Getpid(), c.remote.PID)
	assert.Equal(t, "builtin", c.remote.Loader)

	bmh := c.open(t, "builtin:gain")
	require.False(t, bmh.IsZero())

	var info bmlipc.InfoReply
	c.call(t, &bmlipc.MachineInfoRequest{Handle: bmh, Key: machine.PropShortName}, &info)
	assert.Equal(t, machine.StringValue("Gain"), info.Value)

	var created bmlipc.StatusReply
	c.call(t, &bmlipc.HandleRequest{Cmd: bmlipc.CommandNew, Handle: bmh}, &created)
	bm := bmlipc.Handle(uint32(created.Value))
	var ack bmlipc.StatusReply
	c.call(t, &bmlipc.InitRequest{Handle: bm}, &ack)

	var work bmlipc.WorkReply
	c.call(t, &bmlipc.WorkRequest{Cmd: bmlipc.CommandWorkM2S, Handle: bm, Samples: []float32{1, -1}, Mode: machine.ModeReadWrite}, &work)
	assert.True(t, work.Status)
	assert.Equal(t, []float32{1, 1, -1, -1}, work.Samples)

	var desc bmlipc.DescribeReply
	c.call(t, &bmlipc.DescribeRequest{Cmd: bmlipc.CommandDescribeGlobalValue, Handle: bmh, Param: 0, Value: 0x80}, &desc)
	assert.True(t, desc.Found)
	assert.Equal(t, "200%", desc.Text)

	c.conn.Close()
	assert.NoError(t, waitServe(t, done), "a closed client ends the loop cleanly")
	assert.Equal(t, 6, srv.Served())
	require.NoError(t, srv.Close())
}

// TEST603: an unknown command gets no reply and the next request is served
func Test603_unknown_command_skipped(t *testing.T) {
	_, path, _ := startServer(t)
	c := dial(t, path)

	c.out.Clear()
	c.out.WriteInt(999)
	require.NoError(t, c.writer.WriteFrame(c.out))

	assert.False(t, c.open(t, "builtin:tone").IsZero(), "the first reply belongs to open")
}

// TEST604: a message too short to hold a command id is skipped
func Test604_short_message_skipped(t *testing.T) {
	_, path, _ := startServer(t)
	c := dial(t, path)

	require.NoError(t, c.writer.WritePayload([]byte{1, 0}))
	assert.False(t, c.open(t, "builtin:gain").IsZero())
}

// TEST605: a malformed request still gets a zero reply
func Test605_malformed_request_zero_reply(t *testing.T) {
	srv, path, _ := startServer(t)
	c := dial(t, path)

	c.out.Clear()
	c.out.WriteInt(int32(bmlipc.CommandOpen))
	payload := append(bytes.Clone(c.out.Bytes()), "builtin:gain"...)
	require.NoError(t, c.writer.WritePayload(payload))

	var reply bmlipc.StatusReply
	c.receive(t, &reply)
	assert.Zero(t, reply.Value, "an unterminated path opens nothing")

	var work bmlipc.WorkReply
	c.call(t, &bmlipc.WorkRequest{Cmd: bmlipc.CommandWork, Handle: 12345, Samples: []float32{1}, Mode: machine.ModeReadWrite}, &work)
	assert.False(t, work.Status, "an unknown handle does no work")

	assert.Equal(t, 1, srv.Served())
}

// TEST606: quit ends the loop and Close removes the socket
func Test606_quit(t *testing.T) {
	srv, path, done := startServer(t)
	c := dial(t, path)
	c.open(t, "builtin:gain")

	c.out.Clear()
	c.out.WriteInt(int32(bmlipc.CommandQuit))
	require.NoError(t, c.writer.WriteFrame(c.out))
	require.NoError(t, waitServe(t, done))

	assert.FileExists(t, path)
	require.NoError(t, srv.Close())
	assert.NoFileExists(t, path)
	types, instances := srv.api.Stats()
	assert.Zero(t, types)
	assert.Zero(t, instances)
}

// TEST607: Listen replaces a stale socket file
func Test607_listen_replaces_stale_socket(t *testing.T) {
	dir, err := os.MkdirTemp("", "bmlhost")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "stale.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	api := bml.NewNative(machine.NewMux(machine.NewBuiltinLoader(nil), nil), nil)
	srv, err := Listen(path, api, Options{})
	require.NoError(t, err)
	require.NoError(t, srv.Close())
}

// TEST608: Main requires exactly one socket path
func Test608_main_usage(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, ExitFailure, Main(nil, &stderr))
	assert.Contains(t, stderr.String(), "usage:")

	stderr.Reset()
	assert.Equal(t, ExitFailure, Main([]string{"a", "b"}, &stderr))
	assert.Contains(t, stderr.String(), "<socket-path>")
}

// TEST609: a named native library must load, the default one is optional
func Test609_new_loader(t *testing.T) {
	log := zaptest.NewLogger(t)

	loader, err := NewLoader(log, func(string) string { return "" })
	require.NoError(t, err)
	_, err = loader.Open("builtin:gain")
	assert.NoError(t, err)

	_, err = NewLoader(log, func(k string) string {
		if k == machine.EnvNativeLibrary {
			return "/no/such/libbml.so"
		}
		return ""
	})
	assert.Error(t, err)
}

// TEST610: the worker's first handles carry a generation taken from its id
func Test610_generation_seed(t *testing.T) {
	assert.Equal(t, uint16(0x1234), generationSeed(uuid.MustParse("12345678-9abc-4def-8123-456789abcdef")))

	srv, path, _ := startServer(t)
	c := dial(t, path)
	bmh := c.open(t, "builtin:gain")
	require.False(t, bmh.IsZero())

	id := uuid.MustParse(srv.ID())
	want := generationSeed(id) & bmlipc.MaxHandleGeneration
	if want == 0 {
		want = 1
	}
	assert.Equal(t, want, bmh.Generation())
}
