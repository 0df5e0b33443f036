package bml

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/bml-go/logging"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TEST521: the default configuration is valid and derives per-session socket paths
func Test521_default_config(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	cfg.SocketDir = "/tmp"

	assert.Equal(t, "/tmp/bml.42", cfg.SocketPathFor(42, 0))
	assert.Equal(t, "/tmp/bml.42.3", cfg.SocketPathFor(42, 3))

	cfg.SocketPath = "/run/fixed.sock"
	assert.Equal(t, "/run/fixed.sock", cfg.SocketPathFor(42, 3))
}

// TEST522: a YAML file overrides the defaults it names
func Test522_load_yaml(t *testing.T) {
	path := writeConfig(t, "bml.yaml", `
worker_command: "/opt/bml/bmlhost --quiet"
socket_prefix: session
connect_retries: 5
connect_backoff: 250ms
reply_timeout: 2s
max_frame: 128KiB
debug: 3
worker_env:
  B: two
  A: one
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/bml/bmlhost --quiet", cfg.WorkerCommand)
	assert.Equal(t, "session", cfg.SocketPrefix)
	assert.Equal(t, 5, cfg.ConnectRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.ConnectBackoff)
	assert.Equal(t, 2*time.Second, cfg.ReplyTimeout)
	assert.Equal(t, 128*1024, cfg.MaxFrame)
	assert.Equal(t, logging.DebugLoader|logging.DebugProtocol, cfg.Debug)
	assert.Equal(t, []string{"A=one", "B=two"}, cfg.WorkerEnv)
	assert.Equal(t, DefaultConfig().StringPoolSize, cfg.StringPoolSize)
}

// TEST523: a TOML file is accepted with an integer frame limit
func Test523_load_toml(t *testing.T) {
	path := writeConfig(t, "bml.toml", `
worker_command = "bmlhost"
attach = true
socket_path = "/tmp/attached.sock"
max_frame = 4096
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Attach)
	assert.Equal(t, "/tmp/attached.sock", cfg.SocketPath)
	assert.Equal(t, 4096, cfg.MaxFrame)
}

// TEST524: unknown keys and out-of-range values are rejected by the schema
func Test524_schema_rejects_bad_files(t *testing.T) {
	for name, body := range map[string]string{
		"unknown.yaml":  "worker_cmd: bmlhost\n",
		"retries.yaml":  "connect_retries: -1\n",
		"frame.yaml":    "max_frame: 16\n",
		"prefix.yaml":   "socket_prefix: \"a/b\"\n",
		"duration.toml": "reply_timeout = \"soon\"\n",
	} {
		_, err := LoadConfig(writeConfig(t, name, body))
		var cerr *ConfigError
		require.ErrorAs(t, err, &cerr, name)
		assert.NotEmpty(t, cerr.Details, name)
	}

	_, err := LoadConfig(writeConfig(t, "bml.ini", "x=1\n"))
	assert.ErrorContains(t, err, "unsupported file extension")
}

// TEST525: the environment switches to attach mode and overrides the worker
func Test525_apply_env(t *testing.T) {
	env := map[string]string{
		logging.EnvDebug: "2",
		EnvIPCDebug:      "1",
		EnvWorker:        "valgrind bmlhost",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.True(t, cfg.Attach)
	assert.Equal(t, DebugSocketPath, cfg.SocketPath)
	assert.Equal(t, "valgrind bmlhost", cfg.WorkerCommand)
	assert.Equal(t, logging.DebugProtocol, cfg.Debug)
}

// TEST526: the worker command is split like a shell would and gets the socket appended
func Test526_worker_argv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerCommand = `env "BML_DEBUG=1" bmlhost`
	argv, err := cfg.WorkerArgv("/tmp/bml.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"env", "BML_DEBUG=1", "bmlhost", "/tmp/bml.1"}, argv)

	cfg.WorkerCommand = "   "
	_, err = cfg.WorkerArgv("/tmp/bml.1")
	assert.Error(t, err)
	assert.Error(t, cfg.Validate())

	cfg.Attach = true
	assert.NoError(t, cfg.Validate(), "attach mode needs no worker command")
}
