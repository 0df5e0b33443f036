package bml

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	units "github.com/docker/go-units"
	"github.com/google/shlex"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/machinefabric/bml-go/bmlipc"
	"github.com/machinefabric/bml-go/logging"
	"github.com/machinefabric/bml-go/strpool"
)

// Environment variables read by ConfigFromEnv.
const (
	// EnvIPCDebug selects DebugSocketPath and attaches to a worker started by hand.
	EnvIPCDebug = "BMLIPC_DEBUG"
	// EnvConfig names a YAML or TOML configuration file.
	EnvConfig = "BML_CONFIG"
	// EnvWorker overrides the worker command line.
	EnvWorker = "BML_WORKER"
)

// DebugSocketPath is the fixed socket used in attach mode.
const DebugSocketPath = "bml.sock"

//go:embed config.schema.json
var configSchema []byte

// Config controls a Session and the worker it supervises.
type Config struct {
	// WorkerCommand is the worker command line; the socket path is appended
	// as the last argument.
	WorkerCommand string
	// WorkerEnv is added to the worker environment as KEY=VALUE entries.
	WorkerEnv []string

	SocketDir    string
	SocketPrefix string
	// SocketPath overrides the derived "<dir>/<prefix>.<pid>" path.
	SocketPath string
	// Attach connects to an already running worker instead of spawning one.
	Attach bool

	ConnectRetries int
	ConnectBackoff time.Duration
	// ReplyTimeout bounds the wait for each reply; zero waits forever.
	ReplyTimeout time.Duration

	MaxFrame       int
	StringPoolSize int

	Debug  logging.DebugFlags
	Logger *zap.Logger
}

// DefaultConfig returns the stock session configuration.
func DefaultConfig() Config {
	return Config{
		WorkerCommand:  "bmlhost",
		SocketDir:      os.TempDir(),
		SocketPrefix:   "bml",
		ConnectRetries: 3,
		ConnectBackoff: time.Second,
		ReplyTimeout:   30 * time.Second,
		MaxFrame:       bmlipc.DefaultMaxFrame,
		StringPoolSize: strpool.DefaultCapacity,
	}
}

// ConfigError reports an invalid configuration file.
type ConfigError struct {
	Path    string
	Details []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Path, strings.Join(e.Details, "; "))
}

type fileConfig struct {
	WorkerCommand  *string           `yaml:"worker_command" toml:"worker_command"`
	SocketDir      *string           `yaml:"socket_dir" toml:"socket_dir"`
	SocketPrefix   *string           `yaml:"socket_prefix" toml:"socket_prefix"`
	SocketPath     *string           `yaml:"socket_path" toml:"socket_path"`
	Attach         *bool             `yaml:"attach" toml:"attach"`
	ConnectRetries *int              `yaml:"connect_retries" toml:"connect_retries"`
	ConnectBackoff *string           `yaml:"connect_backoff" toml:"connect_backoff"`
	ReplyTimeout   *string           `yaml:"reply_timeout" toml:"reply_timeout"`
	MaxFrame       interface{}       `yaml:"max_frame" toml:"max_frame"`
	StringPoolSize *int              `yaml:"string_pool_size" toml:"string_pool_size"`
	Debug          *uint             `yaml:"debug" toml:"debug"`
	WorkerEnv      map[string]string `yaml:"worker_env" toml:"worker_env"`
}

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read configuration: %w", err)
	}
	if err := cfg.merge(path, data); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ConfigFromEnv loads BML_CONFIG when set and then applies the environment.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv(EnvConfig); path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv applies BML_DEBUG, BMLIPC_DEBUG and BML_WORKER.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(logging.EnvDebug); v != "" {
		c.Debug = logging.ParseDebugFlags(v)
	}
	if getenv(EnvIPCDebug) != "" {
		c.Attach = true
		c.SocketPath = DebugSocketPath
	}
	if v := getenv(EnvWorker); v != "" {
		c.WorkerCommand = v
	}
}

func (c *Config) merge(path string, data []byte) error {
	var doc map[string]interface{}
	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return &ConfigError{Path: path, Details: []string{err.Error()}}
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return &ConfigError{Path: path, Details: []string{err.Error()}}
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return &ConfigError{Path: path, Details: []string{err.Error()}}
		}
		if _, err := toml.Decode(string(data), &fc); err != nil {
			return &ConfigError{Path: path, Details: []string{err.Error()}}
		}
	default:
		return &ConfigError{Path: path, Details: []string{"unsupported file extension " + filepath.Ext(path)}}
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	if err := validateConfigDocument(path, doc); err != nil {
		return err
	}
	return c.apply(path, fc)
}

func validateConfigDocument(path string, doc map[string]interface{}) error {
	schemaLoader := gojsonschema.NewBytesLoader(configSchema)
	documentLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return &ConfigError{Path: path, Details: []string{fmt.Sprintf("schema validation failed: %v", err)}}
	}
	if result.Valid() {
		return nil
	}
	var details []string
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return &ConfigError{Path: path, Details: details}
}

func (c *Config) apply(path string, fc fileConfig) error {
	bad := func(field string, err error) error {
		return &ConfigError{Path: path, Details: []string{fmt.Sprintf("%s: %v", field, err)}}
	}
	if fc.WorkerCommand != nil {
		c.WorkerCommand = *fc.WorkerCommand
	}
	if fc.SocketDir != nil {
		c.SocketDir = *fc.SocketDir
	}
	if fc.SocketPrefix != nil {
		c.SocketPrefix = *fc.SocketPrefix
	}
	if fc.SocketPath != nil {
		c.SocketPath = *fc.SocketPath
	}
	if fc.Attach != nil {
		c.Attach = *fc.Attach
	}
	if fc.ConnectRetries != nil {
		c.ConnectRetries = *fc.ConnectRetries
	}
	if fc.ConnectBackoff != nil {
		d, err := time.ParseDuration(*fc.ConnectBackoff)
		if err != nil {
			return bad("connect_backoff", err)
		}
		c.ConnectBackoff = d
	}
	if fc.ReplyTimeout != nil {
		d, err := time.ParseDuration(*fc.ReplyTimeout)
		if err != nil {
			return bad("reply_timeout", err)
		}
		c.ReplyTimeout = d
	}
	switch v := fc.MaxFrame.(type) {
	case nil:
	case string:
		n, err := units.RAMInBytes(v)
		if err != nil {
			return bad("max_frame", err)
		}
		c.MaxFrame = int(n)
	case int:
		c.MaxFrame = v
	case int64:
		c.MaxFrame = int(v)
	default:
		return bad("max_frame", fmt.Errorf("unsupported value %v", v))
	}
	if fc.StringPoolSize != nil {
		c.StringPoolSize = *fc.StringPoolSize
	}
	if fc.Debug != nil {
		c.Debug = logging.DebugFlags(*fc.Debug)
	}
	if len(fc.WorkerEnv) > 0 {
		keys := make([]string, 0, len(fc.WorkerEnv))
		for k := range fc.WorkerEnv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			c.WorkerEnv = append(c.WorkerEnv, k+"="+fc.WorkerEnv[k])
		}
	}
	return c.Validate()
}

// Validate checks the values that cannot be clamped.
func (c Config) Validate() error {
	if !c.Attach && strings.TrimSpace(c.WorkerCommand) == "" {
		return fmt.Errorf("bml: worker command is required unless attaching")
	}
	if c.ConnectRetries < 0 {
		return fmt.Errorf("bml: connect retries must not be negative")
	}
	if c.ConnectBackoff < 0 || c.ReplyTimeout < 0 {
		return fmt.Errorf("bml: durations must not be negative")
	}
	if c.SocketPath == "" && c.SocketPrefix == "" {
		return fmt.Errorf("bml: socket prefix or path is required")
	}
	return nil
}

// WorkerArgv splits the worker command line and appends the socket path.
func (c Config) WorkerArgv(socketPath string) ([]string, error) {
	argv, err := shlex.Split(c.WorkerCommand)
	if err != nil {
		return nil, fmt.Errorf("bml: parse worker command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("bml: empty worker command")
	}
	return append(argv, socketPath), nil
}

// SocketPathFor returns the socket path of the seq-th session of process pid.
// The first session uses "<dir>/<prefix>.<pid>", later ones add ".<seq>".
func (c Config) SocketPathFor(pid int, seq int64) string {
	if c.SocketPath != "" {
		return c.SocketPath
	}
	name := fmt.Sprintf("%s.%d", c.SocketPrefix, pid)
	if seq > 0 {
		name = fmt.Sprintf("%s.%d", name, seq)
	}
	return filepath.Join(c.SocketDir, name)
}
