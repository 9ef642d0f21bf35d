// Package settings resolves gridflow's runtime settings. Values are layered
// from built-in defaults, a YAML settings file, a .env file and GRIDFLOW_*
// environment variables. Command-line flags are applied on top by the cli
// package.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultFile is read when no settings path is given. It may be absent.
	DefaultFile = "gridflow.yaml"
	// DefaultEnvFile is the dotenv file consulted for GRIDFLOW_* values.
	DefaultEnvFile = ".env"
)

// Backend names accepted by persistence.backend.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Log formats accepted by log.format.
const (
	FormatJSON    = "json"
	FormatText    = "text"
	FormatConsole = "console"
)

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"10s\"", node.Line)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

type Settings struct {
	// Definitions is a .hcl file or a directory of them.
	Definitions string              `yaml:"definitions"`
	Log         LogSettings         `yaml:"log"`
	Persistence PersistenceSettings `yaml:"persistence"`
	Monitor     MonitorSettings     `yaml:"monitor"`
}

type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PersistenceSettings struct {
	Backend  string           `yaml:"backend"`
	Dir      string           `yaml:"dir"`
	Postgres PostgresSettings `yaml:"postgres"`
	S3       S3Settings       `yaml:"s3"`
}

type PostgresSettings struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type S3Settings struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
	Region    string `yaml:"region"`
}

type MonitorSettings struct {
	Interval          Duration `yaml:"interval"`
	Workers           int      `yaml:"workers"`
	MaxConcurrentRuns int      `yaml:"max_concurrent_runs"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
	DegradedThreshold int      `yaml:"degraded_threshold"`
	WebhookHost       string   `yaml:"webhook_host"`
	// WebhookPort 0 binds an ephemeral port.
	WebhookPort int `yaml:"webhook_port"`
}

// WebhookAddr is the listen address of the webhook server.
func (m MonitorSettings) WebhookAddr() string {
	return net.JoinHostPort(m.WebhookHost, strconv.Itoa(m.WebhookPort))
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		Definitions: "pipelines",
		Log: LogSettings{
			Level:  "info",
			Format: FormatConsole,
		},
		Persistence: PersistenceSettings{
			Backend: BackendFile,
			Dir:     ".gridflow/state",
			S3: S3Settings{
				Bucket: "gridflow",
				Region: "us-east-1",
			},
		},
		Monitor: MonitorSettings{
			Interval:          Duration(10 * time.Second),
			Workers:           4,
			MaxConcurrentRuns: 1,
			ShutdownTimeout:   Duration(30 * time.Second),
			DegradedThreshold: 5,
			WebhookHost:       "127.0.0.1",
			WebhookPort:       5000,
		},
	}
}

// Options controls where Load looks for its layers.
type Options struct {
	// File is an explicit settings file; it must exist. When empty,
	// DefaultFile is used if present.
	File string
	// EnvFile defaults to DefaultEnvFile. A missing file is ignored.
	EnvFile string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load resolves settings from defaults, the YAML file, the dotenv file and
// the environment, in that order, and validates the result.
func Load(opts Options) (*Settings, error) {
	s := Default()

	path, explicit := opts.File, opts.File != ""
	if !explicit {
		path = DefaultFile
	}
	if err := s.readFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	env, err := newEnv(opts)
	if err != nil {
		return nil, err
	}
	if err := s.applyEnv(env); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	return s.decode(path, data)
}

func (s *Settings) decode(name string, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse settings %s: %w", name, err)
	}
	return nil
}
