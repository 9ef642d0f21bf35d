package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GRIDFLOW_"

// env looks variables up in the process environment first, then in the
// dotenv file. A .env value never overrides a variable already set.
type env struct {
	lookup func(string) (string, bool)
	dotenv map[string]string
}

func newEnv(opts Options) (*env, error) {
	e := &env{lookup: opts.LookupEnv}
	if e.lookup == nil {
		e.lookup = os.LookupEnv
	}
	path := opts.EnvFile
	if path == "" {
		path = DefaultEnvFile
	}
	values, err := godotenv.Read(path)
	switch {
	case err == nil:
		e.dotenv = values
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return e, nil
}

func (e *env) get(name string) (string, bool) {
	if v, ok := e.lookup(name); ok {
		return v, true
	}
	v, ok := e.dotenv[name]
	return v, ok
}

type binding struct {
	name string
	set  func(s *Settings, v string) error
}

func str(field func(*Settings) *string) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		*field(s) = v
		return nil
	}
}

func integer(field func(*Settings) *int) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*field(s) = n
		return nil
	}
}

func boolean(field func(*Settings) *bool) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("not a boolean: %q", v)
		}
		*field(s) = b
		return nil
	}
}

func duration(field func(*Settings) *Duration) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(s) = Duration(d)
		return nil
	}
}

var bindings = []binding{
	{"DEFINITIONS", str(func(s *Settings) *string { return &s.Definitions })},
	{"LOG_LEVEL", str(func(s *Settings) *string { return &s.Log.Level })},
	{"LOG_FORMAT", str(func(s *Settings) *string { return &s.Log.Format })},
	{"PERSISTENCE_BACKEND", str(func(s *Settings) *string { return &s.Persistence.Backend })},
	{"PERSISTENCE_DIR", str(func(s *Settings) *string { return &s.Persistence.Dir })},
	{"POSTGRES_DSN", str(func(s *Settings) *string { return &s.Persistence.Postgres.DSN })},
	{"POSTGRES_TABLE", str(func(s *Settings) *string { return &s.Persistence.Postgres.Table })},
	{"S3_ENDPOINT", str(func(s *Settings) *string { return &s.Persistence.S3.Endpoint })},
	{"S3_ACCESS_KEY", str(func(s *Settings) *string { return &s.Persistence.S3.AccessKey })},
	{"S3_SECRET_KEY", str(func(s *Settings) *string { return &s.Persistence.S3.SecretKey })},
	{"S3_BUCKET", str(func(s *Settings) *string { return &s.Persistence.S3.Bucket })},
	{"S3_PREFIX", str(func(s *Settings) *string { return &s.Persistence.S3.Prefix })},
	{"S3_REGION", str(func(s *Settings) *string { return &s.Persistence.S3.Region })},
	{"S3_USE_SSL", boolean(func(s *Settings) *bool { return &s.Persistence.S3.UseSSL })},
	{"MONITOR_INTERVAL", duration(func(s *Settings) *Duration { return &s.Monitor.Interval })},
	{"MONITOR_WORKERS", integer(func(s *Settings) *int { return &s.Monitor.Workers })},
	{"MONITOR_MAX_CONCURRENT_RUNS", integer(func(s *Settings) *int { return &s.Monitor.MaxConcurrentRuns })},
	{"MONITOR_SHUTDOWN_TIMEOUT", duration(func(s *Settings) *Duration { return &s.Monitor.ShutdownTimeout })},
	{"MONITOR_DEGRADED_THRESHOLD", integer(func(s *Settings) *int { return &s.Monitor.DegradedThreshold })},
	{"MONITOR_WEBHOOK_HOST", str(func(s *Settings) *string { return &s.Monitor.WebhookHost })},
	{"MONITOR_WEBHOOK_PORT", integer(func(s *Settings) *int { return &s.Monitor.WebhookPort })},
}

// EnvNames lists every environment variable Load reads.
func EnvNames() []string {
	names := make([]string, len(bindings))
	for i, b := range bindings {
		names[i] = EnvPrefix + b.name
	}
	return names
}

func (s *Settings) applyEnv(e *env) error {
	var errs []error
	for _, b := range bindings {
		name := EnvPrefix + b.name
		v, ok := e.get(name)
		if !ok {
			continue
		}
		if err := b.set(s, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
