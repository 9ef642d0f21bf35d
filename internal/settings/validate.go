package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ParseLevel maps a level name to its slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", name)
}

// Validate reports every invalid value at once.
func (s *Settings) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch s.Log.Format {
	case FormatJSON, FormatText, FormatConsole:
	default:
		add("invalid log format %q: must be 'json', 'text', or 'console'", s.Log.Format)
	}

	p := s.Persistence
	switch p.Backend {
	case BackendMemory:
	case BackendFile:
		if p.Dir == "" {
			add("persistence.dir is required for the file backend")
		}
	case BackendPostgres:
		if p.Postgres.DSN == "" {
			add("persistence.postgres.dsn is required for the postgres backend")
		}
	case BackendS3:
		if p.S3.Endpoint == "" || p.S3.Bucket == "" {
			add("persistence.s3.endpoint and persistence.s3.bucket are required for the s3 backend")
		}
	default:
		add("invalid persistence backend %q: must be one of memory, file, postgres, s3", p.Backend)
	}

	m := s.Monitor
	if m.Interval <= 0 {
		add("monitor.interval must be positive")
	}
	if m.ShutdownTimeout <= 0 {
		add("monitor.shutdown_timeout must be positive")
	}
	if m.Workers < 1 {
		add("monitor.workers must be at least 1")
	}
	if m.MaxConcurrentRuns < 1 {
		add("monitor.max_concurrent_runs must be at least 1")
	}
	if m.DegradedThreshold < 1 {
		add("monitor.degraded_threshold must be at least 1")
	}
	if m.WebhookPort < 0 || m.WebhookPort > 65535 {
		add("monitor.webhook_port %d is out of range", m.WebhookPort)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
}
