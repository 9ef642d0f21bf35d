package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vk/gridflow/internal/settings"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitValidation = 2
)

// Command names.
const (
	CommandList    = "list"
	CommandRun     = "run"
	CommandMonitor = "monitor"
	CommandRuns    = "runs"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func validationError(format string, args ...any) *ExitError {
	return &ExitError{Code: ExitValidation, Message: fmt.Sprintf(format, args...)}
}

// Command is a fully parsed invocation.
type Command struct {
	Name     string
	Settings *settings.Settings

	// Pipeline, Params and StopOnFailure apply to the run command.
	Pipeline      string
	Params        map[string]any
	StopOnFailure bool
}

const usage = `
gridflow - run DAG pipelines on demand or from triggers.

Usage:
  gridflow [global options] <command> [command options] [args]

Commands:
  list                          List pipelines, their steps and triggers.
  run <pipeline> [key=value...] Run a pipeline once.
  monitor                       Watch triggers and run pipelines when they fire.
  runs                          List the run ids kept by the persistence backend.

Global options (accepted before or after the command):
`

// globalFlags are shared by every command. Empty values mean "not set".
type globalFlags struct {
	settingsPath string
	definitions  string
	logLevel     string
	logFormat    string
	backend      string
	stateDir     string
}

func (g *globalFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&g.settingsPath, "settings", "", "Path to a YAML settings file (default gridflow.yaml when present).")
	fs.StringVar(&g.definitions, "definitions", "", "Path to a .hcl file or a directory of them.")
	fs.StringVar(&g.definitions, "d", "", "Path to the definitions (shorthand).")
	fs.StringVar(&g.logLevel, "log-level", "", "Logging level: 'debug', 'info', 'warn' or 'error'.")
	fs.StringVar(&g.logFormat, "log-format", "", "Log output format: 'json', 'text' or 'console'.")
	fs.StringVar(&g.backend, "backend", "", "Persistence backend: 'memory', 'file', 'postgres' or 's3'.")
	fs.StringVar(&g.stateDir, "state-dir", "", "Directory used by the file backend.")
}

func (g *globalFlags) apply(s *settings.Settings) {
	if g.definitions != "" {
		s.Definitions = g.definitions
	}
	if g.logLevel != "" {
		s.Log.Level = strings.ToLower(g.logLevel)
	}
	if g.logFormat != "" {
		s.Log.Format = strings.ToLower(g.logFormat)
	}
	if g.backend != "" {
		s.Persistence.Backend = strings.ToLower(g.backend)
	}
	if g.stateDir != "" {
		s.Persistence.Dir = g.stateDir
	}
}

// monitorFlags override monitor settings only when set on the command line.
type monitorFlags struct {
	interval        time.Duration
	webhookPort     int
	webhookHost     string
	workers         int
	maxConcurrent   int
	shutdownTimeout time.Duration
}

func (m *monitorFlags) bind(fs *flag.FlagSet) {
	fs.DurationVar(&m.interval, "interval", 0, "Trigger polling interval (default 10s).")
	fs.IntVar(&m.webhookPort, "webhook-port", 0, "Webhook server port (default 5000).")
	fs.StringVar(&m.webhookHost, "webhook-host", "", "Webhook server host (default 127.0.0.1).")
	fs.IntVar(&m.workers, "workers", 0, "Number of run workers (default 4).")
	fs.IntVar(&m.maxConcurrent, "max-concurrent", 0, "Concurrent runs allowed per pipeline (default 1).")
	fs.DurationVar(&m.shutdownTimeout, "shutdown-timeout", 0, "How long to wait for active runs on shutdown (default 30s).")
}

func (m *monitorFlags) apply(fs *flag.FlagSet, s *settings.Settings) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "interval":
			s.Monitor.Interval = settings.Duration(m.interval)
		case "webhook-port":
			s.Monitor.WebhookPort = m.webhookPort
		case "webhook-host":
			s.Monitor.WebhookHost = m.webhookHost
		case "workers":
			s.Monitor.Workers = m.workers
		case "max-concurrent":
			s.Monitor.MaxConcurrentRuns = m.maxConcurrent
		case "shutdown-timeout":
			s.Monitor.ShutdownTimeout = settings.Duration(m.shutdownTimeout)
		}
	})
}

// Parse processes command-line arguments. It returns a populated Command,
// a boolean indicating if the program should exit cleanly, or an ExitError.
// lookupEnv is passed to settings.Load; nil means the process environment.
func Parse(args []string, output io.Writer, lookupEnv func(string) (string, bool)) (*Command, bool, error) {
	slog.Debug("CLI parser started.")
	var globals globalFlags

	root := flag.NewFlagSet("gridflow", flag.ContinueOnError)
	root.SetOutput(output)
	root.Usage = func() {
		fmt.Fprint(output, usage)
		root.PrintDefaults()
	}
	globals.bind(root)

	if err := root.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, validationError("%v", err)
	}
	if root.NArg() == 0 {
		slog.Debug("No command provided, printing usage and exiting.")
		root.Usage()
		return nil, true, nil
	}

	cmd := &Command{Name: root.Arg(0)}
	fs := flag.NewFlagSet("gridflow "+cmd.Name, flag.ContinueOnError)
	fs.SetOutput(output)
	globals.bind(fs)

	var (
		monitor    monitorFlags
		paramsJSON string
	)
	switch cmd.Name {
	case CommandList, CommandRuns:
	case CommandRun:
		fs.StringVar(&paramsJSON, "params-json", "", "Run parameters as a JSON object. key=value arguments override its keys.")
		fs.BoolVar(&cmd.StopOnFailure, "stop-on-failure", false, "Skip the remaining steps after the first failure.")
	case CommandMonitor:
		monitor.bind(fs)
	default:
		root.Usage()
		return nil, false, validationError("unknown command %q", cmd.Name)
	}

	positional, err := parseInterleaved(fs, root.Args()[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, validationError("%v", err)
	}
	slog.Debug("Arguments parsed successfully.", "command", cmd.Name)

	switch cmd.Name {
	case CommandRun:
		if len(positional) == 0 {
			return nil, false, validationError("run: pipeline name is required")
		}
		cmd.Pipeline = positional[0]
		if cmd.Params, err = parseParams(paramsJSON, positional[1:]); err != nil {
			return nil, false, validationError("run: %v", err)
		}
	default:
		if len(positional) > 0 {
			return nil, false, validationError("%s: unexpected arguments %q", cmd.Name, positional)
		}
	}

	s, err := settings.Load(settings.Options{File: globals.settingsPath, LookupEnv: lookupEnv})
	if err != nil {
		return nil, false, validationError("%v", err)
	}
	globals.apply(s)
	if cmd.Name == CommandMonitor {
		monitor.apply(fs, s)
	}
	if err := s.Validate(); err != nil {
		return nil, false, validationError("%v", err)
	}
	cmd.Settings = s

	slog.Debug("CLI parser finished successfully.", "command", cmd.Name)
	return cmd, false, nil
}

// parseInterleaved lets flags follow positional arguments.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}
