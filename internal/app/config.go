package app

import (
	"errors"
	"io"
	"os"

	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/internal/settings"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Settings *settings.Settings

	// Out receives step output. Defaults to os.Stdout.
	Out io.Writer
	// LogW receives log records. Defaults to os.Stderr.
	LogW io.Writer

	// Modules replaces the compiled-in step modules when non-empty.
	Modules []registry.Module
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.Settings == nil {
		return nil, errors.New("settings are required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.LogW == nil {
		cfg.LogW = os.Stderr
	}
	if len(cfg.Modules) == 0 {
		cfg.Modules = coreModules
	}
	return &cfg, nil
}
