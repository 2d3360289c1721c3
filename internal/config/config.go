package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
)

// Settings holds global execution parameters.
type Settings struct {
	// MaxParallel bounds the worker pool used by parallel mode.
	MaxParallel int `yaml:"max_parallel,omitempty" validate:"omitempty,min=1,max=32"`
	// StepTimeoutSeconds bounds each step attempt.
	StepTimeoutSeconds int `yaml:"step_timeout,omitempty" validate:"omitempty,min=1,max=3600"`
	// MaxRetries is the default retry ceiling for steps that do not set
	// their own.
	MaxRetries int `yaml:"max_retries,omitempty" validate:"omitempty,min=0,max=10"`
	// EventBuffer is the capacity of the streaming event sink.
	EventBuffer int `yaml:"event_buffer,omitempty" validate:"omitempty,min=1,max=4096"`
	// HistoryPath locates the execution history database. Empty disables
	// persistence.
	HistoryPath string `yaml:"history_path,omitempty"`
	// LogLevel selects the zerolog level.
	LogLevel string `yaml:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
}

// Config is the full configuration document.
type Config struct {
	Version  string   `yaml:"version,omitempty"`
	Settings Settings `yaml:"settings,omitempty"`
}

// StepTimeout returns the step timeout as a duration.
func (s Settings) StepTimeout() time.Duration {
	return time.Duration(s.StepTimeoutSeconds) * time.Second
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Settings: Settings{
			MaxParallel:        4,
			StepTimeoutSeconds: 60,
			MaxRetries:         3,
			EventBuffer:        64,
			LogLevel:           "info",
		},
	}
}

// Load parses and validates a YAML configuration file, filling unset
// fields from the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, maestroerrors.NewValidationError("config", "malformed configuration file", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, maestroerrors.NewValidationError("config", "configuration failed validation", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when given, otherwise returns defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}
