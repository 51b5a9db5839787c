// Package config provides configuration management for the etlgraph CLI.
package config

import "time"

// Config holds all CLI configuration options.
type Config struct {
	// Paths are the script files and directories extracted when a command
	// is given none.
	Paths        []string    `koanf:"paths"`
	Include      []string    `koanf:"include"`
	Exclude      []string    `koanf:"exclude"`
	Dialect      string      `koanf:"dialect" validate:"required"`
	Technology   string      `koanf:"technology"`
	StatePath    string      `koanf:"state_path" validate:"required"`
	Workers      int         `koanf:"workers" validate:"gte=0"`
	OutputFormat string      `koanf:"output" validate:"oneof=auto text json"`
	LogLevel     string      `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat    string      `koanf:"log_format" validate:"oneof=text json"`
	Serve        ServeConfig `koanf:"serve"`
	Watch        WatchConfig `koanf:"watch"`
}

// ServeConfig holds configuration for the API server.
type ServeConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

// WatchConfig holds configuration for file watching.
type WatchConfig struct {
	Debounce time.Duration `koanf:"debounce" validate:"gte=0"`
}

// Default configuration values.
const (
	DefaultDialect   = "oracle"
	DefaultStateFile = ".etlgraph/state.db"
	DefaultOutput    = "auto" // TTY=text, otherwise json
	DefaultLogLevel  = "warn"
	DefaultLogFormat = "text"
	DefaultAddr      = "127.0.0.1:8766"
	DefaultDebounce  = 100 * time.Millisecond
)

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		Dialect:      DefaultDialect,
		StatePath:    DefaultStateFile,
		OutputFormat: DefaultOutput,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
		Serve:        ServeConfig{Addr: DefaultAddr},
		Watch:        WatchConfig{Debounce: DefaultDebounce},
	}
}
