// Package config provides configuration management for mediactl.
//
// Values are layered: DefaultConfig, then an optional TOML file, then
// command-line flags.
package config

import (
	"time"

	"github.com/randomizedcoder/go-mediactl/internal/process"
	"github.com/randomizedcoder/go-mediactl/internal/supervisor"
)

// Config holds all configuration options for the controller.
type Config struct {
	// Worker
	WorkerPath       string // empty = search
	WorkDir          string
	ThumbnailSize    int
	ThumbnailQuality int

	// Supervision
	AutoRestart    bool
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	BackoffJitter  time.Duration
	ConnectTimeout time.Duration
	StopGrace      time.Duration

	// Commands
	RetryAttempts int
	RetryBase     time.Duration

	// Observability
	MetricsAddr string // empty = disabled
	MetricsDump bool
	Verbose     bool
	LogFormat   string // json, text
	LogLevel    string
	StderrRate  float64 // lines/sec logged, 0 = unlimited

	// Dashboard
	TUIEnabled bool

	// Diagnostic modes
	PrintCmd      bool
	Check         bool
	SkipPreflight bool

	// ConfigPath is the TOML file the config was loaded from, if any.
	ConfigPath string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	backoff := supervisor.DefaultBackoffConfig()
	return &Config{
		// Worker
		ThumbnailSize:    process.DefaultThumbnailSize,
		ThumbnailQuality: process.DefaultThumbnailQuality,

		// Supervision
		AutoRestart:    true,
		BackoffBase:    backoff.Base,
		BackoffMax:     backoff.Max,
		BackoffJitter:  backoff.JitterCeiling,
		ConnectTimeout: supervisor.DefaultConnectTimeout,
		StopGrace:      supervisor.DefaultStopGrace,

		// Commands
		RetryAttempts: 3,
		RetryBase:     100 * time.Millisecond,

		// Observability
		MetricsAddr: "",
		Verbose:     false,
		LogFormat:   "json",
		LogLevel:    "info",
		StderrRate:  20,

		TUIEnabled: false,
	}
}

// ApplyCheckMode modifies config for -check mode.
func ApplyCheckMode(cfg *Config) {
	cfg.Verbose = true
	cfg.TUIEnabled = false
	cfg.SkipPreflight = false
}
