package controller

import (
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-mediactl/internal/dispatch"
	"github.com/randomizedcoder/go-mediactl/internal/logging"
	"github.com/randomizedcoder/go-mediactl/internal/process"
	"github.com/randomizedcoder/go-mediactl/internal/supervisor"
)

const (
	MinThumbnailSize = 1
	MaxThumbnailSize = 1000

	MinThumbnailQuality = 1
	MaxThumbnailQuality = 100

	DefaultRestartDelay    = time.Second
	DefaultMaxRestartDelay = 30 * time.Second

	// DefaultVolumeStep is used by VolumeUp and VolumeDown when step is 0.
	DefaultVolumeStep = 3
)

// Options configures a Controller. Start from DefaultOptions; a zero
// ThumbnailSize, ThumbnailQuality or MaxRestartDelay selects the default.
type Options struct {
	ThumbnailSize    int
	ThumbnailQuality int
	AutoRestart      bool

	RestartDelay    time.Duration // floor 0
	MaxRestartDelay time.Duration // 0 selects the default, floored to RestartDelay
	RestartJitter   time.Duration
	JitterSeed      int64 // 0 seeds from the clock

	ExecutablePath string
	WorkDir        string

	ConnectTimeout time.Duration
	StopGrace      time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration

	// StderrRate limits logged worker stderr lines per second. 0 disables
	// the limit.
	StderrRate float64
	Verbose    bool

	Version        string
	RuntimeMetrics bool

	Logger *slog.Logger

	// Builder replaces the worker command builder. Resolver and the
	// executable options are ignored when set.
	Builder  supervisor.ProcessBuilder
	Resolver process.Resolver
	Clock    supervisor.Clock
}

// DefaultOptions returns Options with the documented defaults.
func DefaultOptions() Options {
	backoff := supervisor.DefaultBackoffConfig()
	return Options{
		ThumbnailSize:    process.DefaultThumbnailSize,
		ThumbnailQuality: process.DefaultThumbnailQuality,
		AutoRestart:      true,
		RestartDelay:     backoff.Base,
		MaxRestartDelay:  backoff.Max,
		RestartJitter:    backoff.JitterCeiling,
		ConnectTimeout:   supervisor.DefaultConnectTimeout,
		StopGrace:        supervisor.DefaultStopGrace,
		RetryAttempts:    dispatch.DefaultMaxAttempts,
		RetryBaseDelay:   dispatch.DefaultBaseRetryDelay,
		StderrRate:       logging.DefaultStderrRate,
	}
}

// normalize clamps every field into its accepted range.
func (o Options) normalize() Options {
	if o.ThumbnailSize == 0 {
		o.ThumbnailSize = process.DefaultThumbnailSize
	}
	o.ThumbnailSize = clamp(o.ThumbnailSize, MinThumbnailSize, MaxThumbnailSize)

	if o.ThumbnailQuality == 0 {
		o.ThumbnailQuality = process.DefaultThumbnailQuality
	}
	o.ThumbnailQuality = clamp(o.ThumbnailQuality, MinThumbnailQuality, MaxThumbnailQuality)

	o.RestartDelay = max(o.RestartDelay, 0)
	if o.MaxRestartDelay == 0 {
		o.MaxRestartDelay = DefaultMaxRestartDelay
	}
	o.MaxRestartDelay = max(o.MaxRestartDelay, o.RestartDelay)
	o.RestartJitter = max(o.RestartJitter, 0)
	o.RetryBaseDelay = max(o.RetryBaseDelay, 0)
	o.StderrRate = max(o.StderrRate, 0)

	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) backoffConfig() supervisor.BackoffConfig {
	return supervisor.BackoffConfig{
		Base:          o.RestartDelay,
		Max:           o.MaxRestartDelay,
		JitterCeiling: o.RestartJitter,
	}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

// volumeStep maps 0 to DefaultVolumeStep and clamps to 1..100.
func volumeStep(step int) int {
	if step == 0 {
		return DefaultVolumeStep
	}
	return clamp(step, 1, 100)
}
