package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// DefaultConfigPath is read when -config is not given. A missing file is
// not an error.
const DefaultConfigPath = "~/.config/mediactl/config.toml"

// fileConfig mirrors Config with optional fields so that only keys present
// in the file override the current value. Durations are strings like "1s".
type fileConfig struct {
	WorkerPath       *string `toml:"worker_path"`
	WorkDir          *string `toml:"work_dir"`
	ThumbnailSize    *int    `toml:"thumbnail_size"`
	ThumbnailQuality *int    `toml:"thumbnail_quality"`

	AutoRestart    *bool   `toml:"auto_restart"`
	BackoffBase    *string `toml:"backoff_base"`
	BackoffMax     *string `toml:"backoff_max"`
	BackoffJitter  *string `toml:"backoff_jitter"`
	ConnectTimeout *string `toml:"connect_timeout"`
	StopGrace      *string `toml:"stop_grace"`

	RetryAttempts *int    `toml:"retry_attempts"`
	RetryBase     *string `toml:"retry_base"`

	MetricsAddr *string  `toml:"metrics_addr"`
	MetricsDump *bool    `toml:"metrics_dump"`
	Verbose     *bool    `toml:"verbose"`
	LogFormat   *string  `toml:"log_format"`
	LogLevel    *string  `toml:"log_level"`
	StderrRate  *float64 `toml:"stderr_rate"`

	TUIEnabled    *bool `toml:"tui"`
	SkipPreflight *bool `toml:"skip_preflight"`
}

// LoadFile applies the TOML file at path on top of cfg. An empty path reads
// DefaultConfigPath. A missing file leaves cfg unchanged unless the path was
// given explicitly.
func LoadFile(path string, cfg *Config) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultConfigPath
	}
	resolved, err := expandPath(path)
	if err != nil {
		return err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", resolved, err)
	}
	if err := raw.apply(cfg); err != nil {
		return fmt.Errorf("config %s: %w", resolved, err)
	}
	cfg.ConfigPath = resolved
	return nil
}

func (f *fileConfig) apply(cfg *Config) error {
	setString(&cfg.WorkerPath, f.WorkerPath)
	setString(&cfg.WorkDir, f.WorkDir)
	set(&cfg.ThumbnailSize, f.ThumbnailSize)
	set(&cfg.ThumbnailQuality, f.ThumbnailQuality)

	set(&cfg.AutoRestart, f.AutoRestart)
	set(&cfg.RetryAttempts, f.RetryAttempts)

	setString(&cfg.MetricsAddr, f.MetricsAddr)
	set(&cfg.MetricsDump, f.MetricsDump)
	set(&cfg.Verbose, f.Verbose)
	setString(&cfg.LogFormat, f.LogFormat)
	setString(&cfg.LogLevel, f.LogLevel)
	set(&cfg.StderrRate, f.StderrRate)

	set(&cfg.TUIEnabled, f.TUIEnabled)
	set(&cfg.SkipPreflight, f.SkipPreflight)

	var errs []error
	durations := []struct {
		field string
		dst   *time.Duration
		src   *string
	}{
		{"backoff_base", &cfg.BackoffBase, f.BackoffBase},
		{"backoff_max", &cfg.BackoffMax, f.BackoffMax},
		{"backoff_jitter", &cfg.BackoffJitter, f.BackoffJitter},
		{"connect_timeout", &cfg.ConnectTimeout, f.ConnectTimeout},
		{"stop_grace", &cfg.StopGrace, f.StopGrace},
		{"retry_base", &cfg.RetryBase, f.RetryBase},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(*d.src))
		if err != nil {
			errs = append(errs, ValidationError{Field: d.field, Message: err.Error()})
			continue
		}
		*d.dst = v
	}
	return errors.Join(errs...)
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
