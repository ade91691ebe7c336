package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/randomizedcoder/go-mediactl/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
//
// Thumbnail size, quality and backoff delays are clamped by the controller
// rather than rejected here.
func Validate(cfg *Config) error {
	var errs []error

	// Log format must be valid
	if !logging.ValidFormat(cfg.LogFormat) {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}
	if !logging.ValidLevel(cfg.LogLevel) {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be debug, info, warn or error (got %q)", cfg.LogLevel),
		})
	}

	// Timeouts must be positive
	if cfg.ConnectTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "connect_timeout",
			Message: "must be positive",
		})
	}
	if cfg.StopGrace <= 0 {
		errs = append(errs, ValidationError{
			Field:   "stop_grace",
			Message: "must be positive",
		})
	}

	// Command retry
	if cfg.RetryAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "retry_attempts",
			Message: "must be at least 1",
		})
	}
	if cfg.RetryBase < 0 {
		errs = append(errs, ValidationError{
			Field:   "retry_base",
			Message: "must not be negative",
		})
	}

	if cfg.BackoffJitter < 0 {
		errs = append(errs, ValidationError{
			Field:   "backoff_jitter",
			Message: "must not be negative",
		})
	}
	if cfg.StderrRate < 0 {
		errs = append(errs, ValidationError{
			Field:   "stderr_rate",
			Message: "must not be negative",
		})
	}

	// Metrics address must be host:port
	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: err.Error(),
			})
		}
	}

	// The dashboard owns the terminal; -check and -print-cmd write to it.
	if cfg.TUIEnabled && (cfg.Check || cfg.PrintCmd) {
		errs = append(errs, ValidationError{
			Field:   "tui",
			Message: "cannot be combined with -check or -print-cmd",
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
