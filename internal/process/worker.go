package process

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	DefaultThumbnailSize    = 150
	DefaultThumbnailQuality = 85
)

// WorkerConfig holds configuration for launching the media worker.
type WorkerConfig struct {
	// BinaryPath is an explicit executable path. Empty means search.
	BinaryPath string

	// WorkDir is the worker's working directory and the root of the
	// executable search.
	WorkDir string

	// ThumbnailSize is the edge length of thumbnails in pixels.
	ThumbnailSize int

	// ThumbnailQuality is the JPEG quality of thumbnails (1-100).
	ThumbnailQuality int

	// Env is appended to the inherited environment.
	Env []string
}

// DefaultWorkerConfig returns a WorkerConfig with default thumbnail settings.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		ThumbnailSize:    DefaultThumbnailSize,
		ThumbnailQuality: DefaultThumbnailQuality,
	}
}

// WorkerRunner implements Runner for the media worker.
type WorkerRunner struct {
	config   *WorkerConfig
	resolver Resolver
}

var _ Runner = (*WorkerRunner)(nil)

// NewWorkerRunner creates a runner. A nil resolver searches for
// DefaultBinaryName.
func NewWorkerRunner(cfg *WorkerConfig, resolver Resolver) *WorkerRunner {
	if resolver == nil {
		resolver = NewSearchResolver("")
	}
	return &WorkerRunner{
		config:   cfg,
		resolver: resolver,
	}
}

// Name returns "worker".
func (r *WorkerRunner) Name() string {
	return "worker"
}

// Config returns the runner configuration.
func (r *WorkerRunner) Config() *WorkerConfig {
	return r.config
}

// BuildCommand resolves the executable and creates the command. Resolution
// errors are returned unwrapped so callers can inspect *NotFoundError.
func (r *WorkerRunner) BuildCommand(ctx context.Context) (*exec.Cmd, error) {
	path, err := r.resolver.Resolve(r.config.WorkDir, r.config.BinaryPath)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, path, r.buildArgs()...)
	cmd.Dir = r.config.WorkDir
	if len(r.config.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.config.Env...)
	}
	ConfigureCommand(cmd)
	return cmd, nil
}

// buildArgs returns the positional arguments: <thumbnailSize> <thumbnailQuality>.
func (r *WorkerRunner) buildArgs() []string {
	return []string{
		strconv.Itoa(r.config.ThumbnailSize),
		strconv.Itoa(r.config.ThumbnailQuality),
	}
}

// CommandString returns the command line for logging. The executable is
// resolved; if resolution fails the configured or default name is shown.
func (r *WorkerRunner) CommandString() string {
	path, err := r.resolver.Resolve(r.config.WorkDir, r.config.BinaryPath)
	if err != nil {
		path = r.config.BinaryPath
		if path == "" {
			path = DefaultBinaryName
		}
	}
	return fmt.Sprintf("%s %s", path, strings.Join(r.buildArgs(), " "))
}
