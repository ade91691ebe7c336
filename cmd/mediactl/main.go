// Package main provides the mediactl CLI entry point.
//
// mediactl supervises a media/volume worker process, keeps its connection
// alive across crashes, and sends it playback and volume commands.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-mediactl/internal/config"
	"github.com/randomizedcoder/go-mediactl/internal/logging"
	"github.com/randomizedcoder/go-mediactl/internal/orchestrator"
	"github.com/randomizedcoder/go-mediactl/internal/process"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/mediactl
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("mediactl %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// The dashboard owns the terminal, so logs are dropped while it runs.
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	if cfg.Check {
		config.ApplyCheckMode(cfg)
		logger.Info("check_mode_enabled", "worker", cfg.WorkerPath, "workdir", cfg.WorkDir)
	}

	if cfg.PrintCmd {
		printWorkerCommand(cfg)
		return 0
	}

	if cfg.ConfigPath != "" {
		logger.Info("config_loaded", "path", cfg.ConfigPath)
	}
	logger.Info("starting",
		"version", version,
		"worker", cfg.WorkerPath,
		"auto_restart", cfg.AutoRestart,
		"metrics_addr", cfg.MetricsAddr,
	)

	if !cfg.TUIEnabled {
		printBanner(cfg)
	}

	orch := orchestrator.New(cfg, logger, version)
	if err := orch.Run(context.Background()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		return 1
	}

	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                            mediactl                               ║")
	fmt.Println("║          Media and Volume Worker Supervision                      ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Thumbnails:  %dpx at quality %d\n", cfg.ThumbnailSize, cfg.ThumbnailQuality)
	if cfg.AutoRestart {
		fmt.Printf("  Restart:     %s base, %s max\n", cfg.BackoffBase, cfg.BackoffMax)
	} else {
		fmt.Println("  Restart:     disabled")
	}
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}

// printWorkerCommand prints the worker command that would be run.
func printWorkerCommand(cfg *config.Config) {
	workerConfig := process.DefaultWorkerConfig()
	workerConfig.BinaryPath = cfg.WorkerPath
	workerConfig.WorkDir = cfg.WorkDir
	workerConfig.ThumbnailSize = cfg.ThumbnailSize
	workerConfig.ThumbnailQuality = cfg.ThumbnailQuality

	runner := process.NewWorkerRunner(workerConfig, nil)

	fmt.Println("# Worker command that would be run:")
	fmt.Println()
	fmt.Println(runner.CommandString())
}
