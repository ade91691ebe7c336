package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseFlags parses os.Args[1:] and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs builds a Config from defaults, the TOML file named by -config
// (or DefaultConfigPath), and args. Flags given on the command line
// override file values.
func ParseArgs(args []string, usageOut io.Writer) (*Config, error) {
	// First pass only finds -config.
	probe := DefaultConfig()
	fs := newFlagSet(probe, io.Discard)
	if err := fs.Parse(args); err != nil {
		// Report the error with full usage on the real pass.
		return nil, newFlagSet(DefaultConfig(), usageOut).Parse(args)
	}

	cfg := DefaultConfig()
	if err := LoadFile(probe.ConfigPath, cfg); err != nil {
		return nil, err
	}
	loadedFrom := cfg.ConfigPath

	fs = newFlagSet(cfg, usageOut)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.ConfigPath = loadedFrom

	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return cfg, nil
}

func newFlagSet(cfg *Config, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("mediactl", flag.ContinueOnError)
	fs.SetOutput(out)

	// Custom usage message
	fs.Usage = func() {
		fmt.Fprintf(out, `mediactl - supervise a media/volume worker and control it over stdio

Usage:
  mediactl [flags]

Worker Flags:
`)
		// Print flags by category
		printFlagCategory(fs, out, []string{"worker", "workdir", "size", "quality"})

		fmt.Fprintf(out, "\nSupervision:\n")
		printFlagCategory(fs, out, []string{"auto-restart", "backoff-base", "backoff-max", "backoff-jitter", "connect-timeout", "stop-grace"})

		fmt.Fprintf(out, "\nCommands:\n")
		printFlagCategory(fs, out, []string{"retry-attempts", "retry-base"})

		fmt.Fprintf(out, "\nSafety & Diagnostics:\n")
		printFlagCategory(fs, out, []string{"config", "print-cmd", "check", "skip-preflight"})

		fmt.Fprintf(out, "\nObservability:\n")
		printFlagCategory(fs, out, []string{"metrics", "metrics-dump", "v", "log-format", "log-level", "stderr-rate"})

		fmt.Fprintf(out, "\nDashboard:\n")
		printFlagCategory(fs, out, []string{"tui"})

		fmt.Fprintf(out, `
Examples:
  # Run headless with JSON logs
  mediactl -worker ./bin/mediactl-worker

  # Live dashboard with a Prometheus endpoint
  mediactl -tui -metrics 127.0.0.1:17092

  # Show the worker command line and exit
  mediactl -print-cmd

`)
	}

	// Config file
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "TOML config file (default "+DefaultConfigPath+" if present)")

	// Worker
	fs.StringVar(&cfg.WorkerPath, "worker", cfg.WorkerPath, "Path to the worker executable (default: search work dir, bin/, $PATH)")
	fs.StringVar(&cfg.WorkDir, "workdir", cfg.WorkDir, "Worker working directory")
	fs.IntVar(&cfg.ThumbnailSize, "size", cfg.ThumbnailSize, "Thumbnail size in pixels (1-1000)")
	fs.IntVar(&cfg.ThumbnailQuality, "quality", cfg.ThumbnailQuality, "Thumbnail JPEG quality (1-100)")

	// Supervision
	fs.BoolVar(&cfg.AutoRestart, "auto-restart", cfg.AutoRestart, "Relaunch the worker after a crash")
	fs.DurationVar(&cfg.BackoffBase, "backoff-base", cfg.BackoffBase, "First restart delay")
	fs.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Restart delay cap")
	fs.DurationVar(&cfg.BackoffJitter, "backoff-jitter", cfg.BackoffJitter, "Random jitter added to each restart delay")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "Time allowed for the first media record")
	fs.DurationVar(&cfg.StopGrace, "stop-grace", cfg.StopGrace, "Time allowed to exit after close before kill")

	// Commands
	fs.IntVar(&cfg.RetryAttempts, "retry-attempts", cfg.RetryAttempts, "Write attempts per command")
	fs.DurationVar(&cfg.RetryBase, "retry-base", cfg.RetryBase, "Delay before the first command retry")

	// Safety & Diagnostics
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print worker command and exit")
	fs.BoolVar(&cfg.Check, "check", cfg.Check, "Run preflight checks, connect once and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.BoolVar(&cfg.MetricsDump, "metrics-dump", cfg.MetricsDump, "Write metrics in text format to stdout at exit")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.Float64Var(&cfg.StderrRate, "stderr-rate", cfg.StderrRate, "Worker stderr lines logged per second (0 = unlimited)")

	// TUI (Terminal User Interface)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	return fs
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, out io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(out, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(out, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(out)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	// Infer type from default value format
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
