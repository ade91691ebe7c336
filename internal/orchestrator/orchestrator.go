// Package orchestrator runs one mediactl session: preflight checks, the
// metrics endpoint, the worker controller, the dashboard or headless event
// log, and the exit summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-mediactl/internal/config"
	"github.com/randomizedcoder/go-mediactl/internal/controller"
	"github.com/randomizedcoder/go-mediactl/internal/events"
	"github.com/randomizedcoder/go-mediactl/internal/metrics"
	"github.com/randomizedcoder/go-mediactl/internal/preflight"
	"github.com/randomizedcoder/go-mediactl/internal/protocol"
	"github.com/randomizedcoder/go-mediactl/internal/stats"
	"github.com/randomizedcoder/go-mediactl/internal/supervisor"
	"github.com/randomizedcoder/go-mediactl/internal/tui"
)

// ErrPreflightFailed is returned by Run when a required check fails.
var ErrPreflightFailed = errors.New("preflight checks failed (use -skip-preflight to override)")

// shutdownSlack is added to the stop grace for the final shutdown.
const shutdownSlack = 2 * time.Second

// Orchestrator coordinates all components for one controller session.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	version string
	out     io.Writer

	ctrl          *controller.Controller
	metricsServer *metrics.Server

	startTime time.Time
}

// ControllerOptions maps the configuration onto controller options.
func ControllerOptions(cfg *config.Config, logger *slog.Logger, version string) controller.Options {
	opts := controller.DefaultOptions()
	opts.ThumbnailSize = cfg.ThumbnailSize
	opts.ThumbnailQuality = cfg.ThumbnailQuality
	opts.AutoRestart = cfg.AutoRestart
	opts.RestartDelay = cfg.BackoffBase
	opts.MaxRestartDelay = cfg.BackoffMax
	opts.RestartJitter = cfg.BackoffJitter
	opts.ExecutablePath = cfg.WorkerPath
	opts.WorkDir = cfg.WorkDir
	opts.ConnectTimeout = cfg.ConnectTimeout
	opts.StopGrace = cfg.StopGrace
	opts.RetryAttempts = cfg.RetryAttempts
	opts.RetryBaseDelay = cfg.RetryBase
	opts.StderrRate = cfg.StderrRate
	opts.Verbose = cfg.Verbose
	opts.Version = version
	opts.RuntimeMetrics = cfg.MetricsAddr != ""
	opts.Logger = logger
	return opts
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, version string) *Orchestrator {
	o := &Orchestrator{
		config:  cfg,
		logger:  logger,
		version: version,
		out:     os.Stdout,
		ctrl:    controller.New(ControllerOptions(cfg, logger, version)),
	}

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, o.ctrl.Collector().Registry(), o.health, logger)
	}
	return o
}

// SetOutput redirects preflight results and the exit summary.
func (o *Orchestrator) SetOutput(w io.Writer) {
	o.out = w
}

// Controller returns the worker controller.
func (o *Orchestrator) Controller() *controller.Controller {
	return o.ctrl
}

// Run executes the session. It blocks until a signal, ctx cancellation,
// or the user quitting the dashboard.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	// Run preflight checks
	if !o.config.SkipPreflight {
		result := preflight.RunAll(preflight.Options{
			WorkDir:  o.config.WorkDir,
			Override: o.config.WorkerPath,
		})
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			o.ctrl.Close()
			return ErrPreflightFailed
		}
	}
	if o.config.Check {
		o.logger.Info("check_complete", "worker", o.ctrl.CommandString())
		return o.ctrl.Close()
	}

	// Start metrics server
	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			o.ctrl.Close()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	var err error
	if o.config.TUIEnabled {
		err = o.runDashboard(ctx, sigCh)
	} else {
		err = o.runHeadless(ctx, sigCh)
	}

	finalState := o.ctrl.State()
	o.shutdown()
	o.printExitSummary(finalState)

	return err
}

// runHeadless starts the worker and logs every event until stopped.
func (o *Orchestrator) runHeadless(ctx context.Context, sigCh <-chan os.Signal) error {
	unsubscribe, err := o.logEvents()
	if err != nil {
		return err
	}
	defer unsubscribe()

	o.logger.Info("worker_starting", "command", o.ctrl.CommandString())
	if err := o.ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	// Wait for completion signal
	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	}
	return nil
}

// runDashboard starts the worker in the background and runs the TUI.
func (o *Orchestrator) runDashboard(ctx context.Context, sigCh <-chan os.Signal) error {
	p := tea.NewProgram(tui.New(tui.Config{
		Controller:  o.ctrl,
		Worker:      o.ctrl.CommandString(),
		MetricsAddr: o.config.MetricsAddr,
	}), tea.WithAltScreen(), tea.WithContext(ctx))

	unsubscribe, err := tui.Subscribe(p, o.ctrl.Events())
	if err != nil {
		return err
	}
	defer unsubscribe()

	go func() {
		select {
		case <-sigCh:
			tui.SendQuit(p)
		case <-ctx.Done():
		}
	}()

	// Start failures are shown on the dashboard; s retries.
	go func() {
		if err := o.ctrl.Start(ctx); err != nil {
			o.logger.Warn("worker_start_failed", "error", err)
		}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// logEvents logs bus events for headless mode.
func (o *Orchestrator) logEvents() (func(), error) {
	bus := o.ctrl.Events()
	var subs []*events.Subscription
	unsubscribe := func() {
		for _, s := range subs {
			s.Cancel()
		}
	}

	add := func(s *events.Subscription, err error) error {
		if err != nil {
			unsubscribe()
			return err
		}
		subs = append(subs, s)
		return nil
	}

	if err := add(bus.OnMedia(func(m *protocol.MediaSnapshot) {
		if m == nil {
			o.logger.Info("media_cleared")
			return
		}
		o.logger.Info("media_updated",
			"title", m.Title,
			"artist", m.Artist,
			"album", m.Album,
			"status", string(m.PlaybackStatus),
			"app", m.AppName,
		)
	})); err != nil {
		return nil, err
	}
	if err := add(bus.OnVolume(func(v *protocol.VolumeSnapshot) {
		if v == nil {
			o.logger.Info("volume_cleared")
			return
		}
		o.logger.Info("volume_updated", "level", v.Level, "muted", v.Muted, "devices", len(v.Devices))
	})); err != nil {
		return nil, err
	}
	if err := add(bus.OnError(func(ev events.ErrorEvent) {
		if ev.Source == events.SourceSupervisor {
			o.logger.Error("supervisor_error", "error", ev.Message)
		}
	})); err != nil {
		return nil, err
	}
	if err := add(bus.OnExit(func(ev events.ExitEvent) {
		o.logger.Info("worker_exit",
			"code", supervisor.FormatExitCode(ev.Code),
			"uptime", ev.Uptime.String(),
		)
	})); err != nil {
		return nil, err
	}
	return unsubscribe, nil
}

// shutdown stops the worker and the metrics server.
func (o *Orchestrator) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.StopGrace+shutdownSlack)
	defer cancel()

	if err := o.ctrl.Close(); err != nil {
		o.logger.Warn("shutdown_incomplete", "error", err)
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Shutdown(ctx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}
}

// health reports readiness for the metrics server.
func (o *Orchestrator) health() (bool, string) {
	s := o.ctrl.State()
	return s == supervisor.StateConnected, s.String()
}

// printExitSummary prints a summary of the session.
func (o *Orchestrator) printExitSummary(finalState supervisor.State) {
	fmt.Fprint(o.out, stats.FormatExitSummary(o.ctrl.Stats(), stats.SummaryConfig{
		Worker:          o.ctrl.CommandString(),
		FinalState:      finalState.String(),
		MetricsAddr:     o.config.MetricsAddr,
		EventsPublished: o.ctrl.EventStats().Published,
	}))

	if recent := o.ctrl.RecentStderr(5); len(recent) > 0 {
		fmt.Fprintln(o.out, "Recent worker stderr:")
		for _, line := range recent {
			fmt.Fprintf(o.out, "  %s\n", line)
		}
	}

	if o.config.MetricsDump {
		fmt.Fprintln(o.out)
		if err := o.ctrl.Collector().WriteText(o.out); err != nil {
			o.logger.Warn("metrics_dump_failed", "error", err)
		}
	}
}
