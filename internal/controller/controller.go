// Package controller is the caller-facing surface of mediactl. It wires the
// supervisor, the command dispatcher, the state cache, the event bus and
// the metrics and stats sinks around one worker process.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randomizedcoder/go-mediactl/internal/dispatch"
	"github.com/randomizedcoder/go-mediactl/internal/events"
	"github.com/randomizedcoder/go-mediactl/internal/logging"
	"github.com/randomizedcoder/go-mediactl/internal/metrics"
	"github.com/randomizedcoder/go-mediactl/internal/process"
	"github.com/randomizedcoder/go-mediactl/internal/protocol"
	"github.com/randomizedcoder/go-mediactl/internal/stats"
	"github.com/randomizedcoder/go-mediactl/internal/supervisor"
)

// closeTimeout bounds the Stop issued by Close on top of the stop grace.
// It covers the SIGTERM to SIGKILL window.
const closeTimeout = supervisor.DefaultKillGrace + time.Second

// Controller supervises one worker and exposes playback and volume control.
type Controller struct {
	opts   Options
	logger *slog.Logger

	sessionID string
	builder   supervisor.ProcessBuilder
	runner    *process.WorkerRunner // nil when Options.Builder is set

	sup        *supervisor.Supervisor
	dispatcher *dispatch.Dispatcher
	bus        *events.Bus
	cache      *events.Cache
	collector  *metrics.Collector
	session    *stats.Session
	stderr     *logging.StderrHandler
	clock      supervisor.Clock

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a Controller and starts its supervision loop. The worker is
// not launched until Start.
func New(opts Options) *Controller {
	opts = opts.normalize()

	sessionID := uuid.New().String()
	logger := opts.Logger.With("session_id", sessionID)

	c := &Controller{
		opts:      opts,
		logger:    logger,
		sessionID: sessionID,
		bus:       events.NewBus(),
		cache:     events.NewCache(),
		session:   stats.NewSession(sessionID),
		clock:     opts.Clock,
	}
	if c.clock == nil {
		c.clock = supervisor.RealClock()
	}

	c.builder = opts.Builder
	if c.builder == nil {
		c.runner = process.NewWorkerRunner(&process.WorkerConfig{
			BinaryPath:       opts.ExecutablePath,
			WorkDir:          opts.WorkDir,
			ThumbnailSize:    opts.ThumbnailSize,
			ThumbnailQuality: opts.ThumbnailQuality,
		}, opts.Resolver)
		c.builder = c.runner
	}

	c.collector = metrics.NewCollector(metrics.CollectorConfig{
		Version:        opts.Version,
		Worker:         c.builder.Name(),
		SessionID:      sessionID,
		RuntimeMetrics: opts.RuntimeMetrics,
	})

	c.stderr = logging.NewStderrHandlerWithLimit(c.builder.Name(), logger, opts.Verbose,
		opts.StderrRate, logging.DefaultStderrBurst)

	var js *supervisor.JitterSource
	if opts.JitterSeed != 0 {
		js = supervisor.NewJitterSource(opts.JitterSeed)
	}

	c.sup = supervisor.New(supervisor.Config{
		Builder:        c.builder,
		Backoff:        supervisor.NewBackoff(opts.backoffConfig(), js),
		Logger:         logger,
		Hooks:          c.hooks(),
		Clock:          c.clock,
		AutoRestart:    opts.AutoRestart,
		ConnectTimeout: opts.ConnectTimeout,
		StopGrace:      opts.StopGrace,
	})

	c.dispatcher = dispatch.New(dispatch.Config{
		Conn:           c.sup,
		Logger:         logger,
		MaxAttempts:    opts.RetryAttempts,
		BaseRetryDelay: opts.RetryBaseDelay,
		OnResult:       c.onResult,
	})
	c.sup.SetCloser(c.dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.sup.Run(ctx)

	c.collector.SetState(supervisor.StateDisconnected)
	return c
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start launches the worker and blocks until it connects or fails.
func (c *Controller) Start(ctx context.Context) error {
	c.logger.Info("worker_start_requested", "worker", c.builder.Name())
	return c.sup.Start(ctx)
}

// Stop asks the worker to exit, kills it after the grace period and clears
// the cached media and volume state.
func (c *Controller) Stop(ctx context.Context) error {
	err := c.sup.Stop(ctx)
	c.cache.Clear()
	return err
}

// Close stops the worker, ends the supervision loop and drops all event
// subscribers. It is safe to call more than once.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.StopGrace+closeTimeout)
		defer cancel()

		err = c.Stop(ctx)
		if errors.Is(err, supervisor.ErrClosed) {
			err = nil
		}
		c.cancel()
		<-c.sup.Done()
		c.bus.Close()

		sent, failed, retries := c.dispatcher.Stats()
		c.logger.Info("controller_closed",
			"commands_sent", sent,
			"commands_failed", failed,
			"command_retries", retries,
		)
	})
	return err
}

// IsRunning reports whether a worker process is live.
func (c *Controller) IsRunning() bool {
	return c.sup.Alive()
}

// State returns the current connection state.
func (c *Controller) State() supervisor.State {
	return c.sup.State()
}

// LastMedia returns the last media snapshot. ok is false until the first
// media record; m is nil when the worker reported no active session.
func (c *Controller) LastMedia() (m *protocol.MediaSnapshot, ok bool) {
	return c.cache.Media()
}

// LastVolume returns the last volume snapshot. It is nil before the first
// volume record and after a record with a null payload.
func (c *Controller) LastVolume() *protocol.VolumeSnapshot {
	return c.cache.Volume()
}

// =============================================================================
// Commands
// =============================================================================

func (c *Controller) Play(ctx context.Context) error {
	return c.send(ctx, protocol.NewCommand(protocol.CmdPlay))
}

func (c *Controller) Pause(ctx context.Context) error {
	return c.send(ctx, protocol.NewCommand(protocol.CmdPause))
}

func (c *Controller) PlayPause(ctx context.Context) error {
	return c.send(ctx, protocol.NewCommand(protocol.CmdPlayPause))
}

func (c *Controller) Next(ctx context.Context) error {
	return c.send(ctx, protocol.NewCommand(protocol.CmdNext))
}

func (c *Controller) Previous(ctx context.Context) error {
	return c.send(ctx, protocol.NewCommand(protocol.CmdPrevious))
}

// SetVolume sets the absolute volume. level is clamped to 0..100.
func (c *Controller) SetVolume(ctx context.Context, level int) error {
	return c.send(ctx, protocol.SetVolumeCommand(clamp(level, 0, 100)))
}

// VolumeUp raises the volume by step percent (0 means DefaultVolumeStep).
func (c *Controller) VolumeUp(ctx context.Context, step int) error {
	return c.send(ctx, protocol.StepCommand(protocol.CmdVolumeUp, volumeStep(step)))
}

// VolumeDown lowers the volume by step percent (0 means DefaultVolumeStep).
func (c *Controller) VolumeDown(ctx context.Context, step int) error {
	return c.send(ctx, protocol.StepCommand(protocol.CmdVolumeDown, volumeStep(step)))
}

func (c *Controller) ToggleMute(ctx context.Context) error {
	return c.send(ctx, protocol.NewCommand(protocol.CmdToggleMute))
}

func (c *Controller) send(ctx context.Context, cmd protocol.Command) error {
	return c.dispatcher.SendWithRetry(ctx, cmd, c.opts.RetryAttempts)
}

// =============================================================================
// Accessors
// =============================================================================

// Events returns the event bus.
func (c *Controller) Events() *events.Bus {
	return c.bus
}

// Stats returns a snapshot of the session statistics.
func (c *Controller) Stats() stats.Snapshot {
	return c.session.Snapshot()
}

// EventStats returns counts of published events and live subscribers.
func (c *Controller) EventStats() events.Stats {
	return c.bus.Stats()
}

// Collector returns the Prometheus collector.
func (c *Controller) Collector() *metrics.Collector {
	return c.collector
}

// SessionID returns the id attached to logs, metrics and the exit summary.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Restarts returns the number of scheduled relaunches.
func (c *Controller) Restarts() int {
	return c.sup.Restarts()
}

// Uptime returns how long the current worker has been running.
func (c *Controller) Uptime() time.Duration {
	return c.sup.Uptime()
}

// RecentStderr returns up to n of the most recent worker stderr lines.
func (c *Controller) RecentStderr(n int) []string {
	return c.stderr.RecentLines(n)
}

// CommandString returns the worker command line that Start would run.
func (c *Controller) CommandString() string {
	if c.runner == nil {
		return c.builder.Name()
	}
	return c.runner.CommandString()
}

// =============================================================================
// Supervisor hooks
// =============================================================================

func (c *Controller) hooks() supervisor.Hooks {
	return supervisor.Hooks{
		OnStateChange: c.onStateChange,
		OnStart:       c.onStart,
		OnMessage:     c.onMessage,
		OnInvalidLine: c.onInvalidLine,
		OnStderr:      c.onStderr,
		OnExit:        c.onExit,
		OnRestart:     c.onRestart,
		OnError:       c.onError,
	}
}

func (c *Controller) onStateChange(oldState, newState supervisor.State) {
	c.collector.SetState(newState)
	if newState == supervisor.StateConnected {
		c.session.RecordConnect()
		c.collector.SetAttempts(0)
	}
	c.logger.Info("connection_state",
		"from", oldState.String(),
		"to", newState.String(),
	)
	c.bus.PublishStateChange(events.StateChange{From: oldState, To: newState, At: c.clock.Now()})
}

func (c *Controller) onStart(int) {
	c.collector.WorkerStarted()
	c.session.RecordStart()
}

func (c *Controller) onMessage(msg protocol.Message) {
	c.cache.Apply(msg, c.clock.Now())
	c.collector.RecordMessage(msg)

	switch msg.Type {
	case protocol.TypeMedia:
		c.session.MediaMessages.Add(1)
		c.bus.PublishMedia(msg.Media)
	case protocol.TypeVolume:
		c.session.VolumeMessages.Add(1)
		c.bus.PublishVolume(msg.Volume)
	}
}

func (c *Controller) onInvalidLine(line []byte, err error) {
	c.collector.RecordDiscarded()
	c.session.LinesDiscarded.Add(1)
	c.logger.Debug("line_discarded", "error", err, "length", len(line))
}

func (c *Controller) onStderr(line string) {
	suppressed := c.stderr.HandleLine(line)
	c.collector.RecordStderr(suppressed)
	c.collector.RecordError(string(events.SourceWorker))
	c.session.StderrLines.Add(1)
	c.session.RecordError(line)
	c.bus.PublishError(events.ErrorEvent{
		Source:  events.SourceWorker,
		Message: line,
		At:      c.clock.Now(),
	})
}

func (c *Controller) onExit(code *int, uptime time.Duration) {
	c.collector.RecordExit(code, uptime)
	c.session.RecordExit(code, uptime)
	c.bus.PublishExit(events.ExitEvent{Code: code, Uptime: uptime, At: c.clock.Now()})
}

func (c *Controller) onRestart(attempt int, delay time.Duration) {
	c.collector.RestartScheduled(attempt, delay)
	c.session.RecordRestart()
}

func (c *Controller) onError(err error) {
	c.collector.RecordError(string(events.SourceSupervisor))
	c.session.RecordError(err.Error())
	c.bus.PublishError(events.ErrorEvent{
		Source:  events.SourceSupervisor,
		Message: err.Error(),
		Err:     err,
		At:      c.clock.Now(),
	})
}

// onResult runs in the caller's goroutine after every command write.
func (c *Controller) onResult(r dispatch.Result) {
	result := metrics.ResultOK
	switch {
	case errors.Is(r.Err, dispatch.ErrNotRunning):
		result = metrics.ResultNotRunning
	case r.Err != nil:
		result = metrics.ResultError
	}
	c.collector.RecordCommand(r.Command.Name, r.Latency, result)
	c.session.RecordCommand(r.Latency, r.Err)
	if r.Attempt > 1 {
		c.session.CommandRetries.Add(1)
	}
}
