package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/randomizedcoder/go-mediactl/internal/protocol"
)

var (
	// ErrAlreadyRunning is returned by Start when a worker is live.
	ErrAlreadyRunning = errors.New("worker already running")

	// ErrConnectTimeout is returned by Start when the worker did not send
	// its first media record within the connect timeout.
	ErrConnectTimeout = errors.New("worker did not connect before timeout")

	// ErrExitedBeforeConnect is returned by Start when the worker exited
	// before sending its first media record.
	ErrExitedBeforeConnect = errors.New("worker exited before connecting")

	// ErrStopped is returned to a pending Start when Stop is called.
	ErrStopped = errors.New("worker stopped")

	// ErrClosed is returned once the supervisor loop has exited.
	ErrClosed = errors.New("supervisor closed")

	// ErrNoProcess is returned by WriteLine when no worker is live.
	ErrNoProcess = errors.New("no worker process")
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultStopGrace      = 3 * time.Second
	DefaultKillGrace      = time.Second
	DefaultDrainTimeout   = 2 * time.Second
)

// ProcessBuilder creates executable commands for the worker.
// This interface allows the supervisor to be decoupled from worker specifics.
type ProcessBuilder interface {
	// BuildCommand returns a ready-to-start command. Errors are surfaced
	// to the caller of Start unchanged.
	BuildCommand(ctx context.Context) (*exec.Cmd, error)

	// Name returns a human-readable name for this process type.
	Name() string
}

// Closer sends the close command during Stop.
type Closer interface {
	SendClose(ctx context.Context) error
}

// Hooks contains optional callbacks for supervisor events.
//
// All hooks except OnInvalidLine run on the supervisor loop goroutine in
// the order the events occurred. Hooks must not call Start or Stop
// synchronously.
type Hooks struct {
	// OnStateChange is called when the connection state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called when a worker process starts.
	OnStart func(pid int)

	// OnMessage is called for every decoded stdout record.
	OnMessage func(msg protocol.Message)

	// OnInvalidLine is called from the stdout reader goroutine for each
	// discarded line. line is only valid during the call.
	OnInvalidLine func(line []byte, err error)

	// OnStderr is called for every non-empty stderr line.
	OnStderr func(line string)

	// OnExit is called when a worker that reached connected exits.
	// code is nil if the worker was terminated by a signal.
	OnExit func(code *int, uptime time.Duration)

	// OnRestart is called when a relaunch is scheduled.
	OnRestart func(attempt int, delay time.Duration)

	// OnError is called for launch failures and connect timeouts.
	OnError func(err error)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Builder        ProcessBuilder
	Backoff        *Backoff
	Logger         *slog.Logger
	Hooks          Hooks
	Clock          Clock
	Closer         Closer
	AutoRestart    bool
	ConnectTimeout time.Duration // default 10s
	StopGrace      time.Duration // default 3s
	KillGrace      time.Duration // SIGTERM to SIGKILL, default 1s
	DrainTimeout   time.Duration // default 2s
}

type timerKind int

const (
	timerRestart timerKind = iota
	timerConnect
	timerGrace
	timerKill
)

func (k timerKind) String() string {
	switch k {
	case timerRestart:
		return "restart"
	case timerConnect:
		return "connect"
	case timerGrace:
		return "grace"
	case timerKill:
		return "kill"
	default:
		return "unknown"
	}
}

type armedTimer struct {
	timer Timer
	seq   uint64
}

type (
	startReq     struct{ reply chan error }
	stopReq      struct{ reply chan error }
	messageEvent struct {
		gen uint64
		msg protocol.Message
	}
	stderrEvent struct {
		gen  uint64
		line string
	}
	exitEvent struct {
		gen    uint64
		code   *int
		err    error
		uptime time.Duration
	}
	timerEvent struct {
		kind timerKind
		seq  uint64
	}
)

// Supervisor owns the worker process. All state changes happen on the
// goroutine running Run; the public methods post requests to it.
type Supervisor struct {
	builder        ProcessBuilder
	backoff        *Backoff
	logger         *slog.Logger
	hooks          Hooks
	clock          Clock
	autoRestart    bool
	connectTimeout time.Duration
	stopGrace      time.Duration
	killGrace      time.Duration
	drainTimeout   time.Duration

	events chan any
	done   chan struct{}

	// Snapshot for readers on other goroutines.
	mu             sync.RWMutex
	state          State
	current        *handle
	closer         Closer
	restarts       int
	attempts       int
	restartPending bool

	// Owned by the loop goroutine.
	ctx          context.Context
	proc         *handle
	gen          uint64
	timerSeq     uint64
	timers       map[timerKind]armedTimer
	stopping     bool
	startWaiters []chan error
	stopWaiters  []chan error
}

// New creates a new Supervisor with the given configuration.
// Run must be called for Start and Stop to make progress.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = NewBackoff(DefaultBackoffConfig(), nil)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock()
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	stopGrace := cfg.StopGrace
	if stopGrace <= 0 {
		stopGrace = DefaultStopGrace
	}
	killGrace := cfg.KillGrace
	if killGrace <= 0 {
		killGrace = DefaultKillGrace
	}
	drainTimeout := cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}

	return &Supervisor{
		builder:        cfg.Builder,
		backoff:        backoff,
		logger:         logger,
		hooks:          cfg.Hooks,
		clock:          clock,
		autoRestart:    cfg.AutoRestart,
		connectTimeout: connectTimeout,
		stopGrace:      stopGrace,
		killGrace:      killGrace,
		drainTimeout:   drainTimeout,
		closer:         cfg.Closer,
		events:         make(chan any, 64),
		done:           make(chan struct{}),
		ctx:            context.Background(),
		timers:         make(map[timerKind]armedTimer),
	}
}

// SetCloser sets the component used to deliver the close command on Stop.
func (s *Supervisor) SetCloser(c Closer) {
	s.mu.Lock()
	s.closer = c
	s.mu.Unlock()
}

// Run processes supervisor events until ctx is cancelled. A live worker is
// killed on return.
func (s *Supervisor) Run(ctx context.Context) error {
	s.ctx = ctx
	defer close(s.done)

	s.logger.Debug("supervisor_running", "worker", s.builder.Name())

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			s.logger.Debug("supervisor_stopped", "reason", "context_cancelled")
			return ctx.Err()
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

// Done is closed when Run returns.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Start launches the worker and blocks until it connects or fails.
// It returns ErrAlreadyRunning without side effects if a worker is live.
func (s *Supervisor) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	if !s.post(startReq{reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Stop shuts the worker down: the close command is sent, the worker gets
// the stop grace period to exit, then it is killed. Stop always leaves the
// supervisor disconnected. It is a no-op when nothing is running.
func (s *Supervisor) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	if !s.post(stopReq{reply: reply}) {
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Alive reports whether a worker process is running.
func (s *Supervisor) Alive() bool {
	s.mu.RLock()
	h := s.current
	s.mu.RUnlock()
	return h != nil && !h.exited.Load()
}

// PID returns the live worker's pid, or 0.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return s.current.pid
}

// Uptime returns how long the live worker has been running.
func (s *Supervisor) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return s.clock.Now().Sub(s.current.started)
}

// Restarts returns the number of relaunches scheduled since New.
func (s *Supervisor) Restarts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// Attempts returns the backoff attempt counter.
func (s *Supervisor) Attempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// RestartPending reports whether a relaunch timer is armed.
func (s *Supervisor) RestartPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restartPending
}

// WriteLine writes one encoded line to the worker's stdin. Concurrent
// calls are serialised so lines never interleave.
func (s *Supervisor) WriteLine(line []byte) error {
	s.mu.RLock()
	h := s.current
	s.mu.RUnlock()
	if h == nil {
		return ErrNoProcess
	}
	return h.write(line)
}

func (s *Supervisor) post(ev any) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Supervisor) dispatch(ev any) {
	switch ev := ev.(type) {
	case startReq:
		s.handleStart(ev)
	case stopReq:
		s.handleStop(ev)
	case messageEvent:
		s.handleMessage(ev)
	case stderrEvent:
		s.handleStderr(ev)
	case exitEvent:
		s.handleExit(ev)
	case timerEvent:
		s.handleTimer(ev)
	}
}

func (s *Supervisor) handleStart(req startReq) {
	if s.proc != nil {
		req.reply <- ErrAlreadyRunning
		return
	}

	s.disarm(timerRestart)
	s.stopping = false
	s.resetAttempts()
	s.setState(StateConnecting)

	if err := s.launch(); err != nil {
		s.fail(err)
		req.reply <- err
		return
	}
	s.startWaiters = append(s.startWaiters, req.reply)
}

func (s *Supervisor) handleStop(req stopReq) {
	s.disarm(timerRestart)
	s.disarm(timerConnect)
	s.resolveStartWaiters(ErrStopped)

	h := s.proc
	if h == nil {
		s.stopping = false
		s.resetAttempts()
		s.setState(StateDisconnected)
		req.reply <- nil
		return
	}

	s.stopping = true
	s.stopWaiters = append(s.stopWaiters, req.reply)
	if h.closing {
		return
	}
	h.closing = true

	s.logger.Info("worker_stopping", "pid", h.pid, "grace", s.stopGrace.String())

	s.mu.RLock()
	closer := s.closer
	s.mu.RUnlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.stopGrace)
		defer cancel()
		var err error
		if closer != nil {
			err = closer.SendClose(ctx)
		} else {
			err = s.writeClose(h)
		}
		if err != nil {
			s.logger.Debug("close_command_failed", "pid", h.pid, "error", err)
		}
		h.closeStdin()
	}()
	s.arm(timerGrace, s.stopGrace)
}

func (s *Supervisor) writeClose(h *handle) error {
	line, err := protocol.Encode(protocol.NewCommand(protocol.CmdClose))
	if err != nil {
		return err
	}
	return h.write(line)
}

func (s *Supervisor) handleMessage(ev messageEvent) {
	h := s.proc
	if h == nil || ev.gen != h.gen {
		return
	}

	if s.hooks.OnMessage != nil {
		s.hooks.OnMessage(ev.msg)
	}

	if ev.msg.Type != protocol.TypeMedia || h.connected || h.timedOut || s.stopping {
		return
	}

	h.connected = true
	s.disarm(timerConnect)
	s.resetAttempts()
	s.setState(StateConnected)
	s.logger.Info("worker_connected", "pid", h.pid, "generation", h.gen)
	s.resolveStartWaiters(nil)
}

func (s *Supervisor) handleStderr(ev stderrEvent) {
	h := s.proc
	if h == nil || ev.gen != h.gen {
		return
	}
	if s.hooks.OnStderr != nil {
		s.hooks.OnStderr(ev.line)
	}
}

func (s *Supervisor) handleExit(ev exitEvent) {
	h := s.proc
	if h == nil || ev.gen != h.gen {
		return
	}

	s.proc = nil
	s.setCurrent(nil)
	s.disarm(timerConnect)
	s.disarm(timerGrace)
	s.disarm(timerKill)

	attrs := []any{
		"pid", h.pid,
		"exit_code", FormatExitCode(ev.code),
		"uptime", ev.uptime.String(),
		"connected", h.connected,
	}
	if ev.err != nil {
		attrs = append(attrs, "wait_error", ev.err.Error())
	}
	if h.reader != nil {
		rs := h.reader.Stats()
		attrs = append(attrs,
			"stdout_lines", rs.LinesRead,
			"stdout_bytes", rs.BytesRead,
			"decoded", rs.Decoded,
			"malformed", rs.Malformed,
			"unknown_types", rs.UnknownTypes,
		)
	}
	s.logger.Info("worker_exited", attrs...)

	if h.connected && s.hooks.OnExit != nil {
		s.hooks.OnExit(ev.code, ev.uptime)
	}

	if s.stopping {
		s.finishStop()
		return
	}

	switch s.State() {
	case StateConnecting:
		s.fail(fmt.Errorf("%w (exit code %s)", ErrExitedBeforeConnect, FormatExitCode(ev.code)))
	case StateConnected, StateReconnecting:
		if s.autoRestart && !IsCleanExit(ev.code) {
			s.scheduleRestart()
		} else {
			s.setState(StateDisconnected)
		}
	}
}

func (s *Supervisor) handleTimer(ev timerEvent) {
	at, ok := s.timers[ev.kind]
	if !ok || at.seq != ev.seq {
		return
	}
	delete(s.timers, ev.kind)
	s.markTimer(ev.kind, false)

	switch ev.kind {
	case timerRestart:
		if s.stopping || s.proc != nil || s.State() != StateReconnecting {
			return
		}
		s.logger.Info("worker_restarting", "attempt", s.backoff.Attempts())
		if err := s.launch(); err != nil {
			s.fail(err)
		}

	case timerConnect:
		h := s.proc
		if h == nil || h.connected {
			return
		}
		h.timedOut = true
		s.logger.Warn("worker_connect_timeout", "pid", h.pid, "timeout", s.connectTimeout.String())
		h.kill()
		if s.State() == StateConnecting {
			s.fail(ErrConnectTimeout)
		}

	case timerGrace:
		if h := s.proc; h != nil && s.stopping {
			s.logger.Warn("terminating_process", "pid", h.pid, "kill_grace", s.killGrace.String())
			h.terminate()
			s.arm(timerKill, s.killGrace)
		}

	case timerKill:
		if h := s.proc; h != nil && s.stopping {
			s.logger.Warn("force_killing_process", "pid", h.pid)
			h.kill()
		}
	}
}

// scheduleRestart arms the relaunch timer. At most one relaunch is pending.
func (s *Supervisor) scheduleRestart() {
	if _, pending := s.timers[timerRestart]; pending {
		return
	}

	delay := s.backoff.Next()
	attempt := s.backoff.Attempts()

	s.mu.Lock()
	s.restarts++
	s.attempts = attempt
	s.mu.Unlock()

	s.setState(StateReconnecting)
	s.logger.Info("worker_restart_scheduled",
		"attempt", attempt,
		"delay", delay.String(),
	)
	if s.hooks.OnRestart != nil {
		s.hooks.OnRestart(attempt, delay)
	}
	s.arm(timerRestart, delay)
}

func (s *Supervisor) launch() error {
	cmd, err := s.builder.BuildCommand(s.ctx)
	if err != nil {
		s.logger.Error("failed_to_build_command", "error", err)
		return err
	}

	s.gen++
	h, err := startHandle(cmd, s.gen, s.clock.Now())
	if err != nil {
		s.logger.Error("failed_to_start_process", "error", err)
		return fmt.Errorf("start %s: %w", s.builder.Name(), err)
	}

	s.proc = h
	s.setCurrent(h)
	s.logger.Info("worker_started", "pid", h.pid, "generation", h.gen)

	if s.hooks.OnStart != nil {
		s.hooks.OnStart(h.pid)
	}

	s.watch(h)
	s.arm(timerConnect, s.connectTimeout)
	return nil
}

// watch starts the stdout and stderr readers and the exit watcher. The
// exit event is posted only after both readers drain, so every line the
// worker wrote is delivered before its exit.
func (s *Supervisor) watch(h *handle) {
	var readers sync.WaitGroup
	readers.Add(2)

	h.reader = protocol.NewLineReader(h.stdout, func(msg protocol.Message) {
		s.post(messageEvent{gen: h.gen, msg: msg})
	}).OnInvalid(func(line []byte, err error) {
		s.logger.Debug("line_discarded", "pid", h.pid, "error", err)
		if s.hooks.OnInvalidLine != nil {
			s.hooks.OnInvalidLine(line, err)
		}
	})

	go func() {
		defer readers.Done()
		if err := h.reader.Run(); err != nil && !errors.Is(err, os.ErrClosed) {
			s.logger.Debug("stdout_read_error", "pid", h.pid, "error", err)
		}
	}()

	go func() {
		defer readers.Done()
		protocol.ReadLines(h.stderr, func(line []byte, _ bool) {
			if len(bytes.TrimSpace(line)) == 0 {
				return
			}
			s.post(stderrEvent{gen: h.gen, line: string(line)})
		})
	}()

	go func() {
		waitErr := h.cmd.Wait()
		h.exited.Store(true)
		h.closeStdin()

		drained := make(chan struct{})
		go func() {
			readers.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(s.drainTimeout):
			s.logger.Debug("reader_drain_timeout", "pid", h.pid)
			h.stdout.Close()
			h.stderr.Close()
			<-drained
		}
		h.stdout.Close()
		h.stderr.Close()

		s.post(exitEvent{
			gen:    h.gen,
			code:   exitCode(h.cmd.ProcessState),
			err:    waitErr,
			uptime: s.clock.Now().Sub(h.started),
		})
	}()
}

func (s *Supervisor) fail(err error) {
	s.setState(StateError)
	if s.hooks.OnError != nil {
		s.hooks.OnError(err)
	}
	s.resolveStartWaiters(err)
}

func (s *Supervisor) finishStop() {
	s.stopping = false
	s.resetAttempts()
	s.setState(StateDisconnected)
	s.logger.Info("worker_stopped")
	for _, w := range s.stopWaiters {
		w <- nil
	}
	s.stopWaiters = nil
}

func (s *Supervisor) shutdown() {
	for kind := range s.timers {
		s.disarm(kind)
	}
	s.resolveStartWaiters(ErrClosed)
	if h := s.proc; h != nil {
		h.kill()
		h.closeStdin()
		s.proc = nil
		s.setCurrent(nil)
	}
	s.stopping = false
	s.setState(StateDisconnected)
	for _, w := range s.stopWaiters {
		w <- nil
	}
	s.stopWaiters = nil
}

func (s *Supervisor) resolveStartWaiters(err error) {
	for _, w := range s.startWaiters {
		w <- err
	}
	s.startWaiters = nil
}

func (s *Supervisor) arm(kind timerKind, d time.Duration) {
	s.disarm(kind)
	s.timerSeq++
	seq := s.timerSeq
	t := s.clock.AfterFunc(d, func() {
		s.post(timerEvent{kind: kind, seq: seq})
	})
	s.timers[kind] = armedTimer{timer: t, seq: seq}
	s.markTimer(kind, true)
}

func (s *Supervisor) disarm(kind timerKind) {
	if at, ok := s.timers[kind]; ok {
		at.timer.Stop()
		delete(s.timers, kind)
		s.markTimer(kind, false)
	}
}

func (s *Supervisor) markTimer(kind timerKind, armed bool) {
	if kind != timerRestart {
		return
	}
	s.mu.Lock()
	s.restartPending = armed
	s.mu.Unlock()
}

func (s *Supervisor) resetAttempts() {
	s.backoff.Reset()
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
}

func (s *Supervisor) setCurrent(h *handle) {
	s.mu.Lock()
	s.current = h
	s.mu.Unlock()
}

func (s *Supervisor) setState(newState State) {
	s.mu.Lock()
	oldState := s.state
	if oldState == newState {
		s.mu.Unlock()
		return
	}
	s.state = newState
	s.mu.Unlock()

	s.logger.Debug("state_changed", "from", oldState.String(), "to", newState.String())
	if s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(oldState, newState)
	}
}
