// Package dispatch writes encoded commands to the worker's stdin.
//
// Send makes a single attempt. SendWithRetry retries failed writes with
// exponential delay while the worker stays alive, and gives up at once when
// it is gone. SendClose is the best-effort shutdown command used by Stop.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-mediactl/internal/protocol"
)

var (
	// ErrNotRunning is returned when no worker process is live.
	ErrNotRunning = errors.New("worker not running")
)

const (
	DefaultMaxAttempts    = 3
	DefaultBaseRetryDelay = 100 * time.Millisecond
)

// Conn is the write side of a supervised worker.
type Conn interface {
	// Alive reports whether a worker process is running.
	Alive() bool

	// WriteLine writes one encoded line in a single write.
	WriteLine(line []byte) error
}

// RetryError is returned by SendWithRetry when every attempt failed.
type RetryError struct {
	Command  protocol.Command
	Attempts int
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("command %s failed after %d attempts: %v", e.Command, e.Attempts, e.Last)
}

func (e *RetryError) Unwrap() error {
	return e.Last
}

// Result describes one write attempt.
type Result struct {
	Command protocol.Command
	Attempt int
	Latency time.Duration
	Err     error
}

// Config holds configuration for creating a Dispatcher.
type Config struct {
	Conn           Conn
	Logger         *slog.Logger
	MaxAttempts    int           // default 3
	BaseRetryDelay time.Duration // default 100ms

	// OnResult is called after every write attempt.
	OnResult func(Result)
}

// Dispatcher sends commands to the worker.
type Dispatcher struct {
	conn        Conn
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	onResult    func(Result)

	// sleep waits d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	sent    atomic.Uint64
	failed  atomic.Uint64
	retries atomic.Uint64
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	baseDelay := cfg.BaseRetryDelay
	if baseDelay < 0 {
		baseDelay = 0
	} else if baseDelay == 0 {
		baseDelay = DefaultBaseRetryDelay
	}

	return &Dispatcher{
		conn:        cfg.Conn,
		logger:      logger,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		onResult:    cfg.OnResult,
		sleep:       sleepContext,
		now:         time.Now,
	}
}

// MaxAttempts returns the default attempt budget for SendWithRetry.
func (d *Dispatcher) MaxAttempts() int {
	return d.maxAttempts
}

// Send encodes cmd and writes it once.
func (d *Dispatcher) Send(ctx context.Context, cmd protocol.Command) error {
	line, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	return d.write(ctx, cmd, line, 1)
}

// SendWithRetry sends cmd, retrying failed writes up to maxAttempts times
// in total. A value <= 0 uses the configured default. Between attempts it
// waits base*2^attempt. If the worker is no longer alive after a failure
// the error is returned immediately.
func (d *Dispatcher) SendWithRetry(ctx context.Context, cmd protocol.Command, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = d.maxAttempts
	}

	line, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}

	var last error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			d.retries.Add(1)
			delay := d.retryDelay(attempt - 1)
			d.logger.Debug("command_retry",
				"command", cmd.String(),
				"attempt", attempt+1,
				"delay", delay,
				"error", last,
			)
			if err := d.sleep(ctx, delay); err != nil {
				return err
			}
		}

		last = d.write(ctx, cmd, line, attempt+1)
		if last == nil {
			return nil
		}
		if errors.Is(last, ErrNotRunning) || !d.conn.Alive() {
			d.logger.Debug("command_abandoned", "command", cmd.String(), "error", last)
			if errors.Is(last, ErrNotRunning) {
				return last
			}
			return fmt.Errorf("%w: %w", ErrNotRunning, last)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	d.logger.Warn("command_failed",
		"command", cmd.String(),
		"attempts", maxAttempts,
		"error", last,
	)
	return &RetryError{Command: cmd, Attempts: maxAttempts, Last: last}
}

// SendClose asks the worker to exit. It makes a single attempt.
func (d *Dispatcher) SendClose(ctx context.Context) error {
	return d.Send(ctx, protocol.NewCommand(protocol.CmdClose))
}

// Stats returns counters of successful writes, failed writes and retries.
func (d *Dispatcher) Stats() (sent, failed, retries uint64) {
	return d.sent.Load(), d.failed.Load(), d.retries.Load()
}

func (d *Dispatcher) write(ctx context.Context, cmd protocol.Command, line []byte, attempt int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.conn.Alive() {
		d.record(Result{Command: cmd, Attempt: attempt, Err: ErrNotRunning})
		return ErrNotRunning
	}

	start := d.now()
	err := d.conn.WriteLine(line)
	d.record(Result{Command: cmd, Attempt: attempt, Latency: d.now().Sub(start), Err: err})
	if err != nil {
		return fmt.Errorf("write %s: %w", cmd.Name, err)
	}
	return nil
}

func (d *Dispatcher) record(r Result) {
	if r.Err == nil {
		d.sent.Add(1)
	} else {
		d.failed.Add(1)
	}
	if d.onResult != nil {
		d.onResult(r)
	}
}

// retryDelay returns base*2^n, saturating instead of overflowing.
func (d *Dispatcher) retryDelay(n int) time.Duration {
	delay := d.baseDelay
	for i := 0; i < n; i++ {
		if delay > time.Duration(1<<62)/2 {
			return time.Duration(1 << 62)
		}
		delay *= 2
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
