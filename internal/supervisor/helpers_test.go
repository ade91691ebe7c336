package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randomizedcoder/go-mediactl/internal/process"
	"github.com/randomizedcoder/go-mediactl/internal/protocol"
)

const (
	mediaLine = `{"type":"media","data":{"title":"A","playbackStatus":"Playing"}}`

	// Distinct durations let tests pick timers apart on the fake clock.
	testConnectTimeout = time.Hour
	testStopGrace      = 2 * time.Hour
	testKillGrace      = 3 * time.Hour
)

// =============================================================================
// Mock ProcessBuilder for testing
// =============================================================================

// mockBuilder implements ProcessBuilder for testing.
type mockBuilder struct {
	name    string
	buildFn func(ctx context.Context) (*exec.Cmd, error)
	builds  atomic.Int32
}

func (m *mockBuilder) BuildCommand(ctx context.Context) (*exec.Cmd, error) {
	m.builds.Add(1)
	return m.buildFn(ctx)
}

func (m *mockBuilder) Name() string {
	if m.name != "" {
		return m.name
	}
	return "mock"
}

// newScriptBuilder runs script with bash. Each launch runs the same script.
func newScriptBuilder(script string) *mockBuilder {
	return &mockBuilder{
		buildFn: func(ctx context.Context) (*exec.Cmd, error) {
			cmd := exec.CommandContext(ctx, "bash", "-c", script)
			process.ConfigureCommand(cmd)
			return cmd, nil
		},
	}
}

// newFailingBuilder returns err from every BuildCommand call.
func newFailingBuilder(err error) *mockBuilder {
	return &mockBuilder{
		buildFn: func(context.Context) (*exec.Cmd, error) {
			return nil, err
		},
	}
}

// connectScript sends one media record and runs until it reads "close" or
// stdin reaches EOF.
func connectScript() string {
	return `echo '` + mediaLine + `'; while read -r line; do case "$line" in *close*) exit 0;; esac; done`
}

// crashScript connects and then exits with code.
func crashScript(code string) string {
	return `echo '` + mediaLine + `'; exit ` + code
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBackoff() *Backoff {
	return NewBackoff(DefaultBackoffConfig(), NewJitterSource(12345))
}

// =============================================================================
// Fake clock
// =============================================================================

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) isStopped() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.stopped
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Fire runs the timer callback as if the duration elapsed.
func (t *fakeTimer) Fire() {
	t.clock.mu.Lock()
	if t.stopped || t.fired {
		t.clock.mu.Unlock()
		return
	}
	t.fired = true
	t.clock.mu.Unlock()
	t.f()
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// pending returns armed timers whose duration satisfies match.
func (c *fakeClock) pending(match func(time.Duration) bool) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && match(t.d) {
			out = append(out, t)
		}
	}
	return out
}

// waitTimer waits until exactly one matching timer is armed and returns it.
func (c *fakeClock) waitTimer(t *testing.T, match func(time.Duration) bool) *fakeTimer {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p := c.pending(match); len(p) == 1 {
			return p[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timer not armed, pending = %d", len(c.pending(match)))
	return nil
}

func isRestartDelay(d time.Duration) bool { return d < time.Minute }
func isConnectTimer(d time.Duration) bool { return d == testConnectTimeout }
func isGraceTimer(d time.Duration) bool   { return d == testStopGrace }
func isKillTimer(d time.Duration) bool    { return d == testKillGrace }

// =============================================================================
// Hook recorder
// =============================================================================

type recorder struct {
	mu       sync.Mutex
	states   []State
	messages []protocol.Message
	invalid  int
	stderr   []string
	exits    []*int
	restarts []time.Duration
	errs     []error
	starts   []int
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnStateChange: func(_, newState State) {
			r.mu.Lock()
			r.states = append(r.states, newState)
			r.mu.Unlock()
		},
		OnStart: func(pid int) {
			r.mu.Lock()
			r.starts = append(r.starts, pid)
			r.mu.Unlock()
		},
		OnMessage: func(msg protocol.Message) {
			r.mu.Lock()
			r.messages = append(r.messages, msg)
			r.mu.Unlock()
		},
		OnInvalidLine: func([]byte, error) {
			r.mu.Lock()
			r.invalid++
			r.mu.Unlock()
		},
		OnStderr: func(line string) {
			r.mu.Lock()
			r.stderr = append(r.stderr, line)
			r.mu.Unlock()
		},
		OnExit: func(code *int, _ time.Duration) {
			r.mu.Lock()
			r.exits = append(r.exits, code)
			r.mu.Unlock()
		},
		OnRestart: func(_ int, delay time.Duration) {
			r.mu.Lock()
			r.restarts = append(r.restarts, delay)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		states:   append([]State(nil), r.states...),
		messages: append([]protocol.Message(nil), r.messages...),
		invalid:  r.invalid,
		stderr:   append([]string(nil), r.stderr...),
		exits:    append([]*int(nil), r.exits...),
		restarts: append([]time.Duration(nil), r.restarts...),
		errs:     append([]error(nil), r.errs...),
		starts:   append([]int(nil), r.starts...),
	}
}

// =============================================================================
// Setup helpers
// =============================================================================

type fixture struct {
	sup   *Supervisor
	clock *fakeClock
	rec   *recorder
}

func newFixture(t *testing.T, builder ProcessBuilder, autoRestart bool) *fixture {
	t.Helper()
	f := &fixture{clock: newFakeClock(), rec: &recorder{}}
	f.sup = New(Config{
		Builder:        builder,
		Backoff:        newTestBackoff(),
		Logger:         newTestLogger(),
		Hooks:          f.rec.hooks(),
		Clock:          f.clock,
		AutoRestart:    autoRestart,
		ConnectTimeout: testConnectTimeout,
		StopGrace:      testStopGrace,
		KillGrace:      testKillGrace,
		DrainTimeout:   time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go f.sup.Run(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-f.sup.Done():
		case <-time.After(5 * time.Second):
			t.Error("supervisor loop did not exit")
		}
	})
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForState(t *testing.T, s *Supervisor, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return s.State() == want })
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
