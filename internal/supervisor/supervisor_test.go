package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randomizedcoder/go-mediactl/internal/protocol"
)

// =============================================================================
// Table-Driven Tests: State
// =============================================================================

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateError, "error"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestState_IsActive(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateDisconnected, false},
		{StateConnecting, true},
		{StateConnected, true},
		{StateReconnecting, true},
		{StateError, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsActive(); got != tt.want {
				t.Errorf("State(%v).IsActive() = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	for _, s := range AllStates() {
		want := s == StateDisconnected || s == StateError
		if got := s.IsTerminal(); got != want {
			t.Errorf("State(%v).IsTerminal() = %v, want %v", s, got, want)
		}
	}
}

// =============================================================================
// Table-Driven Tests: exitCode
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"success", "exit 0", "0"},
		{"exit 1", "exit 1", "1"},
		{"exit 42", "exit 42", "42"},
		{"signal", "kill -9 $$", "signal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := exec.Command("bash", "-c", tt.script)
			_ = cmd.Run()
			if got := FormatExitCode(exitCode(cmd.ProcessState)); got != tt.want {
				t.Errorf("exitCode() = %s, want %s", got, tt.want)
			}
		})
	}

	if exitCode(nil) != nil {
		t.Error("exitCode(nil) != nil")
	}
}

// =============================================================================
// Tests: Lifecycle
// =============================================================================

func TestSupervisor_InitialState(t *testing.T) {
	sup := New(Config{
		Builder: newScriptBuilder("true"),
		Logger:  newTestLogger(),
	})

	if sup.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", sup.State())
	}
	if sup.Alive() {
		t.Error("Alive() = true before Start")
	}
	if sup.PID() != 0 || sup.Restarts() != 0 || sup.Attempts() != 0 || sup.Uptime() != 0 {
		t.Error("counters not zero before Start")
	}
	if err := sup.WriteLine([]byte("x\n")); !errors.Is(err, ErrNoProcess) {
		t.Errorf("WriteLine() error = %v, want ErrNoProcess", err)
	}
}

func TestSupervisor_StartConnectsAndStops(t *testing.T) {
	f := newFixture(t, newScriptBuilder(connectScript()), true)
	ctx := testContext(t)

	if err := f.sup.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if f.sup.State() != StateConnected {
		t.Errorf("State() = %v, want connected", f.sup.State())
	}
	if !f.sup.Alive() || f.sup.PID() == 0 {
		t.Error("worker not alive after Start")
	}

	rec := f.rec.snapshot()
	if len(rec.messages) != 1 || rec.messages[0].Media == nil || rec.messages[0].Media.Title != "A" {
		t.Errorf("messages = %+v, want one media record", rec.messages)
	}
	if len(f.clock.pending(isConnectTimer)) != 0 {
		t.Error("connect timer still armed after connecting")
	}

	if err := f.sup.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if f.sup.State() != StateDisconnected {
		t.Errorf("State() after Stop = %v, want disconnected", f.sup.State())
	}
	if f.sup.Alive() {
		t.Error("Alive() = true after Stop")
	}

	rec = f.rec.snapshot()
	want := []State{StateConnecting, StateConnected, StateDisconnected}
	if !reflect.DeepEqual(rec.states, want) {
		t.Errorf("states = %v, want %v", rec.states, want)
	}
	if len(rec.exits) != 1 || rec.exits[0] == nil || *rec.exits[0] != 0 {
		t.Errorf("exits = %v, want one clean exit", rec.exits)
	}
	if len(rec.restarts) != 0 {
		t.Errorf("restarts = %v, want none", rec.restarts)
	}
	if len(f.clock.pending(isGraceTimer)) != 0 {
		t.Error("grace timer still armed after Stop")
	}
}

func TestSupervisor_StartAlreadyRunning(t *testing.T) {
	f := newFixture(t, newScriptBuilder(connectScript()), true)
	ctx := testContext(t)

	if err := f.sup.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	before := len(f.rec.snapshot().states)

	if err := f.sup.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if after := len(f.rec.snapshot().states); after != before {
		t.Errorf("state changes after rejected Start: %d -> %d", before, after)
	}
}

func TestSupervisor_BuildError(t *testing.T) {
	buildErr := errors.New("executable not found")
	f := newFixture(t, newFailingBuilder(buildErr), true)

	err := f.sup.Start(testContext(t))
	if !errors.Is(err, buildErr) {
		t.Fatalf("Start() error = %v, want %v", err, buildErr)
	}
	if f.sup.State() != StateError {
		t.Errorf("State() = %v, want error", f.sup.State())
	}

	rec := f.rec.snapshot()
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], buildErr) {
		t.Errorf("errs = %v, want the build error", rec.errs)
	}
	if len(rec.exits) != 0 {
		t.Errorf("exits = %v, want none", rec.exits)
	}
}

func TestSupervisor_ExitBeforeConnect(t *testing.T) {
	f := newFixture(t, newScriptBuilder("exit 3"), true)

	err := f.sup.Start(testContext(t))
	if !errors.Is(err, ErrExitedBeforeConnect) {
		t.Fatalf("Start() error = %v, want ErrExitedBeforeConnect", err)
	}
	if f.sup.State() != StateError {
		t.Errorf("State() = %v, want error", f.sup.State())
	}
	rec := f.rec.snapshot()
	if len(rec.exits) != 0 {
		t.Errorf("exits = %v, want none before connecting", rec.exits)
	}
	if len(rec.restarts) != 0 {
		t.Errorf("restarts = %v, want none", rec.restarts)
	}
}

func TestSupervisor_ConnectTimeout(t *testing.T) {
	f := newFixture(t, newScriptBuilder("sleep 30"), true)

	ctx := testContext(t)
	errCh := make(chan error, 1)
	go func() { errCh <- f.sup.Start(ctx) }()

	f.clock.waitTimer(t, isConnectTimer).Fire()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectTimeout) {
			t.Fatalf("Start() error = %v, want ErrConnectTimeout", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after connect timeout")
	}

	if f.sup.State() != StateError {
		t.Errorf("State() = %v, want error", f.sup.State())
	}
	waitFor(t, "worker killed", func() bool { return !f.sup.Alive() })
	if len(f.clock.pending(isRestartDelay)) != 0 {
		t.Error("restart scheduled after initial connect timeout")
	}
}

// A worker that connects and then exits with code 1 is relaunched once
// after a backoff delay.
func TestSupervisor_CrashAndRestart(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "crashed")
	script := fmt.Sprintf(`if [ -f %q ]; then %s; else touch %q; %s; fi`,
		marker, connectScript(), marker, crashScript("1"))
	f := newFixture(t, newScriptBuilder(script), true)

	if err := f.sup.Start(testContext(t)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitForState(t, f.sup, StateReconnecting)
	restart := f.clock.waitTimer(t, isRestartDelay)

	if restart.d < time.Second || restart.d >= 2*time.Second {
		t.Errorf("restart delay = %v, want [1s, 2s)", restart.d)
	}
	if !f.sup.RestartPending() {
		t.Error("RestartPending() = false")
	}
	if f.sup.Attempts() != 1 || f.sup.Restarts() != 1 {
		t.Errorf("Attempts/Restarts = %d/%d, want 1/1", f.sup.Attempts(), f.sup.Restarts())
	}

	rec := f.rec.snapshot()
	if len(rec.exits) != 1 || rec.exits[0] == nil || *rec.exits[0] != 1 {
		t.Errorf("exits = %v, want one exit with code 1", rec.exits)
	}

	restart.Fire()
	waitForState(t, f.sup, StateConnected)

	if f.sup.Attempts() != 0 {
		t.Errorf("Attempts() after reconnect = %d, want 0", f.sup.Attempts())
	}
	rec = f.rec.snapshot()
	want := []State{StateConnecting, StateConnected, StateReconnecting, StateConnected}
	if !reflect.DeepEqual(rec.states, want) {
		t.Errorf("states = %v, want %v", rec.states, want)
	}
	if len(rec.starts) != 2 {
		t.Errorf("starts = %d, want 2", len(rec.starts))
	}
}

func TestSupervisor_CleanExitDoesNotRestart(t *testing.T) {
	f := newFixture(t, newScriptBuilder(crashScript("0")), true)

	if err := f.sup.Start(testContext(t)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, f.sup, StateDisconnected)

	if len(f.clock.pending(isRestartDelay)) != 0 {
		t.Error("restart scheduled after clean exit")
	}
	if rec := f.rec.snapshot(); len(rec.restarts) != 0 {
		t.Errorf("restarts = %v, want none", rec.restarts)
	}
}

func TestSupervisor_AutoRestartDisabled(t *testing.T) {
	f := newFixture(t, newScriptBuilder(crashScript("1")), false)

	if err := f.sup.Start(testContext(t)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, f.sup, StateDisconnected)

	if len(f.clock.pending(isRestartDelay)) != 0 {
		t.Error("restart scheduled with auto restart disabled")
	}
	rec := f.rec.snapshot()
	if len(rec.exits) != 1 {
		t.Errorf("exits = %d, want 1", len(rec.exits))
	}
}

func TestSupervisor_RelaunchFailureIsTerminal(t *testing.T) {
	var calls atomic.Int32
	builder := &mockBuilder{
		buildFn: func(ctx context.Context) (*exec.Cmd, error) {
			if calls.Add(1) > 1 {
				return nil, errors.New("binary vanished")
			}
			return exec.CommandContext(ctx, "bash", "-c", crashScript("2")), nil
		},
	}
	f := newFixture(t, builder, true)

	if err := f.sup.Start(testContext(t)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.clock.waitTimer(t, isRestartDelay).Fire()
	waitForState(t, f.sup, StateError)

	if len(f.clock.pending(isRestartDelay)) != 0 {
		t.Error("further restart scheduled after relaunch failure")
	}
	if rec := f.rec.snapshot(); len(rec.errs) != 1 {
		t.Errorf("errs = %v, want one relaunch error", rec.errs)
	}
}

func TestSupervisor_StopCancelsPendingRestart(t *testing.T) {
	f := newFixture(t, newScriptBuilder(crashScript("1")), true)
	ctx := testContext(t)

	if err := f.sup.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	restart := f.clock.waitTimer(t, isRestartDelay)

	if err := f.sup.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if f.sup.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", f.sup.State())
	}
	if !restart.isStopped() {
		t.Error("restart timer not cancelled by Stop")
	}
	if f.sup.RestartPending() {
		t.Error("RestartPending() = true after Stop")
	}
	if f.sup.Attempts() != 0 {
		t.Errorf("Attempts() = %d, want 0 after Stop", f.sup.Attempts())
	}

	// A fire already in flight when Stop ran must not relaunch.
	restart.f()
	time.Sleep(50 * time.Millisecond)
	if f.sup.Alive() || f.sup.State() != StateDisconnected {
		t.Error("stale restart timer relaunched the worker")
	}
}

func TestSupervisor_StopForceKill(t *testing.T) {
	script := `echo '` + mediaLine + `'; exec 0<&-; trap '' TERM; while true; do sleep 0.05; done`
	f := newFixture(t, newScriptBuilder(script), true)
	ctx := testContext(t)

	if err := f.sup.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- f.sup.Stop(ctx) }()

	f.clock.waitTimer(t, isGraceTimer).Fire()

	// SIGTERM is trapped, so only the kill timer ends the worker.
	select {
	case <-stopped:
		t.Fatal("Stop() returned before the kill timer fired")
	case <-time.After(100 * time.Millisecond):
	}
	f.clock.waitTimer(t, isKillTimer).Fire()

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return after kill timer")
	}

	rec := f.rec.snapshot()
	if len(rec.exits) != 1 || rec.exits[0] != nil {
		t.Errorf("exits = %v, want one signal exit", rec.exits)
	}
	if f.sup.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", f.sup.State())
	}
	if len(f.clock.pending(isRestartDelay)) != 0 {
		t.Error("restart scheduled during Stop")
	}
}

func TestSupervisor_StopTerminatesAfterGrace(t *testing.T) {
	script := `echo '` + mediaLine + `'; exec 0<&-; while true; do sleep 0.05; done`
	f := newFixture(t, newScriptBuilder(script), true)
	ctx := testContext(t)

	if err := f.sup.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- f.sup.Stop(ctx) }()

	f.clock.waitTimer(t, isGraceTimer).Fire()
	kill := f.clock.waitTimer(t, isKillTimer)

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SIGTERM did not stop the worker")
	}

	if !kill.isStopped() {
		t.Error("kill timer still armed after the worker exited")
	}
	rec := f.rec.snapshot()
	if len(rec.exits) != 1 || rec.exits[0] != nil {
		t.Errorf("exits = %v, want one signal exit", rec.exits)
	}
	if f.sup.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", f.sup.State())
	}
}

// A crash arms a restart; Stop cancels it and an immediate Start connects
// a fresh worker without the old timer ever firing.
func TestSupervisor_StopThenStart(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "launched")
	script := `if [ -e '` + marker + `' ]; then ` + connectScript() + `; else touch '` + marker + `'; ` + crashScript("1") + `; fi`
	builder := newScriptBuilder(script)
	f := newFixture(t, builder, true)
	ctx := testContext(t)

	if err := f.sup.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	restart := f.clock.waitTimer(t, isRestartDelay)

	if err := f.sup.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if f.sup.State() != StateDisconnected {
		t.Fatalf("State() after Stop = %v, want disconnected", f.sup.State())
	}
	before := len(f.rec.snapshot().states)

	if err := f.sup.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	states := f.rec.snapshot().states[before:]
	want := []State{StateConnecting, StateConnected}
	if len(states) != len(want) {
		t.Fatalf("states after restart = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d = %v, want %v", i, states[i], want[i])
		}
	}

	if !restart.isStopped() {
		t.Error("restart timer from the crash is still armed")
	}
	if f.sup.RestartPending() {
		t.Error("RestartPending() = true after Stop then Start")
	}
	if n := len(f.clock.pending(isRestartDelay)); n != 0 {
		t.Errorf("pending restart timers = %d, want 0", n)
	}
	if got := builder.builds.Load(); got != 2 {
		t.Errorf("builds = %d, want 2", got)
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSupervisor_ExitLogIncludesReaderStats(t *testing.T) {
	var logs syncBuffer
	rec := &recorder{}
	sup := New(Config{
		Builder:        newScriptBuilder(`echo '` + mediaLine + `'; echo 'garbage'; exit 3`),
		Backoff:        newTestBackoff(),
		Logger:         slog.New(slog.NewTextHandler(&logs, nil)),
		Hooks:          rec.hooks(),
		Clock:          newFakeClock(),
		ConnectTimeout: testConnectTimeout,
		StopGrace:      testStopGrace,
		KillGrace:      testKillGrace,
		DrainTimeout:   time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-sup.Done()
	}()
	go sup.Run(ctx)

	if err := sup.Start(testContext(t)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "exit", func() bool { return len(rec.snapshot().exits) == 1 })

	var line string
	for _, l := range strings.Split(logs.String(), "\n") {
		if strings.Contains(l, "msg=worker_exited") {
			line = l
		}
	}
	if line == "" {
		t.Fatalf("no worker_exited log:\n%s", logs.String())
	}
	for _, want := range []string{
		"exit_code=3",
		"stdout_lines=2",
		"decoded=1",
		"malformed=1",
		`wait_error="exit status 3"`,
	} {
		if !strings.Contains(line, want) {
			t.Errorf("worker_exited log missing %s: %s", want, line)
		}
	}
}

func TestSupervisor_StopWhenIdle(t *testing.T) {
	f := newFixture(t, newScriptBuilder("true"), true)
	if err := f.sup.Stop(testContext(t)); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if rec := f.rec.snapshot(); len(rec.states) != 0 {
		t.Errorf("states = %v, want none", rec.states)
	}
}

type recordingCloser struct {
	sup   *Supervisor
	calls atomic.Int32
}

func (c *recordingCloser) SendClose(context.Context) error {
	c.calls.Add(1)
	line, _ := protocol.Encode(protocol.NewCommand(protocol.CmdClose))
	return c.sup.WriteLine(line)
}

func TestSupervisor_StopUsesCloser(t *testing.T) {
	f := newFixture(t, newScriptBuilder(connectScript()), true)
	closer := &recordingCloser{sup: f.sup}
	f.sup.SetCloser(closer)
	ctx := testContext(t)

	if err := f.sup.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.sup.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if closer.calls.Load() != 1 {
		t.Errorf("SendClose calls = %d, want 1", closer.calls.Load())
	}
}

// =============================================================================
// Tests: Streams
// =============================================================================

func TestSupervisor_StderrAndInvalidLines(t *testing.T) {
	script := `echo 'device lost' >&2; echo 'not json'; echo '{"type":"lyrics","data":{}}'; ` + connectScript()
	f := newFixture(t, newScriptBuilder(script), true)

	if err := f.sup.Start(testContext(t)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "stderr line", func() bool { return len(f.rec.snapshot().stderr) == 1 })

	rec := f.rec.snapshot()
	if rec.stderr[0] != "device lost" {
		t.Errorf("stderr = %q, want %q", rec.stderr[0], "device lost")
	}
	if rec.invalid != 2 {
		t.Errorf("invalid lines = %d, want 2", rec.invalid)
	}
	if len(rec.messages) != 1 {
		t.Errorf("messages = %d, want 1", len(rec.messages))
	}
}

// Volume records are delivered but do not confirm the connection.
func TestSupervisor_VolumeDoesNotConnect(t *testing.T) {
	script := `echo '{"type":"volume","data":{"volume":30,"muted":false}}'; sleep 30`
	f := newFixture(t, newScriptBuilder(script), true)

	ctx := testContext(t)
	go f.sup.Start(ctx)
	waitFor(t, "volume record", func() bool { return len(f.rec.snapshot().messages) == 1 })

	if f.sup.State() != StateConnecting {
		t.Errorf("State() = %v, want connecting", f.sup.State())
	}
}

func TestSupervisor_WriteLine(t *testing.T) {
	script := `echo '` + mediaLine + `'; while read -r line; do echo "got:$line" >&2; done`
	f := newFixture(t, newScriptBuilder(script), true)

	if err := f.sup.Start(testContext(t)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			line, _ := protocol.Encode(protocol.SetVolumeCommand(i))
			if err := f.sup.WriteLine(line); err != nil {
				t.Errorf("WriteLine() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	waitFor(t, "echoed commands", func() bool { return len(f.rec.snapshot().stderr) == 10 })
	for _, l := range f.rec.snapshot().stderr {
		cmd, err := protocol.DecodeCommand([]byte(l[len("got:"):]))
		if err != nil || cmd.Name != protocol.CmdSetVolume {
			t.Errorf("interleaved or corrupt line %q: %v", l, err)
		}
	}
}

// =============================================================================
// Tests: Loop internals
// =============================================================================

// A second scheduleRestart while one is pending arms nothing.
func TestSupervisor_SingleRestartTimer(t *testing.T) {
	clock := newFakeClock()
	sup := New(Config{
		Builder: newScriptBuilder("true"),
		Backoff: newTestBackoff(),
		Logger:  newTestLogger(),
		Clock:   clock,
	})
	sup.setState(StateConnected)

	sup.scheduleRestart()
	sup.scheduleRestart()

	if n := len(clock.pending(isRestartDelay)); n != 1 {
		t.Errorf("pending restart timers = %d, want 1", n)
	}
	if sup.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", sup.Attempts())
	}
}

func TestSupervisor_StaleTimerIgnored(t *testing.T) {
	clock := newFakeClock()
	sup := New(Config{
		Builder: newFailingBuilder(errors.New("must not build")),
		Logger:  newTestLogger(),
		Clock:   clock,
	})
	sup.setState(StateReconnecting)

	sup.arm(timerRestart, time.Second)
	stale := sup.timers[timerRestart].seq
	sup.arm(timerRestart, time.Second)

	sup.handleTimer(timerEvent{kind: timerRestart, seq: stale})

	if _, ok := sup.timers[timerRestart]; !ok {
		t.Error("stale timer event consumed the live timer")
	}
	if sup.State() != StateReconnecting {
		t.Errorf("State() = %v, want reconnecting", sup.State())
	}
}

func TestSupervisor_RunCancel(t *testing.T) {
	sup := New(Config{
		Builder: newScriptBuilder(connectScript()),
		Logger:  newTestLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	if err := sup.Start(testContext(t)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return")
	}

	if sup.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", sup.State())
	}
	if err := sup.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() after close error = %v, want ErrClosed", err)
	}
}

// =============================================================================
// Tests: Concurrent Access
// =============================================================================

func TestSupervisor_ConcurrentStateAccess(t *testing.T) {
	f := newFixture(t, newScriptBuilder(connectScript()), true)
	ctx := testContext(t)
	go f.sup.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.sup.State()
			_ = f.sup.Alive()
			_ = f.sup.PID()
			_ = f.sup.Restarts()
			_ = f.sup.Uptime()
			_ = f.sup.RestartPending()
		}()
	}
	wg.Wait()
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkSupervisor_StateAccess(b *testing.B) {
	sup := New(Config{Builder: newScriptBuilder("true"), Logger: newTestLogger()})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = sup.State()
	}
}
