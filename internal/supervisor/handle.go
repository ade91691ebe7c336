package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-mediactl/internal/process"
	"github.com/randomizedcoder/go-mediactl/internal/protocol"
)

// handle is one launched worker. The supervisor loop owns it; WriteLine is
// the only method called from other goroutines.
type handle struct {
	gen     uint64
	cmd     *exec.Cmd
	pid     int
	started time.Time
	stdin   io.WriteCloser
	stdout  *os.File
	stderr  *os.File
	reader  *protocol.LineReader

	writeMu sync.Mutex
	exited  atomic.Bool

	connected bool
	closing   bool
	timedOut  bool
}

// write sends one line to the worker's stdin in a single Write call.
func (h *handle) write(line []byte) error {
	if h.exited.Load() {
		return ErrNoProcess
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err := h.stdin.Write(line)
	return err
}

func (h *handle) closeStdin() {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	h.stdin.Close()
}

func (h *handle) terminate() {
	if h.cmd.Process != nil {
		process.Terminate(h.cmd.Process)
	}
}

func (h *handle) kill() {
	if h.cmd.Process != nil {
		process.Kill(h.cmd.Process)
	}
}

// start wires stdio and starts cmd. stdout and stderr use os.Pipe rather
// than Cmd.StdoutPipe so that Wait does not close the read ends while the
// readers are still draining.
func startHandle(cmd *exec.Cmd, gen uint64, now time.Time) (*handle, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, err
	}

	// The child holds its own copies; closing ours gives EOF on exit.
	outW.Close()
	errW.Close()

	return &handle{
		gen:     gen,
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		started: now,
		stdin:   stdin,
		stdout:  outR,
		stderr:  errR,
	}, nil
}

// exitCode returns the worker's exit code, or nil if it was terminated by
// a signal or never reported a status.
func exitCode(state *os.ProcessState) *int {
	if state == nil {
		return nil
	}
	code := state.ExitCode()
	if code < 0 {
		return nil
	}
	return &code
}

// FormatExitCode renders an exit code for logs.
func FormatExitCode(code *int) string {
	if code == nil {
		return "signal"
	}
	return fmt.Sprintf("%d", *code)
}
