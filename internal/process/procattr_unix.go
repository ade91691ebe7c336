//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// DefaultBinaryName is the worker executable searched for when no explicit
// path is configured.
const DefaultBinaryName = "mediactl-worker"

// ConfigureCommand places the worker in its own process group so that
// signals reach any children it spawns.
func ConfigureCommand(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Terminate asks the worker's process group to exit.
func Terminate(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

// Kill forcibly stops the worker's process group.
func Kill(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	if pgid, err := syscall.Getpgid(p.Pid); err == nil && pgid == p.Pid {
		return syscall.Kill(-pgid, sig)
	}
	return p.Signal(sig)
}

func isExecutable(fi os.FileInfo) bool {
	return fi.Mode().IsRegular() && fi.Mode().Perm()&0o111 != 0
}
