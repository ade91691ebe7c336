//go:build windows

package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// DefaultBinaryName is the worker executable searched for when no explicit
// path is configured.
const DefaultBinaryName = "mediactl-worker.exe"

// ConfigureCommand hides the worker's console window.
func ConfigureCommand(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
}

// Terminate stops the worker. Windows has no SIGTERM equivalent for
// console-less processes.
func Terminate(p *os.Process) error {
	return Kill(p)
}

// Kill forcibly stops the worker.
func Kill(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}

func isExecutable(fi os.FileInfo) bool {
	return fi.Mode().IsRegular() && strings.EqualFold(filepath.Ext(fi.Name()), ".exe")
}
