//go:build !windows

package preflight

import "syscall"

func fileDescriptorLimit() (int, bool) {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return 0, false
	}
	return int(limit.Cur), true
}
