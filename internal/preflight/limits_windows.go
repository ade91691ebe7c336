//go:build windows

package preflight

// Windows has no per-process descriptor rlimit.
func fileDescriptorLimit() (int, bool) {
	return 0, false
}
