// Package preflight provides startup validation checks.
package preflight

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/randomizedcoder/go-mediactl/internal/process"
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so we read process limits from /proc/self/limits instead.

const (
	// One worker holds three pipes; the rest covers the metrics server,
	// log files and the terminal.
	requiredFileDescriptors = 64
	requiredProcesses       = 16
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool

	// WorkerPath is the resolved executable when the worker check passed.
	WorkerPath string
}

// Options selects what RunAll checks.
type Options struct {
	Resolver process.Resolver // nil searches for process.DefaultBinaryName
	WorkDir  string
	Override string
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	if opts.WorkDir != "" {
		add(checkWorkDir(opts.WorkDir))
	}

	workerCheck, path := checkWorker(opts)
	add(workerCheck)
	result.WorkerPath = path

	add(checkFileDescriptors())
	add(checkProcessLimit())

	return result
}

// checkWorkDir verifies the working directory exists.
func checkWorkDir(dir string) Check {
	fi, err := os.Stat(dir)
	switch {
	case err != nil:
		return Check{Name: "workdir", Passed: false, Message: err.Error()}
	case !fi.IsDir():
		return Check{Name: "workdir", Passed: false, Message: dir + " is not a directory"}
	}
	return Check{Name: "workdir", Passed: true, Message: dir}
}

// checkWorker verifies the worker executable resolves.
func checkWorker(opts Options) (Check, string) {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = process.NewSearchResolver("")
	}

	path, err := resolver.Resolve(opts.WorkDir, opts.Override)
	if err != nil {
		msg := err.Error()
		var nf *process.NotFoundError
		if errors.As(err, &nf) {
			msg = fmt.Sprintf("%s %s (searched %d locations)", nf.Name, nf.Reason, len(nf.Searched))
		}
		return Check{Name: "worker", Passed: false, Message: msg}, ""
	}

	return Check{
		Name:    "worker",
		Passed:  true,
		Message: "found at " + path,
	}, path
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors() Check {
	actual, ok := fileDescriptorLimit()
	if !ok {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: "unable to check on this platform",
		}
	}

	return Check{
		Name:     "file_descriptors",
		Required: requiredFileDescriptors,
		Actual:   actual,
		Passed:   actual >= requiredFileDescriptors,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, requiredFileDescriptors),
	}
}

// checkProcessLimit verifies process slots are available for the worker.
// A low limit only warns: the worker is a single process.
func checkProcessLimit() Check {
	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseMaxProcesses(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: requiredProcesses,
		Actual:   actual,
		Passed:   true,
		Warning:  actual < requiredProcesses,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, requiredProcesses),
	}
}

// parseMaxProcesses reads the soft limit from /proc/self/limits content.
// It returns 0 when the line is missing.
func parseMaxProcesses(limits string) int {
	actual := 0
	for _, line := range strings.Split(limits, "\n") {
		if strings.HasPrefix(line, "Max processes") {
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				if fields[2] == "unlimited" {
					actual = 1000000
				} else {
					fmt.Sscanf(fields[2], "%d", &actual)
				}
			}
			break
		}
	}
	return actual
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 1024 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "worker":
		return "build " + process.DefaultBinaryName + " into the working directory or bin/, add it to PATH, or pass -worker"
	case "workdir":
		return "create the directory or pass an existing -workdir"
	default:
		return "see documentation"
	}
}
