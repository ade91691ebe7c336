package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Reason enumerates why the worker executable could not be resolved.
type Reason string

const (
	// ReasonOverrideMissing means an explicit path was configured and
	// nothing exists there.
	ReasonOverrideMissing Reason = "override_missing"

	// ReasonNotExecutable means a candidate exists but cannot be run.
	ReasonNotExecutable Reason = "not_executable"

	// ReasonNotFound means no candidate location holds the executable.
	ReasonNotFound Reason = "not_found"
)

// NotFoundError is returned by Resolve. Start surfaces it verbatim.
type NotFoundError struct {
	Name     string
	Reason   Reason
	Searched []string
	Err      error
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("worker executable %q: %s (searched: %s)",
		e.Name, e.Reason, strings.Join(e.Searched, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a resolution failure.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Resolver locates the worker executable.
type Resolver interface {
	Resolve(workDir, override string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(workDir, override string) (string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(workDir, override string) (string, error) {
	return f(workDir, override)
}

// SearchResolver looks for the worker in this order:
//
//  1. the override path (relative paths are joined to workDir)
//  2. workDir/<name>
//  3. workDir/bin/<name>
//  4. $PATH
type SearchResolver struct {
	Name string
}

// NewSearchResolver returns a resolver for name, or DefaultBinaryName when
// name is empty.
func NewSearchResolver(name string) *SearchResolver {
	if name == "" {
		name = DefaultBinaryName
	}
	return &SearchResolver{Name: name}
}

// Resolve returns an absolute path to the executable.
func (r *SearchResolver) Resolve(workDir, override string) (string, error) {
	if override != "" {
		return r.resolveOverride(workDir, override)
	}

	var searched []string
	sawNonExec := false

	if workDir != "" {
		for _, c := range []string{
			filepath.Join(workDir, r.Name),
			filepath.Join(workDir, "bin", r.Name),
		} {
			searched = append(searched, c)
			fi, err := os.Stat(c)
			if err != nil {
				continue
			}
			if !isExecutable(fi) {
				sawNonExec = true
				continue
			}
			return filepath.Abs(c)
		}
	}

	searched = append(searched, "$PATH")
	if p, err := exec.LookPath(r.Name); err == nil {
		return filepath.Abs(p)
	}

	reason := ReasonNotFound
	if sawNonExec {
		reason = ReasonNotExecutable
	}
	return "", &NotFoundError{Name: r.Name, Reason: reason, Searched: searched}
}

func (r *SearchResolver) resolveOverride(workDir, override string) (string, error) {
	p := override
	if !filepath.IsAbs(p) && workDir != "" {
		p = filepath.Join(workDir, p)
	}

	fi, err := os.Stat(p)
	if err != nil {
		return "", &NotFoundError{Name: r.Name, Reason: ReasonOverrideMissing, Searched: []string{p}, Err: err}
	}
	if !isExecutable(fi) {
		return "", &NotFoundError{Name: r.Name, Reason: ReasonNotExecutable, Searched: []string{p}}
	}
	return filepath.Abs(p)
}
