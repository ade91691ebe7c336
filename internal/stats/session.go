// Package stats provides session statistics for one controller run.
//
// This file implements Session which tracks:
// - Worker lifecycle (starts, connects, restarts, exits by code)
// - Protocol traffic (media and volume records, discarded lines, stderr)
// - Command writes and their latency distribution
// - Worker uptime distribution
package stats

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"
)

// SignalExit is the exit code key used when the worker was killed by a signal.
const SignalExit = "signal"

// Session holds statistics for one controller run.
//
// Thread-safe: counters are atomics, digests and maps are mutex protected.
type Session struct {
	ID        string
	StartTime time.Time

	// Lifecycle (atomic, lock-free)
	Starts   atomic.Int64
	Connects atomic.Int64
	Restarts atomic.Int64

	// Protocol
	MediaMessages  atomic.Int64
	VolumeMessages atomic.Int64
	LinesDiscarded atomic.Int64
	StderrLines    atomic.Int64
	Errors         atomic.Int64

	// Commands
	CommandsSent   atomic.Int64
	CommandsFailed atomic.Int64
	CommandRetries atomic.Int64

	mu            sync.Mutex
	exitCodes     map[string]int64
	latencyDigest *tdigest.TDigest // nanoseconds
	latencyMax    time.Duration
	uptimeDigest  *tdigest.TDigest // nanoseconds
	lastError     string
	now           func() time.Time
}

// NewSession creates stats for a run identified by id.
func NewSession(id string) *Session {
	return &Session{
		ID:            id,
		StartTime:     time.Now(),
		exitCodes:     make(map[string]int64),
		latencyDigest: tdigest.NewWithCompression(100),
		uptimeDigest:  tdigest.NewWithCompression(100),
		now:           time.Now,
	}
}

// --- Lifecycle ---

func (s *Session) RecordStart()   { s.Starts.Add(1) }
func (s *Session) RecordConnect() { s.Connects.Add(1) }
func (s *Session) RecordRestart() { s.Restarts.Add(1) }

// RecordExit records a worker exit. code is nil when the worker was
// terminated by a signal.
func (s *Session) RecordExit(code *int, uptime time.Duration) {
	key := SignalExit
	if code != nil {
		key = strconv.Itoa(*code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitCodes[key]++
	s.uptimeDigest.Add(float64(uptime.Nanoseconds()), 1)
}

// RecordError remembers the most recent error message.
func (s *Session) RecordError(msg string) {
	s.Errors.Add(1)
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

// --- Commands ---

// RecordCommand records one write attempt.
func (s *Session) RecordCommand(latency time.Duration, err error) {
	if err != nil {
		s.CommandsFailed.Add(1)
		return
	}
	s.CommandsSent.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencyDigest.Add(float64(latency.Nanoseconds()), 1)
	if latency > s.latencyMax {
		s.latencyMax = latency
	}
}

// --- Snapshot ---

// Snapshot is a point-in-time copy of a Session.
type Snapshot struct {
	ID       string
	Duration time.Duration

	Starts   int64
	Connects int64
	Restarts int64
	Exits    int64

	MediaMessages  int64
	VolumeMessages int64
	LinesDiscarded int64
	StderrLines    int64
	Errors         int64
	LastError      string

	CommandsSent   int64
	CommandsFailed int64
	CommandRetries int64

	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration
	LatencyMax time.Duration

	UptimeP50 time.Duration
	UptimeP95 time.Duration
	UptimeP99 time.Duration

	// ExitCodes maps an exit code (or "signal") to its count.
	ExitCodes map[string]int64
}

// Snapshot returns current statistics.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:             s.ID,
		Duration:       s.now().Sub(s.StartTime),
		Starts:         s.Starts.Load(),
		Connects:       s.Connects.Load(),
		Restarts:       s.Restarts.Load(),
		MediaMessages:  s.MediaMessages.Load(),
		VolumeMessages: s.VolumeMessages.Load(),
		LinesDiscarded: s.LinesDiscarded.Load(),
		StderrLines:    s.StderrLines.Load(),
		Errors:         s.Errors.Load(),
		CommandsSent:   s.CommandsSent.Load(),
		CommandsFailed: s.CommandsFailed.Load(),
		CommandRetries: s.CommandRetries.Load(),
		ExitCodes:      make(map[string]int64),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap.LastError = s.lastError
	for code, n := range s.exitCodes {
		snap.ExitCodes[code] = n
		snap.Exits += n
	}
	if s.latencyDigest.Count() > 0 {
		snap.LatencyP50 = time.Duration(s.latencyDigest.Quantile(0.50))
		snap.LatencyP95 = time.Duration(s.latencyDigest.Quantile(0.95))
		snap.LatencyP99 = time.Duration(s.latencyDigest.Quantile(0.99))
		snap.LatencyMax = s.latencyMax
	}
	if s.uptimeDigest.Count() > 0 {
		snap.UptimeP50 = time.Duration(s.uptimeDigest.Quantile(0.50))
		snap.UptimeP95 = time.Duration(s.uptimeDigest.Quantile(0.95))
		snap.UptimeP99 = time.Duration(s.uptimeDigest.Quantile(0.99))
	}
	return snap
}

// SortedExitCodes returns the exit code keys in display order: numeric
// codes ascending, then "signal".
func (snap Snapshot) SortedExitCodes() []string {
	keys := make([]string, 0, len(snap.ExitCodes))
	for k := range snap.ExitCodes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}
