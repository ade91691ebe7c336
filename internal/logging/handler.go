package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent stderr lines kept for the
	// exit summary and the TUI.
	MaxBufferedLines = 100

	// DefaultStderrRate is the steady-state number of stderr lines logged
	// per second. Lines above the rate are buffered and counted.
	DefaultStderrRate = 20

	// DefaultStderrBurst is the number of lines logged back to back before
	// rate limiting starts.
	DefaultStderrBurst = 50
)

// StderrHandler handles the worker's stderr output.
// It buffers recent lines, classifies them, and logs them through a rate
// limiter so a crash-looping worker cannot flood the log.
type StderrHandler struct {
	worker  string
	logger  *slog.Logger
	verbose bool
	limiter *rate.Limiter

	// Circular buffer for recent lines
	buffer     []string
	bufIdx     int
	suppressed int
	mu         sync.Mutex
}

// NewStderrHandler creates a stderr handler with the default rate limit.
func NewStderrHandler(worker string, logger *slog.Logger, verbose bool) *StderrHandler {
	return NewStderrHandlerWithLimit(worker, logger, verbose, DefaultStderrRate, DefaultStderrBurst)
}

// NewStderrHandlerWithLimit creates a handler logging at most perSecond
// lines per second with the given burst. perSecond <= 0 disables limiting.
func NewStderrHandlerWithLimit(worker string, logger *slog.Logger, verbose bool, perSecond float64, burst int) *StderrHandler {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &StderrHandler{
		worker:  worker,
		logger:  logger,
		verbose: verbose,
		limiter: rate.NewLimiter(limit, burst),
		buffer:  make([]string, MaxBufferedLines),
	}
}

// HandleLine processes a single line of stderr output. It reports whether
// the line was suppressed by the rate limiter.
func (h *StderrHandler) HandleLine(line string) (suppressed bool) {
	// Truncate if too long
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	// Store in circular buffer
	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.mu.Unlock()

	return !h.logLine(line, time.Now())
}

// logLine logs the line at a level based on content. It returns false if
// the line was dropped by the limiter.
func (h *StderrHandler) logLine(line string, now time.Time) bool {
	level := ClassifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level < slog.LevelWarn {
		return true
	}

	if !h.limiter.AllowN(now, 1) {
		h.mu.Lock()
		h.suppressed++
		h.mu.Unlock()
		return false
	}

	h.mu.Lock()
	dropped := h.suppressed
	h.suppressed = 0
	h.mu.Unlock()
	if dropped > 0 {
		h.logger.Warn("worker_stderr_suppressed",
			"worker", h.worker,
			"lines", dropped,
		)
	}

	h.logger.Log(context.Background(), level, "worker_stderr",
		"worker", h.worker,
		"line", line,
	)
	return true
}

// ClassifyLine determines the log level for a worker stderr line.
func ClassifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	// Error patterns
	if strings.Contains(lower, "fatal") ||
		strings.Contains(lower, "exception") ||
		strings.Contains(lower, "unhandled") {
		return slog.LevelError
	}
	if strings.Contains(lower, "error") ||
		strings.Contains(lower, "failed") ||
		strings.Contains(lower, "access denied") {
		return slog.LevelWarn
	}

	// Warning patterns
	if strings.Contains(lower, "warn") ||
		strings.Contains(lower, "retry") ||
		strings.Contains(lower, "not found") {
		return slog.LevelWarn
	}

	// Diagnostics
	if strings.HasPrefix(lower, "debug") || strings.HasPrefix(lower, "trace") {
		return slog.LevelDebug
	}

	return slog.LevelInfo
}

// Suppressed returns the number of lines dropped since the last logged line.
func (h *StderrHandler) Suppressed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.suppressed
}

// RecentLines returns the most recent lines from the buffer, oldest first.
func (h *StderrHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)

	// Read from circular buffer in order
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// Reset clears the buffer. Called when the worker is stopped.
func (h *StderrHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.buffer {
		h.buffer[i] = ""
	}
	h.bufIdx = 0
	h.suppressed = 0
}
