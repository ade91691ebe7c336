// Package metrics provides Prometheus metrics for mediactl.
//
// Each Collector owns its own registry, so several controllers (or tests)
// can run in one process. The registry is served by Server and can be
// dumped in text exposition format with WriteText.
package metrics

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/randomizedcoder/go-mediactl/internal/protocol"
	"github.com/randomizedcoder/go-mediactl/internal/supervisor"
)

const namespace = "mediactl"

// Command outcomes used as the result label.
const (
	ResultOK         = "ok"
	ResultError      = "error"
	ResultNotRunning = "not_running"
)

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version   string
	Worker    string
	SessionID string

	// RuntimeMetrics adds the Go runtime and process collectors.
	RuntimeMetrics bool
}

// Collector records supervisor, protocol and command metrics.
type Collector struct {
	registry *prometheus.Registry

	// --- Worker lifecycle ---
	info         *prometheus.GaugeVec
	state        *prometheus.GaugeVec
	up           prometheus.Gauge
	starts       prometheus.Counter
	restarts     prometheus.Counter
	attempts     prometheus.Gauge
	exits        *prometheus.CounterVec
	uptime       prometheus.Histogram
	restartDelay prometheus.Histogram
	errors       *prometheus.CounterVec

	// --- Protocol ---
	messages         *prometheus.CounterVec
	linesDiscarded   prometheus.Counter
	stderrLines      prometheus.Counter
	stderrSuppressed prometheus.Counter

	// --- Commands ---
	commands       *prometheus.CounterVec
	commandLatency prometheus.Histogram

	// --- Last known state ---
	volumeLevel prometheus.Gauge
	muted       prometheus.Gauge
	playing     prometheus.Gauge

	mu        sync.Mutex
	startTime time.Time
}

// NewCollector creates a collector with a fresh registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.NewRegistry())
}

// NewCollectorWithRegistry creates a collector that registers into registry.
func NewCollectorWithRegistry(cfg CollectorConfig, registry *prometheus.Registry) *Collector {
	c := &Collector{
		registry:  registry,
		startTime: time.Now(),

		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the controller (value always 1)",
		}, []string{"version", "worker", "session_id"}),

		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),

		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_up",
			Help:      "Whether the worker is connected",
		}),

		starts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_starts_total",
			Help:      "Total worker process launches",
		}),

		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Total relaunches scheduled after a crash",
		}),

		attempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backoff_attempts",
			Help:      "Consecutive failed connection cycles",
		}),

		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_exits_total",
			Help:      "Worker exits by category",
		}, []string{"category"}), // success, error, signal

		uptime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_uptime_seconds",
			Help:      "Worker uptime at exit",
			Buckets:   []float64{1, 5, 30, 60, 300, 600, 1800, 3600, 7200},
		}),

		restartDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "restart_delay_seconds",
			Help:      "Backoff delay before each relaunch",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32},
		}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors published to subscribers by source",
		}, []string{"source"}),

		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Decoded worker messages by type",
		}, []string{"type"}),

		linesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_discarded_total",
			Help:      "Malformed or unknown stdout lines",
		}),

		stderrLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stderr_lines_total",
			Help:      "Lines read from worker stderr",
		}),

		stderrSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stderr_lines_suppressed_total",
			Help:      "Worker stderr lines not logged because of rate limiting",
		}),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Command write attempts by command and result",
		}, []string{"command", "result"}),

		commandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_write_seconds",
			Help:      "Time to write one command line to the worker",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		volumeLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "volume_level",
			Help:      "Last reported master volume (0-100)",
		}),

		muted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "muted",
			Help:      "Whether the default device is muted",
		}),

		playing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playing",
			Help:      "Whether the focused media session is playing",
		}),
	}

	registry.MustRegister(
		c.info,
		c.state,
		c.up,
		c.starts,
		c.restarts,
		c.attempts,
		c.exits,
		c.uptime,
		c.restartDelay,
		c.errors,
		c.messages,
		c.linesDiscarded,
		c.stderrLines,
		c.stderrSuppressed,
		c.commands,
		c.commandLatency,
		c.volumeLevel,
		c.muted,
		c.playing,
	)

	if cfg.RuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	// Set initial values
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Worker, cfg.SessionID).Set(1)
	c.SetState(supervisor.StateDisconnected)

	return c
}

// Registry returns the registry the collector registered into.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// SetState records the current connection state.
func (c *Collector) SetState(s supervisor.State) {
	for _, st := range supervisor.AllStates() {
		v := 0.0
		if st == s {
			v = 1
		}
		c.state.WithLabelValues(st.String()).Set(v)
	}
	if s == supervisor.StateConnected {
		c.up.Set(1)
	} else {
		c.up.Set(0)
	}
}

// WorkerStarted records a process launch.
func (c *Collector) WorkerStarted() {
	c.starts.Inc()
}

// RestartScheduled records a relaunch and its backoff delay.
func (c *Collector) RestartScheduled(attempt int, delay time.Duration) {
	c.restarts.Inc()
	c.attempts.Set(float64(attempt))
	c.restartDelay.Observe(delay.Seconds())
}

// SetAttempts records the backoff attempt counter.
func (c *Collector) SetAttempts(n int) {
	c.attempts.Set(float64(n))
}

// RecordExit records a worker exit. code is nil for a signal.
func (c *Collector) RecordExit(code *int, uptime time.Duration) {
	c.exits.WithLabelValues(ExitCategory(code)).Inc()
	c.uptime.Observe(uptime.Seconds())
}

// ExitCategory maps an exit code to the category label.
func ExitCategory(code *int) string {
	switch {
	case code == nil:
		return "signal"
	case *code == 0:
		return "success"
	default:
		return "error"
	}
}

// RecordError counts one published error.
func (c *Collector) RecordError(source string) {
	c.errors.WithLabelValues(source).Inc()
}

// RecordMessage counts a decoded message and updates the last known state.
func (c *Collector) RecordMessage(msg protocol.Message) {
	c.messages.WithLabelValues(string(msg.Type)).Inc()

	switch msg.Type {
	case protocol.TypeMedia:
		if msg.Media != nil && msg.Media.PlaybackStatus == protocol.StatusPlaying {
			c.playing.Set(1)
		} else {
			c.playing.Set(0)
		}
	case protocol.TypeVolume:
		if msg.Volume != nil {
			c.volumeLevel.Set(float64(msg.Volume.Level))
			c.muted.Set(boolValue(msg.Volume.Muted))
		}
	}
}

// RecordDiscarded counts a stdout line that could not be decoded.
func (c *Collector) RecordDiscarded() {
	c.linesDiscarded.Inc()
}

// RecordStderr counts a stderr line. suppressed is true when the line was
// not logged.
func (c *Collector) RecordStderr(suppressed bool) {
	c.stderrLines.Inc()
	if suppressed {
		c.stderrSuppressed.Inc()
	}
}

// RecordCommand records one command write attempt.
func (c *Collector) RecordCommand(name protocol.CommandName, latency time.Duration, result string) {
	c.commands.WithLabelValues(string(name), result).Inc()
	if result == ResultOK {
		c.commandLatency.Observe(latency.Seconds())
	}
}

// Uptime returns how long the collector has existed.
func (c *Collector) Uptime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.startTime)
}

// =============================================================================
// Export
// =============================================================================

// WriteText writes every registered metric in Prometheus text format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		return closer.Close()
	}
	return nil
}

// ErrMetricNotFound is returned by Value when no series matches.
var ErrMetricNotFound = errors.New("metric not found")

// Value returns the current value of a counter or gauge series. labels are
// name/value pairs that must all match.
func (c *Collector) Value(name string, labels ...string) (float64, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return 0, err
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return metricValue(m), nil
			}
		}
	}
	return 0, ErrMetricNotFound
}

// =============================================================================
// Helper Functions
// =============================================================================

func matchLabels(m *dto.Metric, labels []string) bool {
	for i := 0; i+1 < len(labels); i += 2 {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labels[i] && lp.GetValue() == labels[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.GetCounter().GetValue()
	case m.Gauge != nil:
		return m.GetGauge().GetValue()
	case m.Histogram != nil:
		return float64(m.GetHistogram().GetSampleCount())
	case m.Untyped != nil:
		return m.GetUntyped().GetValue()
	default:
		return 0
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
