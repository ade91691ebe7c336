package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-mediactl/internal/events"
	"github.com/randomizedcoder/go-mediactl/internal/protocol"
	"github.com/randomizedcoder/go-mediactl/internal/stats"
	"github.com/randomizedcoder/go-mediactl/internal/supervisor"
)

const (
	// commandTimeout bounds one key-triggered controller call.
	commandTimeout = 15 * time.Second

	// maxRecentErrors is the number of error events kept for display.
	maxRecentErrors = 5
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StateMsg carries a connection state change from the event bus.
type StateMsg events.StateChange

// ErrorMsg carries an error event from the event bus.
type ErrorMsg events.ErrorEvent

// ActionMsg reports the outcome of a key-triggered controller call.
type ActionMsg struct {
	Action string
	Err    error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Controller is the subset of the controller the dashboard drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() supervisor.State
	LastMedia() (*protocol.MediaSnapshot, bool)
	LastVolume() *protocol.VolumeSnapshot
	PlayPause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	VolumeUp(ctx context.Context, step int) error
	VolumeDown(ctx context.Context, step int) error
	ToggleMute(ctx context.Context) error
	Stats() stats.Snapshot
	Restarts() int
	Uptime() time.Duration
}

// Config holds TUI configuration.
type Config struct {
	Controller  Controller
	Worker      string
	MetricsAddr string
	VolumeStep  int // 0 uses the controller default
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	ctrl        Controller
	worker      string
	metricsAddr string
	volumeStep  int
	keys        keyMap

	// Current state
	state      supervisor.State
	media      *protocol.MediaSnapshot
	mediaSeen  bool
	volume     *protocol.VolumeSnapshot
	snap       stats.Snapshot
	restarts   int
	uptime     time.Duration
	errors     []events.ErrorEvent
	lastAction string
	lastErr    error
	startTime  time.Time
	lastUpdate time.Time

	// Display options
	width  int
	height int

	// Quit flag
	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		ctrl:        cfg.Controller,
		worker:      cfg.Worker,
		metricsAddr: cfg.MetricsAddr,
		volumeStep:  cfg.VolumeStep,
		keys:        DefaultKeyMap(),
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// Note: tea.WithAltScreen() is passed when creating the program,
	// so we don't need tea.EnterAltScreen here.
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case StateMsg:
		m.state = msg.To
		return m, nil

	case ErrorMsg:
		m.errors = append(m.errors, events.ErrorEvent(msg))
		if len(m.errors) > maxRecentErrors {
			m.errors = m.errors[len(m.errors)-maxRecentErrors:]
		}
		return m, nil

	case ActionMsg:
		m.lastAction = msg.Action
		m.lastErr = msg.Err
		m.refresh()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	if m.ctrl == nil {
		return m, nil
	}

	var (
		action string
		op     func(context.Context) error
	)
	switch {
	case key.Matches(msg, m.keys.PlayPause):
		action, op = "play/pause", m.ctrl.PlayPause
	case key.Matches(msg, m.keys.Next):
		action, op = "next", m.ctrl.Next
	case key.Matches(msg, m.keys.Previous):
		action, op = "previous", m.ctrl.Previous
	case key.Matches(msg, m.keys.VolumeUp):
		step := m.volumeStep
		action, op = "volume up", func(ctx context.Context) error { return m.ctrl.VolumeUp(ctx, step) }
	case key.Matches(msg, m.keys.VolumeDown):
		step := m.volumeStep
		action, op = "volume down", func(ctx context.Context) error { return m.ctrl.VolumeDown(ctx, step) }
	case key.Matches(msg, m.keys.Mute):
		action, op = "mute", m.ctrl.ToggleMute
	case key.Matches(msg, m.keys.Start):
		action, op = "start", m.ctrl.Start
	case key.Matches(msg, m.keys.Stop):
		action, op = "stop", m.ctrl.Stop
	default:
		return m, nil
	}

	m.lastAction = action + "..."
	m.lastErr = nil
	return m, actionCmd(action, op)
}

// refresh copies the controller's current state into the model.
func (m *Model) refresh() {
	m.lastUpdate = time.Now()
	if m.ctrl == nil {
		return
	}
	m.state = m.ctrl.State()
	m.media, m.mediaSeen = m.ctrl.LastMedia()
	m.volume = m.ctrl.LastVolume()
	m.snap = m.ctrl.Stats()
	m.restarts = m.ctrl.Restarts()
	m.uptime = m.ctrl.Uptime()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// actionCmd runs op off the UI goroutine and reports the result.
func actionCmd(action string, op func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return ActionMsg{Action: action, Err: op(ctx)}
	}
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// State returns the last observed connection state.
func (m Model) State() supervisor.State {
	return m.state
}

// =============================================================================
// Helper for external use
// =============================================================================

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Subscribe forwards state changes and error events from bus to p. The
// returned function removes the subscriptions.
func Subscribe(p Sender, bus *events.Bus) (func(), error) {
	stateSub, err := bus.OnStateChange(func(ev events.StateChange) {
		p.Send(StateMsg(ev))
	})
	if err != nil {
		return nil, err
	}
	errSub, err := bus.OnError(func(ev events.ErrorEvent) {
		p.Send(ErrorMsg(ev))
	})
	if err != nil {
		stateSub.Cancel()
		return nil, err
	}
	return func() {
		stateSub.Cancel()
		errSub.Cancel()
	}, nil
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p Sender) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatMs formats a duration as milliseconds.
func formatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// truncate shortens s to width runes, marking the cut with "...".
func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 3 || len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
