package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-mediactl/internal/events"
	"github.com/randomizedcoder/go-mediactl/internal/protocol"
	"github.com/randomizedcoder/go-mediactl/internal/stats"
	"github.com/randomizedcoder/go-mediactl/internal/supervisor"
)

// =============================================================================
// Mock Controller
// =============================================================================

type mockController struct {
	mu     sync.Mutex
	calls  []string
	steps  []int
	err    error
	state  supervisor.State
	media  *protocol.MediaSnapshot
	seen   bool
	volume *protocol.VolumeSnapshot
	snap   stats.Snapshot
}

func (c *mockController) record(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	return c.err
}

func (c *mockController) Start(context.Context) error      { return c.record("start") }
func (c *mockController) Stop(context.Context) error       { return c.record("stop") }
func (c *mockController) PlayPause(context.Context) error  { return c.record("playpause") }
func (c *mockController) Next(context.Context) error       { return c.record("next") }
func (c *mockController) Previous(context.Context) error   { return c.record("previous") }
func (c *mockController) ToggleMute(context.Context) error { return c.record("mute") }

func (c *mockController) VolumeUp(_ context.Context, step int) error {
	c.mu.Lock()
	c.steps = append(c.steps, step)
	c.mu.Unlock()
	return c.record("volume_up")
}

func (c *mockController) VolumeDown(_ context.Context, step int) error {
	c.mu.Lock()
	c.steps = append(c.steps, step)
	c.mu.Unlock()
	return c.record("volume_down")
}

func (c *mockController) State() supervisor.State { return c.state }
func (c *mockController) LastMedia() (*protocol.MediaSnapshot, bool) {
	return c.media, c.seen
}
func (c *mockController) LastVolume() *protocol.VolumeSnapshot { return c.volume }
func (c *mockController) Stats() stats.Snapshot                { return c.snap }
func (c *mockController) Restarts() int                        { return 2 }
func (c *mockController) Uptime() time.Duration                { return time.Minute }

func (c *mockController) lastCall() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calls) == 0 {
		return ""
	}
	return c.calls[len(c.calls)-1]
}

type mockSender struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (s *mockSender) Send(msg tea.Msg) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// =============================================================================
// Tests: New
// =============================================================================

func TestNew(t *testing.T) {
	model := New(Config{
		Worker:      "mediactl-worker",
		MetricsAddr: "localhost:9090",
		VolumeStep:  5,
	})

	if model.worker != "mediactl-worker" {
		t.Errorf("worker = %s", model.worker)
	}
	if model.metricsAddr != "localhost:9090" {
		t.Errorf("metricsAddr = %s, want localhost:9090", model.metricsAddr)
	}
	if model.volumeStep != 5 {
		t.Errorf("volumeStep = %d, want 5", model.volumeStep)
	}
	if model.width != 80 {
		t.Errorf("width = %d, want 80", model.width)
	}
	if model.height != 24 {
		t.Errorf("height = %d, want 24", model.height)
	}
}

func TestModel_Init(t *testing.T) {
	model := New(Config{})
	if cmd := model.Init(); cmd == nil {
		t.Error("Init() returned nil cmd")
	}
}

// =============================================================================
// Tests: Update - Key Messages
// =============================================================================

func TestModel_Update_QuitKeys(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
		quit bool
	}{
		{"q", runeKey("q"), true},
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}, true},
		{"esc", tea.KeyMsg{Type: tea.KeyEsc}, true},
		{"z", runeKey("z"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := New(Config{Controller: &mockController{}})
			newModel, cmd := model.Update(tt.msg)
			m := newModel.(Model)

			if m.quitting != tt.quit {
				t.Errorf("quitting = %v, want %v", m.quitting, tt.quit)
			}
			if tt.quit && cmd == nil {
				t.Error("expected tea.Quit cmd")
			}
			if !tt.quit && cmd != nil {
				t.Error("unbound key should not return a cmd")
			}
		})
	}
}

func TestModel_Update_CommandKeys(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
		want string
	}{
		{"space", tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}, "playpause"},
		{"next", runeKey("n"), "next"},
		{"previous", runeKey("p"), "previous"},
		{"volume up", runeKey("+"), "volume_up"},
		{"volume up alt", runeKey("="), "volume_up"},
		{"volume down", runeKey("-"), "volume_down"},
		{"mute", runeKey("m"), "mute"},
		{"start", runeKey("s"), "start"},
		{"stop", runeKey("x"), "stop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &mockController{}
			model := New(Config{Controller: ctrl})

			newModel, cmd := model.Update(tt.msg)
			if cmd == nil {
				t.Fatal("expected an action cmd")
			}
			if !strings.HasSuffix(newModel.(Model).lastAction, "...") {
				t.Errorf("lastAction = %q, want pending marker", newModel.(Model).lastAction)
			}

			// The cmd performs the controller call.
			msg := cmd()
			action, ok := msg.(ActionMsg)
			if !ok {
				t.Fatalf("cmd() = %T, want ActionMsg", msg)
			}
			if action.Err != nil {
				t.Errorf("action error = %v", action.Err)
			}
			if got := ctrl.lastCall(); got != tt.want {
				t.Errorf("controller call = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModel_Update_VolumeStepPassedThrough(t *testing.T) {
	ctrl := &mockController{}
	model := New(Config{Controller: ctrl, VolumeStep: 7})

	_, cmd := model.Update(runeKey("+"))
	cmd()
	_, cmd = model.Update(runeKey("-"))
	cmd()

	if len(ctrl.steps) != 2 || ctrl.steps[0] != 7 || ctrl.steps[1] != 7 {
		t.Errorf("steps = %v, want [7 7]", ctrl.steps)
	}
}

func TestModel_Update_NoController(t *testing.T) {
	model := New(Config{})
	_, cmd := model.Update(runeKey("n"))
	if cmd != nil {
		t.Error("keys without a controller should be ignored")
	}
}

// =============================================================================
// Tests: Update - Window Size
// =============================================================================

func TestModel_Update_WindowSize(t *testing.T) {
	model := New(Config{})

	newModel, _ := model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m := newModel.(Model)

	if m.width != 120 {
		t.Errorf("width = %d, want 120", m.width)
	}
	if m.height != 40 {
		t.Errorf("height = %d, want 40", m.height)
	}
}

// =============================================================================
// Tests: Update - Tick and events
// =============================================================================

func TestModel_Update_Tick(t *testing.T) {
	ctrl := &mockController{
		state:  supervisor.StateConnected,
		media:  &protocol.MediaSnapshot{Title: "Song"},
		seen:   true,
		volume: &protocol.VolumeSnapshot{Level: 30},
		snap:   stats.Snapshot{MediaMessages: 4},
	}
	model := New(Config{Controller: ctrl})

	newModel, cmd := model.Update(TickMsg(time.Now()))
	m := newModel.(Model)

	if m.State() != supervisor.StateConnected {
		t.Errorf("State() = %v", m.State())
	}
	if m.media == nil || m.media.Title != "Song" || !m.mediaSeen {
		t.Errorf("media = %+v seen = %v", m.media, m.mediaSeen)
	}
	if m.volume == nil || m.volume.Level != 30 {
		t.Errorf("volume = %+v", m.volume)
	}
	if m.snap.MediaMessages != 4 || m.restarts != 2 || m.uptime != time.Minute {
		t.Errorf("snap = %+v restarts = %d uptime = %v", m.snap, m.restarts, m.uptime)
	}
	if cmd == nil {
		t.Error("expected tick cmd to be returned")
	}
}

func TestModel_Update_StateMsg(t *testing.T) {
	model := New(Config{})
	newModel, _ := model.Update(StateMsg{From: supervisor.StateConnected, To: supervisor.StateReconnecting})
	if got := newModel.(Model).State(); got != supervisor.StateReconnecting {
		t.Errorf("State() = %v, want reconnecting", got)
	}
}

func TestModel_Update_ErrorMsgKeepsRecent(t *testing.T) {
	var model tea.Model = New(Config{})
	for i := 0; i < maxRecentErrors+3; i++ {
		model, _ = model.Update(ErrorMsg{Source: events.SourceWorker, Message: string(rune('a' + i))})
	}

	m := model.(Model)
	if len(m.errors) != maxRecentErrors {
		t.Fatalf("errors = %d, want %d", len(m.errors), maxRecentErrors)
	}
	if m.errors[len(m.errors)-1].Message != string(rune('a'+maxRecentErrors+2)) {
		t.Errorf("newest error = %q", m.errors[len(m.errors)-1].Message)
	}
}

func TestModel_Update_ActionMsg(t *testing.T) {
	model := New(Config{Controller: &mockController{}})
	newModel, _ := model.Update(ActionMsg{Action: "next", Err: errors.New("worker not running")})
	m := newModel.(Model)

	if m.lastAction != "next" || m.lastErr == nil {
		t.Errorf("lastAction = %q lastErr = %v", m.lastAction, m.lastErr)
	}
	if !strings.Contains(m.View(), "worker not running") {
		t.Error("View() should show the failed action")
	}
}

func TestModel_Update_QuitMsg(t *testing.T) {
	model := New(Config{})
	newModel, cmd := model.Update(QuitMsg{})
	if !newModel.(Model).quitting || cmd == nil {
		t.Error("QuitMsg should quit")
	}
	if newModel.(Model).View() != "" {
		t.Error("View() should be empty after quit")
	}
}

// =============================================================================
// Tests: Subscribe
// =============================================================================

func TestSubscribe(t *testing.T) {
	bus := events.NewBus()
	sender := &mockSender{}

	unsubscribe, err := Subscribe(sender, bus)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	bus.PublishStateChange(events.StateChange{To: supervisor.StateConnecting})
	bus.PublishError(events.ErrorEvent{Source: events.SourceWorker, Message: "oops"})
	bus.PublishMedia(&protocol.MediaSnapshot{Title: "ignored"})

	sender.mu.Lock()
	if len(sender.msgs) != 2 {
		t.Fatalf("sent %d msgs, want 2", len(sender.msgs))
	}
	if _, ok := sender.msgs[0].(StateMsg); !ok {
		t.Errorf("msg 0 = %T, want StateMsg", sender.msgs[0])
	}
	if ev, ok := sender.msgs[1].(ErrorMsg); !ok || ev.Message != "oops" {
		t.Errorf("msg 1 = %#v, want ErrorMsg", sender.msgs[1])
	}
	sender.mu.Unlock()

	unsubscribe()
	bus.PublishError(events.ErrorEvent{Message: "after"})

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.msgs) != 2 {
		t.Errorf("sent %d msgs after unsubscribe, want 2", len(sender.msgs))
	}
}

func TestSubscribe_ClosedBus(t *testing.T) {
	bus := events.NewBus()
	bus.Close()
	if _, err := Subscribe(&mockSender{}, bus); !errors.Is(err, events.ErrBusClosed) {
		t.Errorf("Subscribe() error = %v, want ErrBusClosed", err)
	}
}

// =============================================================================
// Tests: Formatting Helpers
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{90 * time.Second, "00:01:30"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "02:03:04"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1500, "1.5K"},
		{2_500_000, "2.5M"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.n); got != tt.want {
			t.Errorf("formatNumber(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatMs(t *testing.T) {
	if got := formatMs(1500 * time.Microsecond); got != "1 ms" {
		t.Errorf("formatMs(1.5ms) = %q", got)
	}
	if got := formatMs(250 * time.Microsecond); got != "250 µs" {
		t.Errorf("formatMs(250µs) = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		s     string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"a longer title", 8, "a lon..."},
		{"abc", 2, "abc"},
		{"ünïcödé title", 6, "ünï..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.s, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.s, tt.width, got, tt.want)
		}
	}
}
