// Package events fans worker state out to subscribers and keeps the last
// known media and volume snapshots.
package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-mediactl/internal/protocol"
	"github.com/randomizedcoder/go-mediactl/internal/supervisor"
)

var (
	ErrBusClosed  = errors.New("event bus closed")
	ErrNilHandler = errors.New("nil event handler")
)

// StateChange is published on every connection state transition.
type StateChange struct {
	From supervisor.State
	To   supervisor.State
	At   time.Time
}

// ErrorSource identifies where an ErrorEvent came from.
type ErrorSource string

const (
	SourceWorker     ErrorSource = "worker"     // a line on worker stderr
	SourceSupervisor ErrorSource = "supervisor" // launch failure or timeout
)

// ErrorEvent is published for worker stderr output and supervision failures.
type ErrorEvent struct {
	Source  ErrorSource
	Message string
	Err     error
	At      time.Time
}

// ExitEvent is published when a connected worker exits.
// Code is nil when the worker was terminated by a signal.
type ExitEvent struct {
	Code   *int
	Uptime time.Duration
	At     time.Time
}

// Subscription is returned by the On* methods.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel removes the handler. It is safe to call more than once and from
// inside the handler itself.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

type handler[T any] struct {
	id uint64
	fn func(T)
}

// topic is an ordered list of handlers for one event kind.
type topic[T any] struct {
	mu        sync.RWMutex
	nextID    uint64
	handlers  []handler[T]
	published atomic.Uint64
}

func (t *topic[T]) subscribe(fn func(T)) *Subscription {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.handlers = append(t.handlers, handler[T]{id: id, fn: fn})
	t.mu.Unlock()

	return &Subscription{cancel: func() { t.unsubscribe(id) }}
}

func (t *topic[T]) unsubscribe(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, h := range t.handlers {
		if h.id == id {
			t.handlers = append(t.handlers[:i:i], t.handlers[i+1:]...)
			return
		}
	}
}

// publish calls every handler in subscription order. Handlers run outside
// the lock so they may subscribe or cancel.
func (t *topic[T]) publish(v T) {
	t.mu.RLock()
	hs := t.handlers
	t.mu.RUnlock()

	t.published.Add(1)
	for _, h := range hs {
		h.fn(v)
	}
}

func (t *topic[T]) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}

func (t *topic[T]) reset() {
	t.mu.Lock()
	t.handlers = nil
	t.mu.Unlock()
}

// Bus delivers typed events synchronously, in the order they are published.
// The supervisor publishes from a single goroutine so subscribers observe
// events in the order they happened.
type Bus struct {
	state  topic[StateChange]
	media  topic[*protocol.MediaSnapshot]
	volume topic[*protocol.VolumeSnapshot]
	errs   topic[ErrorEvent]
	exits  topic[ExitEvent]
	closed atomic.Bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// OnStateChange subscribes to connection state transitions.
func (b *Bus) OnStateChange(fn func(StateChange)) (*Subscription, error) {
	return subscribe(b, &b.state, fn)
}

// OnMedia subscribes to media updates. The snapshot is nil when no session
// is active.
func (b *Bus) OnMedia(fn func(*protocol.MediaSnapshot)) (*Subscription, error) {
	return subscribe(b, &b.media, fn)
}

// OnVolume subscribes to volume updates. The snapshot is nil when the
// worker reported no volume state.
func (b *Bus) OnVolume(fn func(*protocol.VolumeSnapshot)) (*Subscription, error) {
	return subscribe(b, &b.volume, fn)
}

// OnError subscribes to worker stderr lines and supervision failures.
func (b *Bus) OnError(fn func(ErrorEvent)) (*Subscription, error) {
	return subscribe(b, &b.errs, fn)
}

// OnExit subscribes to exits of connected workers.
func (b *Bus) OnExit(fn func(ExitEvent)) (*Subscription, error) {
	return subscribe(b, &b.exits, fn)
}

func subscribe[T any](b *Bus, t *topic[T], fn func(T)) (*Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	return t.subscribe(fn), nil
}

func (b *Bus) PublishStateChange(ev StateChange) {
	if !b.closed.Load() {
		b.state.publish(ev)
	}
}

func (b *Bus) PublishMedia(m *protocol.MediaSnapshot) {
	if !b.closed.Load() {
		b.media.publish(m)
	}
}

func (b *Bus) PublishVolume(v *protocol.VolumeSnapshot) {
	if !b.closed.Load() {
		b.volume.publish(v)
	}
}

func (b *Bus) PublishError(ev ErrorEvent) {
	if !b.closed.Load() {
		b.errs.publish(ev)
	}
}

func (b *Bus) PublishExit(ev ExitEvent) {
	if !b.closed.Load() {
		b.exits.publish(ev)
	}
}

// Stats reports published counts and current subscribers per event kind.
type Stats struct {
	Published   map[string]uint64
	Subscribers map[string]int
}

// Stats returns a snapshot of bus activity.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: map[string]uint64{
			"state":  b.state.published.Load(),
			"media":  b.media.published.Load(),
			"volume": b.volume.published.Load(),
			"error":  b.errs.published.Load(),
			"exit":   b.exits.published.Load(),
		},
		Subscribers: map[string]int{
			"state":  b.state.count(),
			"media":  b.media.count(),
			"volume": b.volume.count(),
			"error":  b.errs.count(),
			"exit":   b.exits.count(),
		},
	}
}

// Close drops all subscribers. Later publishes are no-ops and later
// subscriptions fail with ErrBusClosed.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.state.reset()
	b.media.reset()
	b.volume.reset()
	b.errs.reset()
	b.exits.reset()
}
