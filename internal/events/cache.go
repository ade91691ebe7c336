package events

import (
	"sync"
	"time"

	"github.com/randomizedcoder/go-mediactl/internal/protocol"
)

// Cache holds the last successfully decoded media and volume records.
// It survives worker restarts and is cleared on Stop.
type Cache struct {
	mu        sync.RWMutex
	media     *protocol.MediaSnapshot
	mediaSeen bool
	volume    *protocol.VolumeSnapshot
	updated   time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Apply records msg. Only media and volume records are stored.
func (c *Cache) Apply(msg protocol.Message, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case protocol.TypeMedia:
		c.media = cloneMedia(msg.Media)
		c.mediaSeen = true
	case protocol.TypeVolume:
		c.volume = cloneVolume(msg.Volume)
	default:
		return
	}
	c.updated = now
}

// Media returns the last media snapshot. ok is false if no media record
// has been received; a nil snapshot with ok true means no session is active.
func (c *Cache) Media() (m *protocol.MediaSnapshot, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneMedia(c.media), c.mediaSeen
}

// Volume returns the last volume snapshot, or nil.
func (c *Cache) Volume() *protocol.VolumeSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneVolume(c.volume)
}

// Updated returns when the cache last changed.
func (c *Cache) Updated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}

// Clear forgets both snapshots.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media = nil
	c.mediaSeen = false
	c.volume = nil
	c.updated = time.Time{}
}

func cloneMedia(m *protocol.MediaSnapshot) *protocol.MediaSnapshot {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Thumbnail != nil {
		thumb := *m.Thumbnail
		cp.Thumbnail = &thumb
	}
	return &cp
}

func cloneVolume(v *protocol.VolumeSnapshot) *protocol.VolumeSnapshot {
	if v == nil {
		return nil
	}
	cp := *v
	if v.Devices != nil {
		cp.Devices = append([]protocol.AudioDevice(nil), v.Devices...)
	}
	return &cp
}
