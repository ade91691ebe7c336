// Package protocol implements the line-delimited JSON protocol spoken with the
// media worker process.
//
// The worker writes one record per line on stdout:
//
//	{"type":"media","data":{...}}
//	{"type":"volume","data":{...}}
//
// and reads one command per line on stdin:
//
//	{"command":"set_volume","value":40}
//
// Lines may end in "\n" or "\r\n".
package protocol

import "strings"

// MessageType identifies an inbound record.
type MessageType string

const (
	TypeMedia  MessageType = "media"
	TypeVolume MessageType = "volume"
)

// PlaybackStatus is the play state reported for a media session.
type PlaybackStatus string

const (
	StatusPlaying PlaybackStatus = "Playing"
	StatusPaused  PlaybackStatus = "Paused"
	StatusStopped PlaybackStatus = "Stopped"
	StatusUnknown PlaybackStatus = "Unknown"
)

// ParsePlaybackStatus maps a worker status string onto a known status.
// Matching is case-insensitive; anything unrecognised is StatusUnknown.
func ParsePlaybackStatus(s string) PlaybackStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "playing":
		return StatusPlaying
	case "paused":
		return StatusPaused
	case "stopped", "closed":
		return StatusStopped
	default:
		return StatusUnknown
	}
}

// MediaSnapshot describes the currently focused media session.
// A nil *MediaSnapshot means no session is active.
type MediaSnapshot struct {
	ID             string         `json:"id"`
	AppID          string         `json:"appId"`
	AppName        string         `json:"appName"`
	Title          string         `json:"title"`
	Artist         string         `json:"artist"`
	Album          string         `json:"album"`
	PlaybackStatus PlaybackStatus `json:"playbackStatus"`
	Thumbnail      *string        `json:"thumbnailBase64,omitempty"`
	IsFocused      bool           `json:"isFocused"`
}

// HasThumbnail reports whether the snapshot carries artwork.
func (m *MediaSnapshot) HasThumbnail() bool {
	return m != nil && m.Thumbnail != nil && *m.Thumbnail != ""
}

// AudioDevice is one output device reported by the worker.
type AudioDevice struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
	IsMuted   bool   `json:"isMuted"`
	Volume    int    `json:"volume"`
}

// VolumeSnapshot is the master volume state plus the device list when the
// worker reports one.
type VolumeSnapshot struct {
	Level   int           `json:"volume"`
	Muted   bool          `json:"muted"`
	Devices []AudioDevice `json:"devices,omitempty"`
}

// DefaultDevice returns the device flagged as default, or the first device.
func (v *VolumeSnapshot) DefaultDevice() (AudioDevice, bool) {
	if v == nil || len(v.Devices) == 0 {
		return AudioDevice{}, false
	}
	for _, d := range v.Devices {
		if d.IsDefault {
			return d, true
		}
	}
	return v.Devices[0], true
}

// Message is one decoded inbound record. Exactly one of Media or Volume is
// meaningful, selected by Type. Media may be nil for TypeMedia.
type Message struct {
	Type   MessageType
	Media  *MediaSnapshot
	Volume *VolumeSnapshot
}

// CommandName is the verb of an outbound command.
type CommandName string

const (
	CmdPlay       CommandName = "play"
	CmdPause      CommandName = "pause"
	CmdPlayPause  CommandName = "playpause"
	CmdNext       CommandName = "next"
	CmdPrevious   CommandName = "previous"
	CmdVolumeUp   CommandName = "volume_up"
	CmdVolumeDown CommandName = "volume_down"
	CmdSetVolume  CommandName = "set_volume"
	CmdToggleMute CommandName = "toggle_mute"
	CmdClose      CommandName = "close"
)

// Valid reports whether n is a command the worker understands.
func (n CommandName) Valid() bool {
	switch n {
	case CmdPlay, CmdPause, CmdPlayPause, CmdNext, CmdPrevious,
		CmdVolumeUp, CmdVolumeDown, CmdSetVolume, CmdToggleMute, CmdClose:
		return true
	}
	return false
}

// Command is one outbound instruction. Commands are idempotent at the
// protocol level; resending one after a failed write is safe.
type Command struct {
	Name        CommandName `json:"command"`
	StepPercent *int        `json:"stepPercent,omitempty"`
	Value       *int        `json:"value,omitempty"`
}

// NewCommand returns a command without arguments.
func NewCommand(name CommandName) Command {
	return Command{Name: name}
}

// StepCommand returns a volume_up or volume_down command.
func StepCommand(name CommandName, step int) Command {
	return Command{Name: name, StepPercent: &step}
}

// SetVolumeCommand returns a set_volume command.
func SetVolumeCommand(level int) Command {
	return Command{Name: CmdSetVolume, Value: &level}
}

func (c Command) String() string {
	switch {
	case c.Value != nil:
		return string(c.Name) + "(" + itoa(*c.Value) + ")"
	case c.StepPercent != nil:
		return string(c.Name) + "(" + itoa(*c.StepPercent) + ")"
	default:
		return string(c.Name)
	}
}
