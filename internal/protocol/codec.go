package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

var (
	// ErrMalformedLine is returned for lines that are empty, not JSON, or
	// carry a payload that does not match their type.
	ErrMalformedLine = errors.New("protocol: malformed line")

	// ErrUnknownType is returned for well-formed records with an
	// unrecognised type. Callers ignore these.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrInvalidCommand is returned when encoding a command the worker
	// would reject.
	ErrInvalidCommand = errors.New("protocol: invalid command")
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode serialises cmd as a single JSON object terminated by "\n".
func Encode(cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Name, err)
	}
	return append(b, '\n'), nil
}

// Validate checks that the command name is known and that required
// arguments are present.
func (c Command) Validate() error {
	if !c.Name.Valid() {
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, c.Name)
	}
	if c.Name == CmdSetVolume && c.Value == nil {
		return fmt.Errorf("%w: set_volume requires a value", ErrInvalidCommand)
	}
	return nil
}

// DecodeCommand parses one command line. It is the inverse of Encode and is
// what a worker implementation does with its stdin.
func DecodeCommand(line []byte) (Command, error) {
	line = trimLine(line)
	if len(line) == 0 {
		return Command{}, ErrMalformedLine
	}
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Decode parses one inbound line from the worker.
//
// A trailing "\r" is tolerated. Empty lines and lines that are not JSON
// objects return ErrMalformedLine; records with an unknown type return
// ErrUnknownType. Neither error should stop the reader.
func Decode(line []byte) (Message, error) {
	line = trimLine(line)
	if len(line) == 0 || line[0] != '{' {
		return Message{}, ErrMalformedLine
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	switch MessageType(env.Type) {
	case TypeMedia:
		media, err := decodeMedia(env.Data)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeMedia, Media: media}, nil
	case TypeVolume:
		vol, err := decodeVolume(env.Data)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeVolume, Volume: vol}, nil
	case "":
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedLine)
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeMedia(data json.RawMessage) (*MediaSnapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] != '{' {
		return nil, fmt.Errorf("%w: media payload is not an object", ErrMalformedLine)
	}
	var m MediaSnapshot
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: media: %v", ErrMalformedLine, err)
	}
	m.PlaybackStatus = ParsePlaybackStatus(string(m.PlaybackStatus))
	return &m, nil
}

// decodeVolume accepts both payload shapes: an object carrying volume and
// muted (optionally with devices), or a bare array of devices. A null or
// missing payload decodes to nil.
func decodeVolume(data json.RawMessage) (*VolumeSnapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var v VolumeSnapshot
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &v.Devices); err != nil {
			return nil, fmt.Errorf("%w: volume devices: %v", ErrMalformedLine, err)
		}
		if d, ok := v.DefaultDevice(); ok {
			v.Level = d.Volume
			v.Muted = d.IsMuted
		}
	case '{':
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: volume: %v", ErrMalformedLine, err)
		}
	default:
		return nil, fmt.Errorf("%w: volume payload is not an object or array", ErrMalformedLine)
	}

	v.Level = clampPercent(v.Level)
	for i := range v.Devices {
		v.Devices[i].Volume = clampPercent(v.Devices[i].Volume)
	}
	return &v, nil
}

func trimLine(line []byte) []byte {
	line = bytes.TrimRight(line, "\r\n")
	return bytes.TrimSpace(line)
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
