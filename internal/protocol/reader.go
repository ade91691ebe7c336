package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

const (
	readBufferSize = 64 * 1024

	// MaxLineSize bounds a single record. Thumbnails are base64 inline so
	// media lines can be large; longer lines are dropped as malformed.
	MaxLineSize = 16 * 1024 * 1024
)

// ReaderStats is a point-in-time copy of a LineReader's counters.
type ReaderStats struct {
	BytesRead    int64
	LinesRead    int64
	Decoded      int64
	Malformed    int64
	UnknownTypes int64
}

// LineReader reads worker stdout, decodes each line and hands records to a
// callback in stream order. Decode failures never stop the reader.
//
// Unlike a lossy pipeline, LineReader calls the callback synchronously so
// that ordering between records is preserved; the callback must not block
// for long or the worker will stall on a full pipe.
type LineReader struct {
	reader    io.Reader
	onMessage func(Message)
	onInvalid func(line []byte, err error)
	closed    atomic.Bool

	bytesRead    atomic.Int64
	linesRead    atomic.Int64
	decoded      atomic.Int64
	malformed    atomic.Int64
	unknownTypes atomic.Int64
}

// NewLineReader creates a reader over r. onMessage must not be nil.
func NewLineReader(r io.Reader, onMessage func(Message)) *LineReader {
	return &LineReader{
		reader:    r,
		onMessage: onMessage,
	}
}

// OnInvalid registers a callback for discarded lines. Must be called
// before Run.
func (lr *LineReader) OnInvalid(fn func(line []byte, err error)) *LineReader {
	lr.onInvalid = fn
	return lr
}

// Run reads until EOF. It returns nil at EOF and the read error otherwise.
func (lr *LineReader) Run() error {
	defer lr.closed.Store(true)

	return ReadLines(lr.reader, func(line []byte, tooLong bool) {
		lr.bytesRead.Add(int64(len(line) + 1))
		lr.linesRead.Add(1)

		if tooLong {
			lr.malformed.Add(1)
			lr.invalid(line, fmt.Errorf("%w: line exceeds %d bytes", ErrMalformedLine, MaxLineSize))
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			return
		}

		msg, err := Decode(line)
		switch {
		case err == nil:
			lr.decoded.Add(1)
			lr.onMessage(msg)
		case errors.Is(err, ErrUnknownType):
			lr.unknownTypes.Add(1)
			lr.invalid(line, err)
		default:
			lr.malformed.Add(1)
			lr.invalid(line, err)
		}
	})
}

func (lr *LineReader) invalid(line []byte, err error) {
	if lr.onInvalid != nil {
		lr.onInvalid(line, err)
	}
}

// Stats returns the reader counters.
func (lr *LineReader) Stats() ReaderStats {
	return ReaderStats{
		BytesRead:    lr.bytesRead.Load(),
		LinesRead:    lr.linesRead.Load(),
		Decoded:      lr.decoded.Load(),
		Malformed:    lr.malformed.Load(),
		UnknownTypes: lr.unknownTypes.Load(),
	}
}

// Done reports whether Run has returned.
func (lr *LineReader) Done() bool {
	return lr.closed.Load()
}

// ReadLines calls fn for every line in r with the line terminator removed.
// A final line without a terminator is delivered too. Lines longer than
// MaxLineSize are truncated and flagged with tooLong=true. The slice passed
// to fn is only valid for the duration of the call.
func ReadLines(r io.Reader, fn func(line []byte, tooLong bool)) error {
	br := bufio.NewReaderSize(r, readBufferSize)
	var (
		buf      []byte
		overflow bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if len(buf)+len(chunk) <= MaxLineSize {
			buf = append(buf, chunk...)
		} else {
			overflow = true
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if len(buf) > 0 || overflow {
			fn(bytes.TrimRight(buf, "\r\n"), overflow)
		}
		buf = buf[:0]
		overflow = false

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
