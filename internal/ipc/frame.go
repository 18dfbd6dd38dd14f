// Package ipc implements the daemon's local transport: a length-delimited
// newline-framed JSON protocol over a Unix domain socket, a command
// router, and stream-event fan-out to attached subscribers.
package ipc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"cyberredd/internal/cerr"
)

const (
	// DefaultSoftLimit is the default per-message size limit in bytes.
	DefaultSoftLimit = 65 * 1024
	// HardLimitMultiplier: the hard limit is always 2x the soft limit.
	HardLimitMultiplier = 2
)

// FrameReader reads newline-delimited JSON messages, enforcing soft/hard
// size limits. A message at exactly the soft limit is accepted; over the
// soft limit but within the hard limit is reported as oversizedSoft (the
// caller disconnects without a protocol error); over the hard limit is
// reported as an *cerr.IPCProtocolError.
type FrameReader struct {
	r         *bufio.Reader
	softLimit int
	hardLimit int
}

func NewFrameReader(r io.Reader, softLimit int) *FrameReader {
	if softLimit <= 0 {
		softLimit = DefaultSoftLimit
	}
	return &FrameReader{
		r:         bufio.NewReaderSize(r, softLimit+256),
		softLimit: softLimit,
		hardLimit: softLimit * HardLimitMultiplier,
	}
}

// ReadMessage reads one newline-terminated line. oversizedSoft is true
// when the line is longer than the soft limit but within the hard limit:
// the caller should log and close the connection without replying.
func (f *FrameReader) ReadMessage() (line []byte, oversizedSoft bool, err error) {
	var buf bytes.Buffer
	for {
		chunk, isPrefix, readErr := f.r.ReadLine()
		buf.Write(chunk)
		if buf.Len() > f.hardLimit {
			// Drain the rest of the oversized line so framing stays intact
			// for any caller that chooses to keep reading (it normally
			// won't — the offending connection is dropped).
			for isPrefix && readErr == nil {
				_, isPrefix, readErr = f.r.ReadLine()
			}
			return nil, false, &cerr.IPCProtocolError{Message: fmt.Sprintf("message exceeds hard limit of %d bytes", f.hardLimit)}
		}
		if readErr != nil {
			return nil, false, readErr
		}
		if !isPrefix {
			break
		}
	}
	if buf.Len() > f.softLimit {
		return nil, true, nil
	}
	return buf.Bytes(), false, nil
}

// WriteMessage writes one newline-terminated JSON message.
func WriteMessage(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte{'\n'})
	return err
}
