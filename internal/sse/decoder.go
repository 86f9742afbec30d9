// Package sse decodes server-sent-event bodies incrementally.
//
// LineDecoder is fed raw chunks as they arrive from the network and yields
// only complete lines. A trailing fragment is held back until the next chunk
// completes it, so a JSON payload or a multi-byte rune split across reads is
// never seen half-formed.
package sse

import (
	"bytes"
	"strings"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

// LineDecoder accumulates bytes and splits them into lines.
type LineDecoder struct {
	buf []byte
}

// Write appends p and returns the lines it completed, without terminators.
func (d *LineDecoder) Write(p []byte) []string {
	d.buf = append(d.buf, p...)

	var lines []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		lines = append(lines, string(line))
		d.buf = d.buf[i+1:]
	}

	// Compact so the backing array does not grow without bound on long streams.
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
	return lines
}

// Flush returns whatever incomplete line remains and empties the buffer.
func (d *LineDecoder) Flush() string {
	rest := strings.TrimSuffix(string(d.buf), "\r")
	d.buf = nil
	return rest
}

// Pending reports how many bytes are held back.
func (d *LineDecoder) Pending() int { return len(d.buf) }

// DataPayload returns the payload of a "data:" line. Other lines, such as
// comments, event names and blank separators, report ok=false.
func DataPayload(line string) (payload string, ok bool) {
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, dataPrefix)), true
}

// Done reports whether payload is the end-of-stream sentinel.
func Done(payload string) bool {
	return payload == doneMarker
}
