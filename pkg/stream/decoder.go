package stream

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultMaxLineBytes bounds a single buffered line.
const DefaultMaxLineBytes = 1 << 20

// ErrLineTooLong is returned when a line grows past the decoder limit
// without a terminating newline.
var ErrLineTooLong = errors.New("stream line exceeds size limit")

// Decoder accumulates chunks of a newline-delimited body and yields
// complete lines. A trailing "\r" is stripped, so "\r\n" framing works.
// Bytes after the last newline stay buffered until more data arrives.
type Decoder struct {
	buf     []byte
	maxLine int
}

// NewDecoder creates a decoder. maxLine <= 0 selects DefaultMaxLineBytes.
func NewDecoder(maxLine int) *Decoder {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &Decoder{maxLine: maxLine}
}

// Feed appends a chunk.
func (d *Decoder) Feed(chunk []byte) error {
	d.buf = append(d.buf, chunk...)
	if bytes.IndexByte(d.buf, '\n') < 0 && len(d.buf) > d.maxLine {
		return fmt.Errorf("%w (%d bytes buffered)", ErrLineTooLong, len(d.buf))
	}
	return nil
}

// Next pops the next complete line. The returned slice aliases the internal
// buffer. An empty line is a keep-alive.
func (d *Decoder) Next() (line []byte, ok bool) {
	idx := bytes.IndexByte(d.buf, '\n')
	if idx < 0 {
		return nil, false
	}

	line = d.buf[:idx]
	d.buf = d.buf[idx+1:]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return line, true
}

// Buffered returns the number of bytes held without a newline yet.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops buffered bytes, e.g. after a reconnect.
func (d *Decoder) Reset() {
	d.buf = nil
}
