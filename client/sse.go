package client

import (
	"bufio"
	"bytes"
	"io"
)

const (
	sseScannerInitialBuffer = 64 * 1024
	sseScannerMaxBuffer     = 10 * 1024 * 1024
)

// Decoder reassembles SSE frames from a byte stream. Chunk boundaries in the
// underlying reader do not affect the frames produced.
type Decoder struct {
	scanner   *bufio.Scanner
	data      [][]byte
	onComment func()
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, sseScannerInitialBuffer), sseScannerMaxBuffer)
	return &Decoder{scanner: scanner}
}

// OnComment registers fn to run for every comment line. Servers send
// comments such as ": keep-alive" to hold an idle connection open.
func (d *Decoder) OnComment(fn func()) {
	d.onComment = fn
}

// Next returns the joined data lines of the next complete frame. A frame is
// complete at a blank line; frames without data lines are skipped. At end of
// input it returns io.EOF, discarding any unterminated frame.
func (d *Decoder) Next() ([]byte, error) {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()

		if len(line) == 0 {
			if len(d.data) == 0 {
				continue
			}
			payload := bytes.Join(d.data, []byte("\n"))
			d.data = d.data[:0]
			return payload, nil
		}

		// Comment line (": keep-alive")
		if line[0] == ':' {
			if d.onComment != nil {
				d.onComment()
			}
			continue
		}

		field, value, found := bytes.Cut(line, []byte(":"))
		if !found {
			continue
		}
		if string(field) != "data" {
			// event:, id: and retry: carry nothing the client uses
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		d.data = append(d.data, append([]byte(nil), value...))
	}

	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	d.data = nil
	return nil, io.EOF
}
