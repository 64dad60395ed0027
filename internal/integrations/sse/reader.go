// Package sse reads server-sent-event frames from a streamed HTTP response.
package sse

import (
	"bufio"
	"io"
	"strings"
)

const maxFrameBytes = 1024 * 1024

// Frame is one dispatched event. Event is empty when the frame carried no
// "event:" field.
type Frame struct {
	Event string
	Data  string
}

type Reader struct {
	scanner *bufio.Scanner
}

func NewReader(source io.Reader) *Reader {
	scanner := bufio.NewScanner(source)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameBytes)
	return &Reader{scanner: scanner}
}

// Next returns the next frame with a non-empty data field. It returns io.EOF
// when the source ends.
func (r *Reader) Next() (Frame, error) {
	var (
		frame   Frame
		data    []string
		hasData bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if hasData {
				frame.Data = strings.Join(data, "\n")
				return frame, nil
			}
			frame = Frame{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			frame.Event = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Frame{}, err
	}
	if hasData {
		frame.Data = strings.Join(data, "\n")
		return frame, nil
	}
	return Frame{}, io.EOF
}
