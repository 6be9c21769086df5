package stream

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Frame is one event as read from the wire.
type Frame struct {
	ID    uint64
	Event string
	Data  string
}

// Read parses an SSE body and calls fn for each frame. It stops at EOF or
// when fn returns an error.
func Read(r io.Reader, fn func(Frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	var f Frame
	pending := false

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if pending {
				if err := fn(f); err != nil {
					return err
				}
			}
			f = Frame{}
			pending = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			if n, err := strconv.ParseUint(value, 10, 64); err == nil {
				f.ID = n
			}
		case "event":
			f.Event = value
		case "data":
			if f.Data != "" {
				f.Data += "\n"
			}
			f.Data += value
		default:
			continue
		}
		pending = true
	}

	if pending {
		if err := fn(f); err != nil {
			return err
		}
	}
	return scanner.Err()
}
