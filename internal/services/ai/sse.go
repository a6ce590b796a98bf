package ai

import (
	"bufio"
	"io"
	"strings"
)

const maxEventLine = 1 << 20

// eventReader splits a text/event-stream body into payloads. Comment and
// event-name lines are ignored; data lines are buffered until a blank line.
type eventReader struct {
	scanner *bufio.Scanner
	buf     []string
}

func newEventReader(r io.Reader) *eventReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	return &eventReader{scanner: sc}
}

// Next returns the next non-empty payload, or io.EOF when the body ends.
func (er *eventReader) Next() (string, error) {
	for er.scanner.Scan() {
		line := strings.TrimRight(er.scanner.Text(), "\r")
		switch {
		case line == "":
			if payload := er.flush(); payload != "" {
				return payload, nil
			}
		case strings.HasPrefix(line, ":"), strings.HasPrefix(line, "event"):
		case strings.HasPrefix(line, "data:"):
			er.buf = append(er.buf, strings.TrimSpace(line[len("data:"):]))
		default:
			er.buf = append(er.buf, strings.TrimSpace(line))
		}
	}
	if err := er.scanner.Err(); err != nil {
		return "", err
	}
	if payload := er.flush(); payload != "" {
		return payload, nil
	}
	return "", io.EOF
}

func (er *eventReader) flush() string {
	if len(er.buf) == 0 {
		return ""
	}
	payload := strings.TrimSpace(strings.Join(er.buf, "\n"))
	er.buf = er.buf[:0]
	return payload
}
