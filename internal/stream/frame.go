package stream

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// FrameKind tags a Frame.
type FrameKind int

const (
	FrameToken FrameKind = iota
	FrameError
	FrameHeartbeat
	FrameDone
)

func (k FrameKind) String() string {
	switch k {
	case FrameToken:
		return "token"
	case FrameError:
		return "error"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameDone:
		return "done"
	}
	return "unknown"
}

// Frame is one unit on the wire.
type Frame struct {
	Kind FrameKind
	Data string
}

var (
	doneFrame      = Frame{Kind: FrameDone, Data: "[DONE]"}
	heartbeatFrame = Frame{Kind: FrameHeartbeat}
)

// WriteFrame renders a frame as a text/event-stream record. Data containing
// newlines becomes one data line per line.
func WriteFrame(w io.Writer, f Frame) error {
	if f.Kind == FrameHeartbeat {
		_, err := io.WriteString(w, ":\n\n")
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", f.Kind)
	for _, line := range strings.Split(f.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

// frameQueue is the FIFO between the producer, the heartbeat and the
// consumer. Once the done frame is in, nothing else is accepted.
type frameQueue struct {
	ch     chan Frame
	mu     sync.Mutex
	sealed bool
}

func newFrameQueue(size int) *frameQueue {
	if size <= 0 {
		size = 1
	}
	return &frameQueue{ch: make(chan Frame, size)}
}

// send enqueues f, blocking while the queue is full. It reports false when
// the queue is sealed or ctx ends first.
func (q *frameQueue) send(ctx context.Context, f Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sealed {
		return false
	}
	select {
	case q.ch <- f:
		if f.Kind == FrameDone {
			q.sealed = true
		}
		return true
	case <-ctx.Done():
		return false
	}
}
