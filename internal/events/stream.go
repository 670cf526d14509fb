// Package events implements the NDJSON progress-event protocol emitted by a
// research session: a bounded, backpressure-applying channel of EventRecord
// values serialized one JSON object per line.
package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// DefaultBufferSize is the design default for a session's event buffer.
const DefaultBufferSize = 64

// Stream is a single-producer, single-consumer NDJSON event channel with a
// bounded buffer. Emit blocks once the buffer is full, applying backpressure
// to the producing worker rather than dropping events — unlike the
// fire-and-forget pub/sub bus this is adapted from, no event may be lost.
type Stream struct {
	ch     chan EventRecord
	once   sync.Once
	closed chan struct{}
}

// NewStream creates a Stream with the given buffer size. A size <= 0 uses
// DefaultBufferSize.
func NewStream(bufferSize int) *Stream {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Stream{
		ch:     make(chan EventRecord, bufferSize),
		closed: make(chan struct{}),
	}
}

// Emit sends an event, blocking if the buffer is full. It returns false
// without sending if the stream has already been closed.
func (s *Stream) Emit(e EventRecord) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.ch <- e:
		return true
	case <-s.closed:
		return false
	}
}

// Events returns the consumer-facing channel. It is closed when Close is
// called and all buffered events have been drained.
func (s *Stream) Events() <-chan EventRecord {
	return s.ch
}

// Close signals that no further events will be emitted and closes the
// underlying channel once drained. Safe to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.closed)
		close(s.ch)
	})
}

// WriteNDJSON drains events from s, writing one JSON object per line to w
// until s is closed and fully drained. It returns the first write or
// encode error encountered, if any.
func WriteNDJSON(w io.Writer, s *Stream) error {
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	enc := json.NewEncoder(bw)
	for e := range s.Events() {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("events: encode %s: %w", e.Type, err)
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("events: flush: %w", err)
		}
	}
	return nil
}
