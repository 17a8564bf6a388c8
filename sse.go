package toolgate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errStreamClosed = errors.New("stream closed")

// sseStream is one open HTTP response configured for text/event-stream. Each
// stream carries a cancellation function; cancelling it unblocks the handler
// goroutine that owns the underlying connection, which releases the stream
// deterministically.
type sseStream struct {
	id        string
	sessionID string

	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
	cancel  context.CancelFunc
}

// newStreamID builds an id unique within the process: session id plus
// timestamp plus a random suffix.
func newStreamID(sessionID string) string {
	return fmt.Sprintf("%s:%d:%s", sessionID, time.Now().UnixMilli(), uuid.NewString()[:8])
}

func newSSEStream(sessionID string, w http.ResponseWriter, flusher http.Flusher, cancel context.CancelFunc) *sseStream {
	return &sseStream{
		id:        newStreamID(sessionID),
		sessionID: sessionID,
		w:         w,
		flusher:   flusher,
		cancel:    cancel,
	}
}

// writeFrame emits a single SSE frame: an optional "event:" line, an optional
// numeric "id:" line, a "data:" line and the terminating blank line. The
// frame is built in full and written with one Write call so no partial frame
// can interleave with another goroutine's emit.
func (s *sseStream) writeFrame(event string, eventID *uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStreamClosed
	}

	var buf bytes.Buffer
	if event != "" {
		fmt.Fprintf(&buf, "event: %s\n", event)
	}
	if eventID != nil {
		fmt.Fprintf(&buf, "id: %d\n", *eventID)
	}
	fmt.Fprintf(&buf, "data: %s\n\n", data)

	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// writeComment emits an SSE comment line, used as a keep-alive.
func (s *sseStream) writeComment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStreamClosed
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// close marks the stream closed and cancels its context. Safe to call more
// than once; double-closing an already torn down connection is ignored.
func (s *sseStream) close() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()

	if !already && s.cancel != nil {
		s.cancel()
	}
}

// streamRegistry tracks every open SSE stream in the process so that session
// teardown can end the underlying HTTP responses.
type streamRegistry struct {
	mu      sync.Mutex
	streams map[string]*sseStream
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{streams: make(map[string]*sseStream)}
}

func (r *streamRegistry) add(s *sseStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[s.id] = s
}

func (r *streamRegistry) remove(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, streamID)
}

// closeStream ends the stream with the given id, if still open.
func (r *streamRegistry) closeStream(streamID string) {
	r.mu.Lock()
	s, ok := r.streams[streamID]
	delete(r.streams, streamID)
	r.mu.Unlock()

	if ok {
		s.close()
	}
}

func (r *streamRegistry) closeAll() {
	r.mu.Lock()
	streams := make([]*sseStream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.streams = make(map[string]*sseStream)
	r.mu.Unlock()

	for _, s := range streams {
		s.close()
	}
}

func (r *streamRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}
