package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
)

// Events buffered per SSE subscriber before it counts as stalled.
const sseQueueSize = 64

// ErrSlowSubscriber is returned when a subscriber's buffer is full.
var ErrSlowSubscriber = errors.New("subscriber is not keeping up")

// SSESink delivers events on a long-lived text/event-stream response. Send
// and Ping only enqueue; Serve does the writing on the request goroutine.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	queue   chan sse.Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewSSESink writes the stream headers and closes the sink when ctx (the
// request context) ends.
func NewSSESink(ctx context.Context, w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := &SSESink{
		w:       w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		queue:   make(chan sse.Event, sseQueueSize),
		done:    make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *SSESink) Send(ev Event) error {
	return s.enqueue(sse.Event{Event: string(ev.Type), Data: ev})
}

func (s *SSESink) Ping() error {
	return s.enqueue(sse.Event{Event: "ping", Data: time.Now().UTC().Format(time.RFC3339)})
}

func (s *SSESink) Done() <-chan struct{} {
	return s.done
}

func (s *SSESink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown()
	return nil
}

// Serve writes queued events until the sink is closed or a write fails. It
// must run on the goroutine that owns the response.
func (s *SSESink) Serve() {
	for {
		select {
		case <-s.done:
			return
		case e := <-s.queue:
			if err := s.write(e); err != nil {
				_ = s.Close()
				return
			}
		}
	}
}

// enqueue never blocks: a full buffer closes the sink.
func (s *SSESink) enqueue(e sse.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.queue <- e:
		return nil
	default:
		s.shutdown()
		return ErrSlowSubscriber
	}
}

func (s *SSESink) write(e sse.Event) error {
	// writers that cannot take a deadline (test recorders) write unbounded
	if err := s.rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if err := sse.Encode(s.w, e); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// shutdown must be called with s.mu held.
func (s *SSESink) shutdown() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
