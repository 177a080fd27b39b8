package events

import (
	"sync"

	"go.uber.org/zap"
)

// BufferedSink decouples producers from a downstream Sink with a bounded
// channel. When the buffer is full, the oldest queued event is dropped
// to make room for the newest.
type BufferedSink struct {
	downstream Sink
	logger     *zap.Logger

	buf       chan Event
	closeOnce sync.Once
	done      chan struct{}
}

// NewBufferedSink starts the drain goroutine immediately.
func NewBufferedSink(downstream Sink, capacity int, logger *zap.Logger) *BufferedSink {
	if capacity <= 0 {
		capacity = 1024
	}
	s := &BufferedSink{
		downstream: downstream,
		logger:     logger.With(zap.String("component", "eventsink")),
		buf:        make(chan Event, capacity),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish never blocks: a full buffer drops its oldest entry.
func (s *BufferedSink) Publish(e Event) {
	select {
	case s.buf <- e:
		return
	default:
	}

	select {
	case <-s.buf:
		s.logger.Warn("event buffer full, dropping oldest", zap.String("type", string(e.Type)))
	default:
	}

	select {
	case s.buf <- e:
	default:
		s.logger.Warn("event buffer still full after drop, discarding event", zap.String("type", string(e.Type)))
	}
}

func (s *BufferedSink) run() {
	defer close(s.done)
	for e := range s.buf {
		s.safePublish(e)
	}
}

func (s *BufferedSink) safePublish(e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("downstream event sink panicked", zap.Any("recover", r))
		}
	}()
	s.downstream.Publish(e)
}

// Close stops accepting new events and waits for the buffer to drain.
func (s *BufferedSink) Close() {
	s.closeOnce.Do(func() {
		close(s.buf)
	})
	<-s.done
}
