package registry

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscriber is one dashboard consumer of the realtime feed. Frames are
// delivered through a bounded queue; the producer never blocks on a slow
// consumer and the queue channel is never closed, so a late Offer after
// Stop is harmless.
type Subscriber struct {
	id         uuid.UUID
	remoteAddr string

	frames  chan []byte
	done    chan struct{}
	stop    sync.Once
	dropped atomic.Uint64
}

func newSubscriber(remoteAddr string, queueSize int) *Subscriber {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Subscriber{
		id:         uuid.New(),
		remoteAddr: remoteAddr,
		frames:     make(chan []byte, queueSize),
		done:       make(chan struct{}),
	}
}

func (s *Subscriber) ID() uuid.UUID      { return s.id }
func (s *Subscriber) RemoteAddr() string { return s.remoteAddr }

// Offer enqueues a frame without blocking. It reports false when the
// frame was dropped, either because the queue is full or the subscriber
// has stopped.
func (s *Subscriber) Offer(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.frames <- frame:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Frames is the delivery channel for the subscriber's write loop.
func (s *Subscriber) Frames() <-chan []byte { return s.frames }

// Done is closed when the subscriber is removed from the registry.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Dropped returns how many frames were discarded due to backpressure.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscriber) stopOnce() {
	s.stop.Do(func() { close(s.done) })
}
