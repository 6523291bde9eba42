package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSubscriberGone the subscriber no longer accepts events
var ErrSubscriberGone = errors.New("subscriber gone")

// ErrHeartbeatDue no event arrived within the wait window
var ErrHeartbeatDue = errors.New("heartbeat due")

// Subscriber is one per-connection delivery queue
//
// The queue is unbounded and FIFO. Enqueue never blocks.
type Subscriber struct {
	id        string
	createdAt time.Time

	lock     sync.Mutex
	queue    []Event
	closed   bool
	waiting  bool
	lastPoll time.Time

	notify chan struct{}
	done   chan struct{}
}

func newSubscriber(id string, now time.Time) *Subscriber {
	return &Subscriber{
		id:        id,
		createdAt: now,
		lastPoll:  now,
		queue:     make([]Event, 0, 4),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// ID the subscriber ID
func (s *Subscriber) ID() string {
	return s.id
}

// CreatedAt when the subscriber was registered
func (s *Subscriber) CreatedAt() time.Time {
	return s.createdAt
}

// Enqueue append an event to the queue
func (s *Subscriber) Enqueue(evt Event) error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return ErrSubscriberGone
	}
	s.queue = append(s.queue, evt)
	s.lock.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Next wait up to timeout for the next queued event
//
// Returns ErrHeartbeatDue on timeout, ErrSubscriberGone once closed, or the context error.
func (s *Subscriber) Next(ctxt context.Context, timeout time.Duration) (Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		s.lock.Lock()
		s.lastPoll = time.Now()
		if s.closed {
			s.lock.Unlock()
			return Event{}, ErrSubscriberGone
		}
		if len(s.queue) > 0 {
			evt := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.lock.Unlock()
			return evt, nil
		}
		s.waiting = true
		s.lock.Unlock()

		var err error
		select {
		case <-s.notify:
		case <-s.done:
		case <-timer.C:
			err = ErrHeartbeatDue
		case <-ctxt.Done():
			err = ctxt.Err()
		}
		s.lock.Lock()
		s.waiting = false
		s.lastPoll = time.Now()
		s.lock.Unlock()
		if err != nil {
			return Event{}, err
		}
	}
}

// Pending number of queued events
func (s *Subscriber) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.queue)
}

// idleFor how long since the owner last polled the queue. Zero while the owner is waiting.
func (s *Subscriber) idleFor(now time.Time) time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.waiting {
		return 0
	}
	return now.Sub(s.lastPoll)
}

// close stop accepting events, and wake any waiting reader. Safe to call repeatedly.
func (s *Subscriber) close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	close(s.done)
}

// Closed whether the subscriber stopped accepting events
func (s *Subscriber) Closed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closed
}
