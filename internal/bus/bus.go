// Package bus provides single-writer, many-reader topics with latched
// last-value semantics. A publisher overwrites the topic; subscribers poll
// for changes at their own pace and always observe the newest value, never
// a backlog. This mirrors how the control loop consumes sensor data: only
// the latest sample matters.
package bus

import (
	"context"
	"sync"
	"time"
)

// Topic holds the latest published value of type T.
type Topic[T any] struct {
	mu     sync.Mutex
	value  T
	seq    uint64
	notify chan struct{}
}

// NewTopic returns an empty topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{notify: make(chan struct{}, 1)}
}

// Publish replaces the topic value and wakes a blocked waiter, if any.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	t.value = v
	t.seq++
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// Value returns the latest published value and whether the topic has ever
// been published to.
func (t *Topic[T]) Value() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.seq > 0
}

func (t *Topic[T]) load() (T, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.seq
}

// Subscribe returns a new subscription positioned before any published
// value, so the first Poll after a publish reports an update.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	return &Subscription[T]{topic: t}
}

// Subscription tracks which publication a reader has seen.
type Subscription[T any] struct {
	topic *Topic[T]
	seen  uint64
	last  T
}

// Poll returns the latest value and whether it changed since the previous
// Poll. When nothing changed it returns the previously seen value.
func (s *Subscription[T]) Poll() (T, bool) {
	v, seq := s.topic.load()
	if seq == s.seen {
		return s.last, false
	}
	s.seen = seq
	s.last = v
	return v, true
}

// Last returns the most recent value observed by Poll without checking for
// updates.
func (s *Subscription[T]) Last() T {
	return s.last
}

// Wait blocks until the topic holds a publication this subscription has not
// seen, the timeout elapses, or ctx is canceled. It reports whether a fresh
// value is available; call Poll to retrieve it. A topic supports one waiting
// subscription at a time, any number of polling ones.
func (s *Subscription[T]) Wait(ctx context.Context, timeout time.Duration) bool {
	if _, seq := s.topic.load(); seq != s.seen {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-s.topic.notify:
			if _, seq := s.topic.load(); seq != s.seen {
				return true
			}
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
