// Package ringchan provides a bounded channel that never blocks its producer.
package ringchan

import "sync/atomic"

// Ring is a buffered channel with overwrite-oldest semantics.
//
// Producers call Send, which always succeeds: when the buffer is full the
// oldest element is discarded. Consumers read from C like any channel.
// Ring supports a single producer; FIFO order of the retained elements is
// preserved.
//
//	r := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    r.Send(i)
//	}
//	r.Close()
//	for v := range r.C() {
//	    fmt.Println(v) // 7, 8, 9
//	}
type Ring[T any] struct {
	ch    chan T
	stats Stats
}

// Stats counts traffic through a Ring. Fields are updated atomically.
type Stats struct {
	Written int64
	Dropped int64
}

// New creates a Ring with the given capacity.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the receive side of the ring.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send enqueues v, discarding the oldest element if the buffer is full.
// It reports whether an element was dropped.
func (r *Ring[T]) Send(v T) bool {
	dropped := false
	for {
		select {
		case r.ch <- v:
			atomic.AddInt64(&r.stats.Written, 1)
			return dropped
		default:
		}
		select {
		case <-r.ch:
			atomic.AddInt64(&r.stats.Dropped, 1)
			dropped = true
		default:
		}
	}
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}

// Close closes the channel. Send must not be called afterwards.
func (r *Ring[T]) Close() {
	close(r.ch)
}

// Stats returns a snapshot of the counters.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Written: atomic.LoadInt64(&r.stats.Written),
		Dropped: atomic.LoadInt64(&r.stats.Dropped),
	}
}
