// Package handoff implements the single-slot, two-phase rendezvous channel
// that connects the pipeline thread to one scoring worker.
//
// A Channel is not a queue: it holds at most one pending frame pair, and
// the producer blocks inside Submit until the consumer has finished reading
// the pair. That lockstep is what lets both sides share pixel buffers
// without copying: the producer never invalidates a buffer while the
// consumer may still be reading it.
//
// Exactly one goroutine may produce and exactly one may consume. Close is
// safe from either side and from any goroutine.
package handoff

import (
	"errors"
	"sync"

	"github.com/opd-ai/vqa/frame"
)

// ErrClosed indicates the consumer side ended (error or finished) before
// the producer's pending submit was acknowledged. The stream can no longer
// be driven.
var ErrClosed = errors.New("handoff channel closed")

// ErrEnded is the normal end-of-stream signal observed by the consumer.
// It is not a failure.
var ErrEnded = errors.New("no more frames")

// Channel is a single-slot rendezvous between one producer and one
// consumer. The zero value is not usable; create channels with NewChannel.
type Channel struct {
	mu   sync.Mutex
	cond *sync.Cond

	ref, dist *frame.Frame
	ready     bool // pair stored, not yet picked up
	busy      bool // consumer reading inside the validity window
	closed    bool
}

// NewChannel returns an open channel in the empty-waiting-for-producer
// state.
func NewChannel() *Channel {
	c := &Channel{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Submit offers one frame pair to the consumer and blocks until the
// consumer has fully read it. The frame memory stays owned by the caller
// and may be reused as soon as Submit returns nil.
//
// Returns ErrClosed if the channel closes before the pair is consumed; the
// pair may or may not have been read in that case, and the caller must
// stop driving this stream.
func (c *Channel) Submit(ref, dist *frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.ref, c.dist = ref, dist
	c.ready = true
	c.cond.Broadcast()

	for {
		if !c.ready && !c.busy {
			// Consumed and acknowledged; the buffers are ours again.
			return nil
		}
		if c.closed && c.ready {
			// Closed before pickup. Invalidate the slot so a late Take
			// cannot observe buffers we are about to reuse.
			c.ref, c.dist = nil, nil
			c.ready = false
			return ErrClosed
		}
		// Either the pair has not been picked up yet, or the consumer is
		// inside its read window. A close during the read window does not
		// shorten it; we keep waiting until the read completes.
		c.cond.Wait()
	}
}

// Take blocks until a frame pair is available or the stream ends, then runs
// read with the pair while the producer is still parked in Submit. The
// acknowledgment that unblocks the producer is sent only after read
// returns, so read is the full extent of the buffer validity window.
//
// Returns ErrEnded when the channel is closed with no pending pair.
func (c *Channel) Take(read func(ref, dist *frame.Frame)) error {
	c.mu.Lock()

	for !c.ready && !c.closed {
		c.cond.Wait()
	}
	if !c.ready {
		c.mu.Unlock()
		return ErrEnded
	}

	ref, dist := c.ref, c.dist
	c.ready = false
	c.busy = true
	c.mu.Unlock()

	// The producer is still blocked: reading outside the lock is safe and
	// keeps the engine's per-frame conversion off the critical section.
	read(ref, dist)

	c.mu.Lock()
	c.ref, c.dist = nil, nil
	c.busy = false
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

// Close transitions the channel to the closed state and wakes both sides.
// The producer calls it to announce end-of-stream; the consumer calls it on
// fatal error so a producer parked in Submit unblocks with ErrClosed.
// Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

// Closed reports whether the channel has been closed from either side.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
