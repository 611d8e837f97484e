package stream

import (
	"context"
	"sync"
)

// Relay is the capacity-1 hand-off buffer between the producer and the pool
// of connected viewers. At most one unconsumed frame exists at any time: a
// blocking publish waits for the slot to drain, a non-blocking publish fails
// without displacing the slot's contents.
//
// The receiving endpoint is single and shared: Next serializes all viewers
// behind one mutex, so a published frame is delivered to exactly one
// contending viewer, not broadcast. Viewers therefore see disjoint
// subsequences of the feed. Hub provides true fan-out when every viewer
// should see every frame.
type Relay struct {
	slot chan Frame
	done chan struct{}
	once sync.Once

	// recvMu guards the single receiving endpoint. Holding it across the
	// blocking receive is the point: whichever viewer acquires it next
	// takes the next frame.
	recvMu sync.Mutex
}

func NewRelay() *Relay {
	return &Relay{
		slot: make(chan Frame, 1),
		done: make(chan struct{}),
	}
}

// Publish places f into the slot, blocking until the slot is free.
// Returns ErrRelayClosed once the relay is torn down; the caller keeps its
// payload and may retry elsewhere.
func (r *Relay) Publish(f Frame) error {
	select {
	case <-r.done:
		return ErrRelayClosed
	default:
	}
	select {
	case r.slot <- f:
		return nil
	case <-r.done:
		return ErrRelayClosed
	}
}

// TryPublish attempts the same placement without waiting. ErrRelayFull means
// the previous frame has not been picked up, typically because no viewer is
// connected or the sole viewer is slow.
func (r *Relay) TryPublish(f Frame) error {
	select {
	case <-r.done:
		return ErrRelayClosed
	default:
	}
	select {
	case r.slot <- f:
		return nil
	default:
		return ErrRelayFull
	}
}

// Backlogged reports whether the slot currently holds an unconsumed frame.
func (r *Relay) Backlogged() bool {
	return len(r.slot) > 0
}

// Next blocks until a frame is published, the relay closes, or ctx is
// cancelled. A residual frame still sitting in the slot is drained before
// closure is reported.
func (r *Relay) Next(ctx context.Context) (Frame, error) {
	r.recvMu.Lock()
	defer r.recvMu.Unlock()

	select {
	case f := <-r.slot:
		return f, nil
	default:
	}
	select {
	case f := <-r.slot:
		return f, nil
	case <-r.done:
		// done and slot may become ready together; the slot wins.
		select {
		case f := <-r.slot:
			return f, nil
		default:
		}
		return Frame{}, ErrRelayClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close tears the relay down, unblocking every publisher and receiver.
// Safe to call more than once.
func (r *Relay) Close() {
	r.once.Do(func() {
		close(r.done)
	})
}
