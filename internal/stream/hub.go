package stream

import (
	"context"
	"log/slog"
	"sync"

	"mjpeghub/internal/metrics"
)

// Hub fans the feed out to every attached viewer. Each viewer owns a private
// bounded slot; publishing is a non-blocking send to every slot, dropping on
// a full one rather than blocking or displacing. A slow viewer loses frames,
// it never stalls the producer or its peers.
type Hub struct {
	viewers  sync.Map // key=id, value=*ViewerQueue
	done     chan struct{}
	once     sync.Once
	queueCap int
}

// ViewerQueue is one viewer's private delivery slot.
type ViewerQueue struct {
	id   string
	slot chan Frame
	hub  *Hub
}

func NewHub(queueCap int) *Hub {
	if queueCap < 1 {
		queueCap = 1
	}
	return &Hub{
		done:     make(chan struct{}),
		queueCap: queueCap,
	}
}

// Attach registers a viewer and hands back its queue.
func (h *Hub) Attach(id string) (*ViewerQueue, error) {
	select {
	case <-h.done:
		return nil, ErrRelayClosed
	default:
	}

	q := &ViewerQueue{
		id:   id,
		slot: make(chan Frame, h.queueCap),
		hub:  h,
	}
	if _, loaded := h.viewers.LoadOrStore(id, q); loaded {
		return nil, ErrViewerExists
	}
	slog.Debug("viewer attached", "id", id, "total", h.ViewerCount())
	return q, nil
}

// Detach removes a viewer; frames published afterwards no longer reach it.
func (h *Hub) Detach(id string) {
	if _, loaded := h.viewers.LoadAndDelete(id); loaded {
		slog.Debug("viewer detached", "id", id, "remaining", h.ViewerCount())
	}
}

// Publish delivers f to every attached viewer, dropping for viewers whose
// slot is still occupied. Never blocks.
func (h *Hub) Publish(f Frame) error {
	select {
	case <-h.done:
		return ErrRelayClosed
	default:
	}

	h.viewers.Range(func(_, v interface{}) bool {
		q := v.(*ViewerQueue)
		select {
		case q.slot <- f:
		default:
			// Viewer still holds an unread frame. Stale video is worthless,
			// so the new frame wins nothing by waiting.
			metrics.FrameDropped()
		}
		return true
	})
	return nil
}

// TryPublish is identical to Publish: fan-out delivery is per-viewer
// best-effort and never reports a global full condition.
func (h *Hub) TryPublish(f Frame) error {
	return h.Publish(f)
}

// Backlogged reports whether any attached viewer holds an unread frame.
func (h *Hub) Backlogged() bool {
	backlogged := false
	h.viewers.Range(func(_, v interface{}) bool {
		if len(v.(*ViewerQueue).slot) > 0 {
			backlogged = true
			return false
		}
		return true
	})
	return backlogged
}

// ViewerCount returns the number of currently attached viewers.
func (h *Hub) ViewerCount() int {
	count := 0
	h.viewers.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// Close shuts the hub down, unblocking every waiting viewer.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)
	})
}

// Next blocks until a frame is delivered to this viewer, the hub closes, or
// ctx is cancelled. A frame already sitting in the slot is drained before
// closure is reported.
func (q *ViewerQueue) Next(ctx context.Context) (Frame, error) {
	select {
	case f := <-q.slot:
		return f, nil
	default:
	}
	select {
	case f := <-q.slot:
		return f, nil
	case <-q.hub.done:
		// done and slot may become ready together; the slot wins.
		select {
		case f := <-q.slot:
			return f, nil
		default:
		}
		return Frame{}, ErrRelayClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}
