package stream

import "errors"

var (
	// ErrRelayFull signals backpressure, not failure: the previous frame has
	// not been picked up yet. Live video prefers dropping over buffering.
	ErrRelayFull = errors.New("relay slot occupied")

	// ErrRelayClosed means the relay will never deliver again.
	ErrRelayClosed = errors.New("relay closed")

	// ErrViewerExists is returned when attaching a viewer ID twice.
	ErrViewerExists = errors.New("viewer already attached")
)
