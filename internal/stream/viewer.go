package stream

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"mjpeghub/internal/metrics"
)

// Viewer drives one accepted TCP connection: it writes the HTTP preamble
// once, then pulls frames from its source and serializes them onto the
// socket until the socket breaks.
type Viewer struct {
	id     string
	conn   net.Conn
	src    Source
	detach func()
	wait   time.Duration
	closed sync.Once
}

func NewViewer(id string, conn net.Conn, src Source, detach func(), recvRetryWait time.Duration) *Viewer {
	if recvRetryWait <= 0 {
		recvRetryWait = time.Second
	}
	return &Viewer{
		id:     id,
		conn:   conn,
		src:    src,
		detach: detach,
		wait:   recvRetryWait,
	}
}

// Run blocks until the connection fails or ctx is cancelled. A closed relay
// does not end the connection: the viewer logs, waits and retries, so the
// stream side stays alive even while starved. Only a socket write failure is
// terminal.
func (v *Viewer) Run(ctx context.Context) {
	defer v.shutdown()

	if _, err := v.conn.Write([]byte(Preamble)); err != nil {
		slog.Info("handshake write failed", "viewer", v.id, "error", err)
		metrics.RecordError()
		return
	}

	for {
		f, err := v.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("frame receive failed, retrying", "viewer", v.id, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(v.wait):
			}
			continue
		}

		if err := v.write(f); err != nil {
			// The socket is presumed broken; no retry.
			slog.Info("viewer write failed", "viewer", v.id, "error", err)
			return
		}
		metrics.FrameWritten(float64(len(f.Body)))
	}
}

func (v *Viewer) write(f Frame) error {
	if _, err := v.conn.Write(f.Header); err != nil {
		return err
	}
	_, err := v.conn.Write(f.Body)
	return err
}

// ID returns the viewer's identifier.
func (v *Viewer) ID() string {
	return v.id
}

func (v *Viewer) shutdown() {
	v.closed.Do(func() {
		if v.detach != nil {
			v.detach()
		}
		if err := v.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("viewer close", "viewer", v.id, "error", err)
		}
		metrics.ViewerDisconnected()
		slog.Info("viewer disconnected", "id", v.id)
	})
}
