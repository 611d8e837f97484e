// Package server binds the stream listener and wires the publisher, the
// optional frame source and the ops HTTP surface together.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"mjpeghub/configs"
	"mjpeghub/internal/metrics"
	"mjpeghub/internal/snapshot"
	"mjpeghub/internal/source"
	"mjpeghub/internal/stream"
	"mjpeghub/internal/utils"
)

// acceptBackoff is the pause after a failed accept, so a persistent error
// condition does not spin the loop.
const acceptBackoff = 100 * time.Millisecond

type Server struct {
	cfg *configs.Config
	pub *stream.Publisher

	ln        net.Listener
	opsLn     net.Listener
	opsServer *http.Server

	snapshots *snapshot.Store
	frameSrc  *source.NATS

	ctx    context.Context
	cancel context.CancelFunc
	closed sync.Once
}

// New builds a server around a fresh publisher. Nothing is bound yet;
// Listen/Serve do that.
func New(cfg *configs.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:    cfg,
		pub:    stream.NewPublisher(cfg.Server.Stream),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Snapshot.Enabled {
		store, err := snapshot.New(cfg.Snapshot.Redis)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create snapshot store: %w", err)
		}
		s.snapshots = store
		s.pub.AddHook(store.Update)
		go store.Run(ctx)
	}

	if cfg.Source.Enabled {
		if err := s.startSource(); err != nil {
			if s.snapshots != nil {
				_ = s.snapshots.Close()
			}
			cancel()
			return nil, err
		}
	}

	return s, nil
}

// Publisher exposes the producer API to the host process.
func (s *Server) Publisher() *stream.Publisher {
	return s.pub
}

// Listen binds the stream listener. A bind failure is fatal and returned.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Server.Addr, err)
	}
	s.ln = ln
	slog.Info("stream listener bound", "addr", ln.Addr().String(), "mode", s.pub.Mode())
	return nil
}

// Addr returns the bound stream address, or "" before Listen.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve accepts connections forever, one goroutine per viewer. It binds
// first if Listen has not been called. A failed accept is logged and
// skipped; only closing the listener ends the loop.
func (s *Server) Serve() error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	if s.cfg.Server.OpsAddr != "" {
		if err := s.startOps(); err != nil {
			return err
		}
	}

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("accept failed", "error", err)
			metrics.RecordError()
			select {
			case <-s.ctx.Done():
				return nil
			case <-time.After(acceptBackoff):
			}
			continue
		}
		s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	id := uuid.New().String()
	src, detach, err := s.pub.Attach(id)
	if err != nil {
		slog.Warn("viewer attach failed", "error", err, "remoteAddr", conn.RemoteAddr())
		_ = conn.Close()
		return
	}

	metrics.ViewerConnected()
	slog.Info("viewer connected", "id", id, "remoteAddr", conn.RemoteAddr())

	v := stream.NewViewer(id, conn, src, detach, s.cfg.Server.Stream.RecvRetryWait)
	go v.Run(s.ctx)
}

// startSource connects the NATS ingest, retrying the initial connect with
// backoff; reconnects after that are handled by the client itself.
func (s *Server) startSource() error {
	var src *source.NATS
	err := utils.RetryWithBackoff(s.ctx, "source connect", 5, time.Second, 30*time.Second, func() error {
		var err error
		src, err = source.New(s.cfg.Source.NATS)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to connect frame source: %w", err)
	}

	s.frameSrc = src
	go func() {
		if err := src.Run(s.ctx, s.pub); err != nil {
			slog.Error("frame source stopped", "error", err)
			metrics.RecordError()
		}
	}()
	return nil
}

// Shutdown stops accepting, tears the publisher down and closes the
// supplementary surfaces. Connected viewers exit with their sockets.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.closed.Do(func() {
		slog.Info("shutting down")
		s.cancel()

		if s.ln != nil {
			_ = s.ln.Close()
		}
		if s.frameSrc != nil {
			s.frameSrc.Close()
		}
		s.pub.Close()

		if s.opsServer != nil {
			err = s.opsServer.Shutdown(ctx)
		}
		if s.snapshots != nil {
			if cerr := s.snapshots.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
