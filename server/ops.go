package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mjpeghub/internal/metrics"
	"mjpeghub/internal/snapshot"
)

// wsWriteTimeout bounds individual websocket frame writes; unlike the raw
// stream sockets, a wedged websocket peer should not pin a goroutine forever
// behind the upgrader's buffers.
const wsWriteTimeout = 10 * time.Second

var opsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// startOps brings up the metrics/health/snapshot/websocket mux on its own
// listener.
func (s *Server) startOps() error {
	ln, err := net.Listen("tcp", s.cfg.Server.OpsAddr)
	if err != nil {
		return fmt.Errorf("failed to bind ops address %s: %w", s.cfg.Server.OpsAddr, err)
	}
	s.opsLn = ln

	metrics.Default()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.opsServer = &http.Server{Handler: mux}

	go func() {
		if err := s.opsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server error", "error", err)
		}
	}()

	slog.Info("ops server started", "addr", ln.Addr().String())
	return nil
}

// OpsAddr returns the bound ops address, or "" when disabled.
func (s *Server) OpsAddr() string {
	if s.opsLn == nil {
		return ""
	}
	return s.opsLn.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	response := map[string]interface{}{
		"status":  "ok",
		"version": s.cfg.Version,
		"viewers": s.pub.ViewerCount(),
		"time":    time.Now().Format(time.RFC3339),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to write health check response", "error", err)
	}
}

// handleSnapshot serves the most recent frame from the snapshot store.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		http.Error(w, "snapshot store disabled", http.StatusNotFound)
		return
	}

	data, err := s.snapshots.Latest(r.Context())
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		http.Error(w, "no snapshot available", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Warn("snapshot read failed", "error", err)
		metrics.RecordError()
		http.Error(w, "snapshot store unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	if _, err := w.Write(data); err != nil {
		slog.Debug("snapshot write failed", "error", err)
	}
}

// handleWebSocket attaches a websocket viewer: every frame body goes out as
// one binary message. Dashboards that render to a canvas use this instead of
// the multipart stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := opsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err, "remoteAddr", r.RemoteAddr)
		metrics.RecordError()
		return
	}

	id := "ws-" + r.RemoteAddr
	src, detach, err := s.pub.Attach(id)
	if err != nil {
		slog.Warn("websocket attach failed", "error", err)
		_ = conn.Close()
		return
	}

	metrics.ViewerConnected()
	slog.Info("websocket viewer connected", "id", id)

	ctx, cancel := context.WithCancel(s.ctx)

	// The peer never sends meaningful data, but reading is required for the
	// close handshake to be processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	retryWait := s.cfg.Server.Stream.RecvRetryWait
	if retryWait <= 0 {
		retryWait = time.Second
	}

	go func() {
		defer func() {
			cancel()
			detach()
			_ = conn.Close()
			metrics.ViewerDisconnected()
			slog.Info("websocket viewer disconnected", "id", id)
		}()
		for {
			f, err := src.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("websocket frame receive failed, retrying", "id", id, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(retryWait):
				}
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, f.Body); err != nil {
				slog.Info("websocket write failed", "id", id, "error", err)
				return
			}
			metrics.FrameWritten(float64(len(f.Body)))
		}
	}()
}
