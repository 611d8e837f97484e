// Package source ingests the video feed from an external transport. The
// process still serves exactly one logical feed; the source only changes
// where its JPEG buffers come from.
package source

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"mjpeghub/internal/metrics"
	"mjpeghub/internal/stream"
)

// Config holds the NATS ingest options.
type Config struct {
	// Connection addresses, e.g. nats://localhost:4222
	URLs []string `mapstructure:"urls" json:"urls"`

	// Subject carrying raw JPEG payloads, one frame per message
	Subject string `mapstructure:"subject" json:"subject"`

	// Connection name, identifies this client on the server
	Name string `mapstructure:"name" json:"name"`

	// Reconnect wait between attempts
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" json:"reconnect_wait"`

	// Maximum reconnects, -1 for unlimited
	MaxReconnects int `mapstructure:"max_reconnects" json:"max_reconnects"`

	// Connect timeout
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
}

func DefaultConfig() Config {
	return Config{
		URLs:           []string{nats.DefaultURL},
		Subject:        "mjpeghub.frames",
		Name:           "mjpeghub-source",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// NATS subscribes to a single subject and feeds each message through the
// publisher as one frame.
type NATS struct {
	conn *nats.Conn
	sub  *nats.Subscription
	cfg  Config
	mu   sync.Mutex
}

// New connects to the NATS server.
func New(cfg Config) (*NATS, error) {
	if cfg.Subject == "" {
		return nil, errors.New("source subject cannot be empty")
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("source disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("source reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info("source connection closed")
		}),
	}

	serverURL := nats.DefaultURL
	if len(cfg.URLs) > 0 {
		serverURL = strings.Join(cfg.URLs, ",")
	}

	nc, err := nats.Connect(serverURL, opts...)
	if err != nil {
		return nil, err
	}

	return &NATS{conn: nc, cfg: cfg}, nil
}

// Run subscribes and pumps frames into pub until ctx is cancelled. Frames
// arriving while the publisher is backlogged are dropped, live-video style.
func (n *NATS) Run(ctx context.Context, pub *stream.Publisher) error {
	sub, err := n.conn.Subscribe(n.cfg.Subject, func(msg *nats.Msg) {
		metrics.SourceFrame()
		switch err := pub.TryPublish(msg.Data); {
		case err == nil:
		case errors.Is(err, stream.ErrRelayFull):
			metrics.FrameDropped()
			slog.Debug("source frame dropped, publisher backlogged")
		case errors.Is(err, stream.ErrRelayClosed):
			slog.Warn("source frame discarded, publisher closed")
		}
	})
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.sub = sub
	n.mu.Unlock()

	slog.Info("source subscribed", "subject", n.cfg.Subject)
	<-ctx.Done()
	return nil
}

// Close drains the subscription and closes the connection.
func (n *NATS) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sub != nil {
		if err := n.sub.Drain(); err != nil {
			slog.Debug("source drain", "error", err)
		}
		n.sub = nil
	}
	if n.conn != nil {
		n.conn.Close()
	}
}
