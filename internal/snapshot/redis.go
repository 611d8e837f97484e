// Package snapshot keeps the most recent frame available outside the live
// stream, backed by Redis. The publish path only swaps an in-process
// pointer; a background flusher ships the latest frame to Redis at a fixed
// interval so a slow store can never stall the producer.
package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"mjpeghub/internal/metrics"
)

// ErrNoSnapshot means no frame has been stored yet, or the key expired.
var ErrNoSnapshot = errors.New("no snapshot available")

// Config holds the Redis connection and keying options.
type Config struct {
	// Connection address, e.g. localhost:6379
	Addr string `mapstructure:"addr" json:"addr"`

	// Password, if the server requires one
	Password string `mapstructure:"password" json:"password"`

	// Database number
	DB int `mapstructure:"db" json:"db"`

	// Key the latest frame is stored under
	Key string `mapstructure:"key" json:"key"`

	// TTL for the stored frame; 0 keeps it forever
	TTL time.Duration `mapstructure:"ttl" json:"ttl"`

	// FlushInterval is how often the latest frame is shipped to Redis
	FlushInterval time.Duration `mapstructure:"flush_interval" json:"flush_interval"`

	// OpTimeout bounds individual store operations
	OpTimeout time.Duration `mapstructure:"op_timeout" json:"op_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		Key:           "mjpeghub:snapshot",
		TTL:           30 * time.Second,
		FlushInterval: time.Second,
		OpTimeout:     500 * time.Millisecond,
	}
}

// Store is the latest-frame snapshot store.
type Store struct {
	client *redis.Client
	cfg    Config
	latest atomic.Pointer[[]byte]
	dirty  atomic.Bool
	mu     sync.Mutex
	closed bool
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	slog.Info("snapshot store connected", "addr", cfg.Addr, "key", cfg.Key)
	return &Store{client: client, cfg: cfg}, nil
}

// Update records jpeg as the newest frame. Non-blocking; intended as a
// publisher hook.
func (s *Store) Update(jpeg []byte) {
	s.latest.Store(&jpeg)
	s.dirty.Store(true)
}

// Run flushes the latest frame to Redis every FlushInterval until ctx is
// cancelled. Flush errors are logged and the loop keeps going.
func (s *Store) Run(ctx context.Context) {
	interval := s.cfg.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.dirty.Swap(false) {
				continue
			}
			if err := s.flush(ctx); err != nil {
				slog.Warn("snapshot flush failed", "error", err)
				metrics.RecordError()
			}
		}
	}
}

func (s *Store) flush(ctx context.Context) error {
	p := s.latest.Load()
	if p == nil {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	if err := s.client.Set(opCtx, s.cfg.Key, *p, s.cfg.TTL).Err(); err != nil {
		return err
	}
	metrics.SnapshotWritten()
	return nil
}

// Latest returns the most recently flushed frame.
func (s *Store) Latest(ctx context.Context) ([]byte, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	data, err := s.client.Get(opCtx, s.cfg.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
