package stream

import (
	"context"
	"time"

	"mjpeghub/internal/metrics"
)

// Mode selects how frames reach concurrent viewers.
type Mode string

const (
	// ModeBroadcast fans every frame out to every viewer (the default).
	ModeBroadcast Mode = "broadcast"

	// ModeShared keeps one shared capacity-1 slot: concurrent viewers
	// contend for frames and each frame goes to exactly one of them.
	ModeShared Mode = "shared"
)

// Config holds the stream-side tunables.
type Config struct {
	// Mode is "broadcast" or "shared".
	Mode string `mapstructure:"mode" json:"mode"`

	// ViewerQueueCap is the per-viewer slot depth in broadcast mode.
	ViewerQueueCap int `mapstructure:"viewer_queue_cap" json:"viewer_queue_cap"`

	// RecvRetryWait is how long a starved viewer waits before retrying a
	// receive after the relay has closed.
	RecvRetryWait time.Duration `mapstructure:"recv_retry_wait" json:"recv_retry_wait"`
}

func DefaultConfig() Config {
	return Config{
		Mode:           string(ModeBroadcast),
		ViewerQueueCap: 1,
		RecvRetryWait:  time.Second,
	}
}

// Source yields frames to a single viewer. Both the shared relay and a
// broadcast viewer queue satisfy it.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// Publisher is the producer-facing API: it encodes raw JPEG buffers and
// hands them off to whichever delivery mode is configured. All methods are
// safe for concurrent use with viewer receives.
type Publisher struct {
	mode  Mode
	relay *Relay
	hub   *Hub
	cfg   Config
	hooks []func(jpeg []byte)
}

func NewPublisher(cfg Config) *Publisher {
	p := &Publisher{
		mode: Mode(cfg.Mode),
		cfg:  cfg,
	}
	switch p.mode {
	case ModeShared:
		p.relay = NewRelay()
	default:
		p.mode = ModeBroadcast
		p.hub = NewHub(cfg.ViewerQueueCap)
	}
	return p
}

// AddHook registers a callback invoked with the raw payload after every
// successful publish. Hooks must not block.
func (p *Publisher) AddHook(fn func(jpeg []byte)) {
	p.hooks = append(p.hooks, fn)
}

// Publish encodes jpeg and delivers it, blocking in shared mode until the
// slot is free. Returns ErrRelayClosed after Close.
func (p *Publisher) Publish(jpeg []byte) error {
	f := EncodeFrame(jpeg)
	var err error
	if p.mode == ModeShared {
		err = p.relay.Publish(f)
	} else {
		err = p.hub.Publish(f)
	}
	if err != nil {
		return err
	}
	p.published(jpeg)
	return nil
}

// TryPublish encodes jpeg and delivers it without waiting. In shared mode an
// occupied slot yields ErrRelayFull; the caller keeps its payload either way.
func (p *Publisher) TryPublish(jpeg []byte) error {
	f := EncodeFrame(jpeg)
	var err error
	if p.mode == ModeShared {
		err = p.relay.TryPublish(f)
	} else {
		err = p.hub.TryPublish(f)
	}
	if err != nil {
		return err
	}
	p.published(jpeg)
	return nil
}

// Backlogged reports whether a published frame is still waiting on a viewer.
// Producers use it to skip a blocking publish in favor of dropping the
// current frame.
func (p *Publisher) Backlogged() bool {
	if p.mode == ModeShared {
		return p.relay.Backlogged()
	}
	return p.hub.Backlogged()
}

// Attach hands the serving layer a frame source for one viewer plus the
// detach func to call when the connection dies. In shared mode every viewer
// shares the relay's single receiving endpoint.
func (p *Publisher) Attach(id string) (Source, func(), error) {
	if p.mode == ModeShared {
		return p.relay, func() {}, nil
	}
	q, err := p.hub.Attach(id)
	if err != nil {
		return nil, nil, err
	}
	return q, func() { p.hub.Detach(id) }, nil
}

// ViewerCount returns the number of attached viewers. Shared mode has no
// registry, so it reports -1 there.
func (p *Publisher) ViewerCount() int {
	if p.mode == ModeShared {
		return -1
	}
	return p.hub.ViewerCount()
}

// Mode returns the configured delivery mode.
func (p *Publisher) Mode() Mode {
	return p.mode
}

// RecvRetryWait returns the starved-viewer retry interval.
func (p *Publisher) RecvRetryWait() time.Duration {
	if p.cfg.RecvRetryWait <= 0 {
		return time.Second
	}
	return p.cfg.RecvRetryWait
}

// Close tears down the delivery side. Blocked publishes and receives return
// ErrRelayClosed; connected viewers stay up, starved, per the keep-trying
// policy.
func (p *Publisher) Close() {
	if p.mode == ModeShared {
		p.relay.Close()
		return
	}
	p.hub.Close()
}

func (p *Publisher) published(jpeg []byte) {
	metrics.FramePublished(float64(len(jpeg)))
	for _, fn := range p.hooks {
		fn(jpeg)
	}
}
