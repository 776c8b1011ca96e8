package events

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	pgerrors "github.com/vinayprograms/procguard/errors"
)

// NATSPublisher publishes events to a NATS server.
type NATSPublisher struct {
	conn   *nats.Conn
	config NATSConfig
	owned  bool
}

var _ Publisher = (*NATSPublisher)(nil)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string `toml:"url" yaml:"url"`

	// Name is the client name for identification.
	Name string `toml:"name" yaml:"name"`

	// Token for token-based auth.
	Token string `toml:"token" yaml:"token"`

	// User and Password for basic auth.
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration `toml:"reconnect_wait" yaml:"reconnect_wait"`

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int `toml:"max_reconnects" yaml:"max_reconnects"`

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration `toml:"connect_timeout" yaml:"connect_timeout"`

	// FlushTimeout bounds Close's final flush so buffered events are sent
	// before the host exits.
	FlushTimeout time.Duration `toml:"flush_timeout" yaml:"flush_timeout"`
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "procguard",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // Unlimited
		ConnectTimeout: 5 * time.Second,
		FlushTimeout:   time.Second,
	}
}

// Validate checks the configuration.
func (c NATSConfig) Validate() error {
	if c.ConnectTimeout < 0 || c.ReconnectWait < 0 || c.FlushTimeout < 0 {
		return pgerrors.InvalidConfig("nats timeouts must not be negative")
	}
	return nil
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, pgerrors.Wrap(err, "nats connect")
	}

	return &NATSPublisher{conn: conn, config: cfg, owned: true}, nil
}

// NewNATSPublisherFromConn wraps an existing connection. Close does not
// close conn.
func NewNATSPublisherFromConn(conn *nats.Conn, cfg NATSConfig) *NATSPublisher {
	return &NATSPublisher{conn: conn, config: cfg}
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

// Publish sends e on its subject.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if p.conn.IsClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return pgerrors.Wrap(err, "publish")
	}

	data, err := e.Encode()
	if err != nil {
		return pgerrors.Wrap(err, "encoding event")
	}
	if err := p.conn.Publish(e.Subject(), data); err != nil {
		return pgerrors.Wrap(err, "nats publish")
	}
	return nil
}

// Flush waits until the server has processed every published event,
// bounded by ctx or, without a deadline, by FlushTimeout.
func (p *NATSPublisher) Flush(ctx context.Context) error {
	if p.conn.IsClosed() {
		return ErrClosed
	}
	if _, ok := ctx.Deadline(); !ok {
		if p.config.FlushTimeout <= 0 {
			if err := p.conn.Flush(); err != nil {
				return pgerrors.Wrap(err, "nats flush")
			}
			return nil
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.FlushTimeout)
		defer cancel()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return pgerrors.Wrap(err, "nats flush")
	}
	return nil
}

// Close flushes pending events and closes the connection if this
// publisher opened it.
func (p *NATSPublisher) Close() error {
	if p.conn.IsClosed() {
		return nil
	}
	var err error
	if p.config.FlushTimeout > 0 {
		err = p.conn.FlushTimeout(p.config.FlushTimeout)
	}
	if p.owned {
		p.conn.Close()
	}
	if err != nil {
		return pgerrors.Wrap(err, "nats flush")
	}
	return nil
}
