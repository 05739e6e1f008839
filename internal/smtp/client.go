package smtp

import (
	"context"

	"github.com/shineum/form-relay/internal/email"
)

// DialFunc opens a channel to the relay.
type DialFunc func(ctx context.Context, cfg ConnectionConfig) (LineChannel, error)

// Client delivers envelopes through an authenticated relay. Every Send opens
// its own connection and closes it before returning; nothing is shared
// between calls except the read-only configuration.
type Client struct {
	cfg  ConnectionConfig
	dial DialFunc
}

// Option configures a Client.
type Option func(*Client)

// WithDialFunc replaces the network dialer, typically with an in-memory
// channel in tests.
func WithDialFunc(f DialFunc) Option {
	return func(c *Client) { c.dial = f }
}

// NewClient creates a Client for the relay described by cfg.
func NewClient(cfg ConnectionConfig, opts ...Option) *Client {
	c := &Client{cfg: cfg, dial: dialChannel}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the relay configuration.
func (c *Client) Config() ConnectionConfig {
	return c.cfg
}

// Send builds env and submits it in one attempt. An envelope that fails
// validation returns *email.BuildError before any network I/O. Connection
// failures return *ConnectError and dialogue failures *ProtocolError.
// Cancelling ctx or reaching its deadline aborts the dialogue at the next
// blocked read or write.
func (c *Client) Send(ctx context.Context, env *email.Envelope) (*Transcript, error) {
	msg, err := email.Build(env)
	if err != nil {
		return nil, err
	}

	ch, err := c.dial(ctx, c.cfg)
	if err != nil {
		return nil, err
	}

	return Run(ch, &Session{
		LocalName: c.cfg.localName(),
		Username:  c.cfg.Username,
		Password:  c.cfg.Password,
		From:      env.From,
		To:        env.To,
		Data:      msg.Data(),
	})
}

func dialChannel(ctx context.Context, cfg ConnectionConfig) (LineChannel, error) {
	ch, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return ch, nil
}
