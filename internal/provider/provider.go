// Package provider defines the fallback transports used when the relay path
// is disabled or fails.
package provider

import (
	"context"

	"github.com/shineum/form-relay/internal/email"
)

// Provider submits an envelope through a transport other than the relay.
// Each provider is called at most once per envelope and must not retry.
type Provider interface {
	// Send submits the envelope. A nil error means the transport accepted it.
	Send(ctx context.Context, env *email.Envelope) error

	// Name returns the human-readable name of this provider.
	Name() string
}
