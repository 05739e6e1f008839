// Package sendmail implements a Provider that hands envelopes to the local
// mail transfer agent through a sendmail-compatible binary.
package sendmail

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/shineum/form-relay/internal/email"
)

// DefaultPath is the conventional location of the sendmail binary.
const DefaultPath = "/usr/sbin/sendmail"

// Provider pipes a rendered message into sendmail. Recipients are read from
// the message headers (-t) and a lone "." in the body does not end input (-i).
type Provider struct {
	path string
}

// New creates a Provider that runs the binary at path, or DefaultPath when
// path is empty.
func New(path string) *Provider {
	if path == "" {
		path = DefaultPath
	}
	return &Provider{path: path}
}

// Send renders the envelope with LF line endings and writes it to the
// standard input of a single sendmail invocation.
func (p *Provider) Send(ctx context.Context, env *email.Envelope) error {
	msg, err := email.Build(env)
	if err != nil {
		return err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.path, "-t", "-i")
	cmd.Stdin = strings.NewReader(msg.Render("\n") + "\n")
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return fmt.Errorf("sendmail %s: %w: %s", p.path, err, detail)
		}
		return fmt.Errorf("sendmail %s: %w", p.path, err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "sendmail"
}
