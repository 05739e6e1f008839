// Package stdout implements a Provider that prints envelopes to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/form-relay/internal/email"
)

// Provider prints envelopes in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the envelope. It fails only when the writer fails.
func (p *Provider) Send(_ context.Context, env *email.Envelope) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("From: %s\n", env.From))
	if env.ReplyTo != "" {
		b.WriteString(fmt.Sprintf("Reply-To: %s\n", env.ReplyTo))
	}
	b.WriteString(fmt.Sprintf("To: %s\n", env.To))
	b.WriteString(fmt.Sprintf("Subject: %s\n", env.Subject))
	b.WriteString("Body:\n")
	b.WriteString(env.Body + "\n")
	b.WriteString(fmt.Sprintf("Size: %s\n", formatSize(len(env.Body))))
	b.WriteString("========================================\n")

	if _, err := fmt.Fprint(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
