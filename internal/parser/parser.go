// Package parser decodes a received RFC 5322 plain-text message back into an
// envelope, so that what went over the wire can be inspected.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/mail"
	"strings"

	"github.com/shineum/form-relay/internal/email"
)

// Message is a parsed message: the envelope fields recovered from the
// headers and body, plus every header as received.
type Message struct {
	email.Envelope

	Header    mail.Header
	MediaType string
	Charset   string
}

// Parse parses a raw message. Address headers are reduced to their address
// part and the From display name is kept in FromName. Body line endings are
// normalized to LF and the final line terminator is dropped.
func Parse(raw []byte) (*Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &Message{Header: msg.Header}

	if from, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		result.From = from.Address
		result.FromName = from.Name
	} else {
		result.From = strings.TrimSpace(msg.Header.Get("From"))
	}
	result.To = parseAddress(msg.Header.Get("To"))
	result.ReplyTo = parseAddress(msg.Header.Get("Reply-To"))
	result.Subject = msg.Header.Get("Subject")

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		mediaType = "text/plain"
	}
	if mediaType != "text/plain" {
		slog.Warn("unexpected content type",
			"content_type", mediaType,
		)
	}
	result.MediaType = mediaType
	result.Charset = params["charset"]

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	result.Body = strings.TrimSuffix(strings.ReplaceAll(string(body), "\r\n", "\n"), "\n")

	return result, nil
}

// parseAddress returns the address part of a single-address header, or the
// trimmed raw value if it does not parse.
func parseAddress(raw string) string {
	if raw == "" {
		return ""
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return addr.Address
}
