// Package email defines the message envelope handed to the delivery core and
// renders it into a header block and body ready for transmission.
package email

import (
	"fmt"
	"strings"
)

// Envelope is one normalized outbound notification. It is built once per
// inbound request and discarded after a single send attempt.
type Envelope struct {
	// From is the envelope sender and the address in the From header.
	From string

	// FromName is an optional display name rendered in the From header.
	FromName string

	To      string
	ReplyTo string
	Subject string

	// Body is plain UTF-8 text. Line breaks may be LF or CRLF.
	Body string
}

// BuildError reports an envelope field that cannot be transmitted safely.
type BuildError struct {
	Field  string
	Reason string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks that no header-bound field can break out of its header
// line or SMTP command. It performs no I/O.
func (e *Envelope) Validate() error {
	addresses := []struct {
		name, value string
		required    bool
	}{
		{"from", e.From, true},
		{"to", e.To, true},
		{"reply-to", e.ReplyTo, false},
	}
	for _, a := range addresses {
		if err := checkAddress(a.name, a.value, a.required); err != nil {
			return err
		}
	}

	if err := checkHeaderText("from name", e.FromName); err != nil {
		return err
	}
	return checkHeaderText("subject", e.Subject)
}

// ReplyAddress returns the Reply-To address, defaulting to the sender.
func (e *Envelope) ReplyAddress() string {
	if e.ReplyTo != "" {
		return e.ReplyTo
	}
	return e.From
}

// Sender returns the From header value, with the display name when set.
func (e *Envelope) Sender() string {
	if e.FromName != "" {
		return e.FromName + " <" + e.From + ">"
	}
	return e.From
}

func checkAddress(field, value string, required bool) error {
	if value == "" {
		if required {
			return &BuildError{Field: field, Reason: "address is required"}
		}
		return nil
	}
	if err := checkHeaderText(field, value); err != nil {
		return err
	}
	if strings.ContainsAny(value, "<> \t") {
		return &BuildError{Field: field, Reason: "address contains angle brackets or whitespace"}
	}
	return nil
}

func checkHeaderText(field, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return &BuildError{Field: field, Reason: "contains a line break"}
	}
	return nil
}
