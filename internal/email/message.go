package email

import (
	"strings"
)

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Message is a rendered envelope: an ordered header block and the body split
// into lines.
type Message struct {
	Header []Field
	Lines  []string
}

// Build validates env and renders its header block and body. The body is
// not dot-stuffed: a body line consisting of a single "." ends the DATA
// payload early when transmitted over SMTP.
func Build(env *Envelope) (*Message, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	return &Message{
		Header: []Field{
			{"From", env.Sender()},
			{"Reply-To", env.ReplyAddress()},
			{"To", env.To},
			{"Subject", env.Subject},
			{"MIME-Version", "1.0"},
			{"Content-Type", "text/plain; charset=UTF-8"},
			{"Content-Transfer-Encoding", "8bit"},
		},
		Lines: splitLines(env.Body),
	}, nil
}

// Render joins the header block, a blank line and the body using eol as the
// line terminator. No terminator follows the last body line.
func (m *Message) Render(eol string) string {
	var b strings.Builder
	for _, f := range m.Header {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString(eol)
	}
	b.WriteString(eol)
	b.WriteString(strings.Join(m.Lines, eol))
	return b.String()
}

// Data returns the SMTP DATA payload: the CRLF rendering followed by CRLF
// and a lone ".". The caller appends the final CRLF when writing the line.
func (m *Message) Data() string {
	return m.Render("\r\n") + "\r\n."
}

// splitLines normalizes CRLF and bare CR to LF and splits on LF.
func splitLines(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	return strings.Split(body, "\n")
}
