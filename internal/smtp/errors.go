package smtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrTimeout is wrapped by an IOError when a read or write deadline passes.
	ErrTimeout = errors.New("timeout")

	// ErrConnectionClosed is wrapped by an IOError when the peer or the
	// client has closed the connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrLineTooLong is wrapped by an IOError when a reply line exceeds
	// MaxReplyLine.
	ErrLineTooLong = errors.New("reply line too long")
)

// ConnectErrorKind classifies why a connection could not be opened.
type ConnectErrorKind int

const (
	Unreachable ConnectErrorKind = iota
	DNSFailure
	Timeout
	Refused
	TLSHandshakeFailure
)

func (k ConnectErrorKind) String() string {
	switch k {
	case DNSFailure:
		return "dns failure"
	case Timeout:
		return "timeout"
	case Refused:
		return "connection refused"
	case TLSHandshakeFailure:
		return "tls handshake failure"
	default:
		return "unreachable"
	}
}

// ConnectError is returned by Dial.
type ConnectError struct {
	Kind ConnectErrorKind
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("smtp: connect %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IOError reports a failed read or write on an open channel.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("smtp: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ProtocolError aborts an attempt at the stage whose reply did not carry an
// expected code, or whose command or reply could not be transferred.
type ProtocolError struct {
	Stage    Stage
	Expected []string
	Received string

	// Err is set when the exchange failed at the I/O level.
	Err error
}

func (e *ProtocolError) Error() string {
	expected := strings.Join(e.Expected, "/")
	if e.Err != nil {
		return fmt.Sprintf("smtp: stage %s: expected %s: %v", e.Stage, expected, e.Err)
	}
	return fmt.Sprintf("smtp: stage %s: expected %s, got %q", e.Stage, expected, e.Received)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func dialErrorKind(err error) ConnectErrorKind {
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		return DNSFailure
	case isTimeout(err):
		return Timeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return Refused
	default:
		return Unreachable
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ioCause maps a transport error onto ErrTimeout or ErrConnectionClosed,
// keeping the original error in the chain.
func ioCause(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
}
