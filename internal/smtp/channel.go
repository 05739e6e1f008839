package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strings"
	"time"
)

// LineChannel is a synchronous, line-oriented connection to a relay.
type LineChannel interface {
	// ReadLine returns the next reply line without its CRLF.
	ReadLine() (string, error)

	// WriteLine sends text followed by CRLF and flushes it.
	WriteLine(text string) error

	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// MaxReplyLine is the longest reply line, CRLF included, that ReadLine
// accepts before failing with ErrLineTooLong.
const MaxReplyLine = 512

// Channel is a LineChannel over a TCP or TLS socket. Reads and writes are
// bounded by the per-operation timeout and by the deadline of the context
// the channel was dialed with; cancelling that context interrupts them.
type Channel struct {
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	ioTimeout time.Duration
	ctx       context.Context
	stop      func() bool
	closed    bool
}

// Dial opens a connection to the relay described by cfg, performing the
// TLS handshake first when ImplicitTLS is set. Connect and handshake are
// bounded by cfg.ConnectTimeout; failures are returned as *ConnectError.
func Dial(ctx context.Context, cfg ConnectionConfig) (*Channel, error) {
	addr := cfg.Addr()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.connectTimeout())
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Kind: dialErrorKind(err), Addr: addr, Err: err}
	}

	if cfg.ImplicitTLS {
		tlsConn := tls.Client(conn, cfg.tlsConfig())
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			conn.Close()
			kind := TLSHandshakeFailure
			if isTimeout(err) {
				kind = Timeout
			}
			return nil, &ConnectError{Kind: kind, Addr: addr, Err: err}
		}
		conn = tlsConn
	}

	ch := NewChannel(conn, cfg.IOTimeout)
	ch.ctx = ctx
	ch.stop = context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	return ch, nil
}

// NewChannel wraps an established connection. A zero ioTimeout leaves reads
// and writes without a deadline.
func NewChannel(conn net.Conn, ioTimeout time.Duration) *Channel {
	return &Channel{
		conn:      conn,
		reader:    bufio.NewReaderSize(conn, MaxReplyLine),
		writer:    bufio.NewWriter(conn),
		ioTimeout: ioTimeout,
		ctx:       context.Background(),
	}
}

// ReadLine reads one reply line. Failures are returned as *IOError wrapping
// ErrTimeout, ErrConnectionClosed, ErrLineTooLong or the context error.
func (c *Channel) ReadLine() (string, error) {
	if c.closed {
		return "", &IOError{Op: "read", Err: ErrConnectionClosed}
	}

	if err := c.arm(c.conn.SetReadDeadline); err != nil {
		return "", &IOError{Op: "read", Err: err}
	}

	line, err := c.reader.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return "", &IOError{Op: "read", Err: ErrLineTooLong}
	}
	if err != nil {
		return "", &IOError{Op: "read", Err: c.cause(err)}
	}

	return strings.TrimRight(string(line), "\r\n"), nil
}

// arm sets the next operation's deadline, the earlier of the I/O timeout
// and the context deadline. The context is checked after the deadline is
// set so a concurrent cancellation cannot be overwritten.
func (c *Channel) arm(set func(time.Time) error) error {
	var d time.Time
	if c.ioTimeout > 0 {
		d = time.Now().Add(c.ioTimeout)
	}
	if cd, ok := c.ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	if err := set(d); err != nil {
		return c.cause(err)
	}
	return c.ctx.Err()
}

func (c *Channel) cause(err error) error {
	if ctxErr := c.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return ioCause(err)
}

// WriteLine writes text and CRLF, flushing before it returns.
func (c *Channel) WriteLine(text string) error {
	if c.closed {
		return &IOError{Op: "write", Err: ErrConnectionClosed}
	}

	if err := c.arm(c.conn.SetWriteDeadline); err != nil {
		return &IOError{Op: "write", Err: err}
	}

	if _, err := c.writer.WriteString(text + "\r\n"); err != nil {
		return &IOError{Op: "write", Err: c.cause(err)}
	}
	if err := c.writer.Flush(); err != nil {
		return &IOError{Op: "write", Err: c.cause(err)}
	}
	return nil
}

// Close closes the underlying connection once.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.stop != nil {
		c.stop()
	}
	return c.conn.Close()
}
