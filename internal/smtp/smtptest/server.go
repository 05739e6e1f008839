// Package smtptest provides a loopback SMTP relay for tests. It either
// answers with a fixed script of reply lines or behaves as a small
// conforming submission server with AUTH LOGIN, and records what it received.
package smtptest

import (
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/shineum/form-relay/internal/parser"
)

// Options configures a Server.
type Options struct {
	// TLSConfig enables implicit TLS on the listener.
	TLSConfig *tls.Config

	// Hostname is used in the greeting. Defaults to "relay.test".
	Hostname string

	// Username and Password are required for AUTH LOGIN. When both are
	// empty any credentials are accepted.
	Username string
	Password string

	// Script replaces protocol handling: the first line is sent as the
	// greeting and each following line answers the next command. A DATA
	// payload is consumed after a 354 reply. After the script runs out,
	// QUIT is answered with 221 and anything else with 500.
	Script []string

	// MultilineEHLO answers EHLO with continuation lines.
	MultilineEHLO bool

	// Stall accepts connections but never writes.
	Stall bool
}

// closeGrace is how long Close lets open sessions drain buffered input.
const closeGrace = 2 * time.Second

// Server is a loopback relay. It is safe for concurrent use.
type Server struct {
	opts     Options
	auth     *authenticator
	listener net.Listener

	mu       sync.Mutex
	commands []string
	raw      []string
	messages []*parser.Message
	conns    map[net.Conn]struct{}
	closed   bool

	// wg tracks in-flight session goroutines.
	wg sync.WaitGroup
}

// Start listens on 127.0.0.1 on a random port and serves until Close.
func Start(opts Options) (*Server, error) {
	if opts.Hostname == "" {
		opts.Hostname = "relay.test"
	}

	var (
		ln  net.Listener
		err error
	)
	if opts.TLSConfig != nil {
		ln, err = tls.Listen("tcp", "127.0.0.1:0", opts.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		auth:     &authenticator{username: opts.Username, password: opts.Password},
		listener: ln,
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.serve()

	return s, nil
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		if !s.track(conn) {
			conn.Close()
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			newSession(conn, s).handle()
		}()
	}
}

// Close stops the listener and waits for open sessions. Sessions still
// blocked on input after a short grace period are cut off. Close may be
// called more than once.
func (s *Server) Close() error {
	err := s.listener.Close()

	s.mu.Lock()
	s.closed = true
	deadline := time.Now().Add(closeGrace)
	for conn := range s.conns {
		conn.SetReadDeadline(deadline)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Host returns the listener IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Commands returns every command line received, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// RawMessages returns the DATA payloads received, lines joined with CRLF.
func (s *Server) RawMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.raw...)
}

// Messages returns the DATA payloads that parsed as messages.
func (s *Server) Messages() []*parser.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*parser.Message(nil), s.messages...)
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) recordCommand(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, line)
}

func (s *Server) recordMessage(raw string, msg *parser.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, raw)
	if msg != nil {
		s.messages = append(s.messages, msg)
	}
}
