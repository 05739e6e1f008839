package smtptest

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/shineum/form-relay/internal/parser"
)

// Session states of the conforming relay.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// session is one client connection.
type session struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	server *Server
	state  int
}

func newSession(conn net.Conn, server *Server) *session {
	return &session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		server: server,
		state:  stateConnected,
	}
}

func (s *session) handle() {
	defer s.conn.Close()

	switch {
	case s.server.opts.Stall:
		io.Copy(io.Discard, s.conn)
	case s.server.opts.Script != nil:
		s.runScript()
	default:
		s.runProtocol()
	}
}

// runScript answers commands with the scripted lines, regardless of content.
func (s *session) runScript() {
	script := s.server.opts.Script
	if len(script) == 0 {
		return
	}
	s.writeLine("%s", script[0])

	awaitData := false
	for _, reply := range script[1:] {
		var line string
		if awaitData {
			if !s.readData() {
				return
			}
			awaitData = false
		} else {
			var err error
			if line, err = s.readCommand(); err != nil {
				return
			}
		}

		s.writeLine("%s", reply)

		if strings.EqualFold(line, "DATA") && strings.HasPrefix(reply, "354") {
			awaitData = true
		}
	}

	for {
		line, err := s.readCommand()
		if err != nil {
			return
		}
		if strings.EqualFold(line, "QUIT") {
			s.writeLine("221 Bye")
			return
		}
		s.writeLine("500 Unrecognized command")
	}
}

// runProtocol behaves as a minimal submission server.
func (s *session) runProtocol() {
	s.writeLine("220 %s ESMTP smtptest", s.server.opts.Hostname)

	for {
		line, err := s.readCommand()
		if err != nil {
			return
		}
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(cmd, arg); done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *session) handleCommand(cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		s.handleDATA()
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.state = stateGreeted
	if cmd == "HELO" || !s.server.opts.MultilineEHLO {
		s.writeLine("250 %s Hello %s", s.server.opts.Hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.server.opts.Hostname, arg)
	s.writeLine("250-AUTH LOGIN")
	s.writeLine("250 OK")
}

// handleAUTH supports the LOGIN mechanism only.
func (s *session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !strings.EqualFold(strings.TrimSpace(arg), "LOGIN") {
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	s.writeLine("334 VXNlcm5hbWU6")
	encodedUser, err := s.readCommand()
	if err != nil {
		return
	}
	if encodedUser == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}

	s.writeLine("334 UGFzc3dvcmQ6")
	encodedPass, err := s.readCommand()
	if err != nil {
		return
	}
	if encodedPass == "*" {
		s.writeLine("501 Authentication cancelled")
		return
	}

	if s.server.auth.enabled() {
		if err := s.server.auth.verifyLogin(encodedUser, encodedPass); err != nil {
			s.writeLine("535 Authentication failed")
			return
		}
	}

	s.state = stateAuthOK
	s.writeLine("235 Authentication successful")
}

func (s *session) handleMAIL(arg string) {
	if s.server.auth.enabled() && s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") || extractAddress(arg[5:]) == "" {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.state = stateMailFrom
	s.writeLine("250 OK")
}

func (s *session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") || extractAddress(arg[3:]) == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.state = stateRcptTo
	s.writeLine("250 OK")
}

func (s *session) handleDATA() {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")
	if !s.readData() {
		return
	}

	s.writeLine("250 OK message queued")
	s.resetTransaction()
}

// readData reads a DATA payload up to the lone "." line and records it.
func (s *session) readData() bool {
	var lines []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return false
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}

		// Dot-stuffing: lines starting with ".." have the leading dot removed
		if strings.HasPrefix(trimmed, "..") {
			trimmed = trimmed[1:]
		}
		lines = append(lines, trimmed)
	}

	raw := strings.Join(lines, "\r\n")
	msg, err := parser.Parse([]byte(raw + "\r\n"))
	if err != nil {
		msg = nil
	}
	s.server.recordMessage(raw, msg)
	return true
}

func (s *session) resetTransaction() {
	if s.state > stateAuthOK {
		s.state = stateAuthOK
	}
	if !s.server.auth.enabled() && s.state > stateGreeted {
		s.state = stateGreeted
	}
}

// readCommand reads one line and records it.
func (s *session) readCommand() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	s.server.recordCommand(line)
	return line, nil
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *session) writeLine(format string, args ...interface{}) {
	if _, err := s.writer.WriteString(fmt.Sprintf(format, args...) + "\r\n"); err != nil {
		return
	}
	s.writer.Flush()
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress extracts an email address from an SMTP parameter,
// handling both angle-bracket and bare formats.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}

	return s
}
