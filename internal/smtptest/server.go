// Package smtptest provides an in-process SMTP server that records every
// accepted transaction, for exercising SMTP clients end to end.
package smtptest

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shineum/mailkit/internal/email"
	"github.com/shineum/mailkit/internal/parser"
)

// idleTimeout bounds how long a connection may sit between commands.
const idleTimeout = 10 * time.Second

// Options configures a Server. The zero value accepts unauthenticated
// plain-text clients.
type Options struct {
	// Hostname is announced in the greeting and EHLO reply.
	Hostname string

	// Username and Password enable AUTH PLAIN and LOGIN. Mail is refused
	// until a client authenticates.
	Username string
	Password string

	// TLSConfig enables STARTTLS.
	TLSConfig *tls.Config

	// ImplicitTLS makes the listener speak TLS from the first byte using
	// TLSConfig, as on an SMTPS port. STARTTLS is then not offered.
	ImplicitTLS bool

	// Reject lists recipient addresses refused at RCPT with a 550.
	Reject []string
}

// Transaction is one message accepted by the server.
type Transaction struct {
	// Helo is the name the client greeted with.
	Helo string
	From string
	To   []string
	Data []byte
	// TLS reports whether the connection was encrypted when DATA completed.
	TLS bool
	// Message is Data parsed back into a Message, or nil if parsing failed.
	Message *email.Message
}

// Server is a capture SMTP server listening on a loopback port.
type Server struct {
	opts     Options
	listener net.Listener

	mu           sync.Mutex
	transactions []Transaction

	// wg tracks in-flight session goroutines.
	wg sync.WaitGroup
}

// NewServer starts a Server on 127.0.0.1 with an ephemeral port.
func NewServer(opts Options) (*Server, error) {
	if opts.Hostname == "" {
		opts.Hostname = "localhost"
	}
	if opts.ImplicitTLS && opts.TLSConfig == nil {
		return nil, fmt.Errorf("implicit TLS requires a TLS config")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	s := &Server{opts: opts, listener: ln}
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Listener closed by Close.
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(s, conn).handle()
		}()
	}
}

// Close stops accepting connections and waits for open sessions to end.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

// Host returns the listening IP address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Transactions returns a copy of the accepted transactions in arrival order.
func (s *Server) Transactions() []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transaction(nil), s.transactions...)
}

func (s *Server) record(t Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, t)
}

func (s *Server) authEnabled() bool {
	return s.opts.Username != "" && s.opts.Password != ""
}

func (s *Server) rejects(addr string) bool {
	for _, r := range s.opts.Reject {
		if strings.EqualFold(r, addr) {
			return true
		}
	}
	return false
}

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int

	tlsActive bool
	helo      string
	mailFrom  string
	rcptTo    []string
}

func newSession(s *Server, conn net.Conn) *session {
	if s.opts.ImplicitTLS {
		conn = tls.Server(conn, s.opts.TLSConfig)
	}
	return &session{
		server:    s,
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		state:     stateConnected,
		tlsActive: s.opts.ImplicitTLS,
	}
}

func (s *session) handle() {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP smtptest", s.server.opts.Hostname)

	for {
		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}
		line, err := s.readLine()
		if err != nil {
			if err != io.EOF {
				slog.Debug("smtptest read error", "error", err)
			}
			return
		}
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if s.handleCommand(cmd, arg) {
			return
		}
	}
}

// handleCommand processes one command and reports whether the session ends.
func (s *session) handleCommand(cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
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
	s.helo = arg
	s.state = stateGreeted

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.server.opts.Hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.server.opts.Hostname, arg)
	if s.server.opts.TLSConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.server.authEnabled() {
		s.writeLine("250-AUTH PLAIN LOGIN")
	}
	s.writeLine("250 OK")
}

func (s *session) handleSTARTTLS() {
	if s.server.opts.TLSConfig == nil || s.tlsActive {
		s.writeLine("454 TLS not available")
		return
	}
	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.server.opts.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Debug("smtptest TLS handshake failed", "error", err)
		return
	}
	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
}

func (s *session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.server.authEnabled() {
		s.writeLine("503 AUTH not available")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")
	var user, pass string
	var ok bool
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		if initial == "" {
			s.writeLine("334")
			initial, _ = s.readLine()
		}
		user, pass, ok = decodePlain(initial)
	case "LOGIN":
		s.writeLine("334 VXNlcm5hbWU6")
		u, _ := s.readLine()
		s.writeLine("334 UGFzc3dvcmQ6")
		p, _ := s.readLine()
		user, ok = decodeBase64(u)
		if ok {
			pass, ok = decodeBase64(p)
		}
	default:
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	if !ok || user != s.server.opts.Username || pass != s.server.opts.Password {
		s.writeLine("535 Authentication failed")
		return
	}
	s.state = stateAuthOK
	s.writeLine("235 Authentication successful")
}

func (s *session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.server.authEnabled() && s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}
	addr, ok := extractAddress(arg, "FROM:")
	if !ok {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

func (s *session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}
	addr, ok := extractAddress(arg, "TO:")
	if !ok || addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}
	if s.server.rejects(addr) {
		s.writeLine("550 5.1.1 <%s>: mailbox unavailable", addr)
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

func (s *session) handleDATA() {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}
	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	var data strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}
		// Dot-stuffing: lines starting with ".." have the leading dot removed
		if strings.HasPrefix(trimmed, "..") {
			line = line[1:]
		}
		data.WriteString(line)
	}

	raw := []byte(data.String())
	t := Transaction{
		Helo: s.helo,
		From: s.mailFrom,
		To:   s.rcptTo,
		Data: raw,
		TLS:  s.tlsActive,
	}
	if msg, err := parser.Parse(raw); err == nil {
		t.Message = msg
	}
	s.server.record(t)

	s.writeLine("250 OK message accepted")
	s.resetTransaction()
}

// resetTransaction clears the envelope without dropping greeting or auth.
func (s *session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil
	if s.server.authEnabled() && s.state >= stateAuthOK {
		s.state = stateAuthOK
	} else if s.state >= stateGreeted {
		s.state = stateGreeted
	}
}

func (s *session) readLine() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *session) writeLine(format string, args ...any) {
	if _, err := fmt.Fprintf(s.writer, format+"\r\n", args...); err != nil {
		return
	}
	s.writer.Flush()
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

// extractAddress strips the FROM:/TO: prefix and angle brackets. Trailing
// ESMTP parameters are ignored.
func extractAddress(arg, prefix string) (string, bool) {
	if !strings.HasPrefix(strings.ToUpper(arg), prefix) {
		return "", false
	}
	rest := strings.TrimSpace(arg[len(prefix):])
	if strings.HasPrefix(rest, "<") {
		end := strings.Index(rest, ">")
		if end < 0 {
			return "", false
		}
		return rest[1:end], true
	}
	addr, _, _ := strings.Cut(rest, " ")
	return addr, true
}

// decodePlain decodes an AUTH PLAIN response: base64(authzid\0user\0pass).
func decodePlain(encoded string) (string, string, bool) {
	decoded, ok := decodeBase64(encoded)
	if !ok {
		return "", "", false
	}
	parts := strings.SplitN(decoded, "\x00", 3)
	if len(parts) != 3 {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func decodeBase64(s string) (string, bool) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return string(b), true
}
