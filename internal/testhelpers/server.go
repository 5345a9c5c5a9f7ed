package testhelpers

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// Handler answers one request. line has its CR LF removed.
type Handler func(line string, w io.Writer)

// Reply returns a Handler that writes header and body verbatim.
func Reply(header, body string) Handler {
	return func(_ string, w io.Writer) {
		_, _ = io.WriteString(w, header+body)
	}
}

// Server is a TLS listener speaking the request/response framing on loopback.
type Server struct {
	Addr string

	listener net.Listener
	handler  Handler
	wg       sync.WaitGroup

	mu       sync.Mutex
	requests []string
}

// NewServer starts a server presenting cert. It is closed on test cleanup.
func NewServer(t testing.TB, cert tls.Certificate, handler Handler) *Server {
	t.Helper()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{Addr: ln.Addr().String(), listener: ln, handler: handler}
	s.wg.Add(1)
	go s.serve()

	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})
	return s
}

// Dial connects to the server whatever host and port are asked for.
func (s *Server) Dial(ctx context.Context, _ string, _ int) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", s.Addr)
}

// Requests returns the request lines received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	line = strings.TrimSuffix(line, "\r\n")

	s.mu.Lock()
	s.requests = append(s.requests, line)
	s.mu.Unlock()

	s.handler(line, conn)
}
