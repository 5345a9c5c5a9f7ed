package gemini

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

// Stream is one TLS session over one connection. It serves a single exchange
// and is not safe for concurrent use.
type Stream struct {
	conn         *tls.Conn
	pending      bytes.Buffer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

type streamOptions struct {
	dialer       Dialer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// StreamOption configures Establish.
type StreamOption func(*streamOptions)

// WithDialer replaces the default NetDialer.
func WithDialer(d Dialer) StreamOption {
	return func(o *streamOptions) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithReadTimeout bounds each Read. An expired read reports ErrInterrupted.
func WithReadTimeout(d time.Duration) StreamOption {
	return func(o *streamOptions) { o.readTimeout = d }
}

// WithWriteTimeout bounds each Flush. An expired write is a permanent
// *IOError; the connection cannot be written again.
func WithWriteTimeout(d time.Duration) StreamOption {
	return func(o *streamOptions) { o.writeTimeout = d }
}

// Establish connects to host:port and completes a TLS handshake in which policy
// is the only authority on certificate acceptance.
func Establish(ctx context.Context, host string, port int, policy TrustPolicy, opts ...StreamOption) (*Stream, error) {
	o := streamOptions{dialer: &NetDialer{}}
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := o.dialer.DialContext(ctx, host, port)
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Client(conn, policy.TLSConfig(host))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, classifyHandshake(err)
	}

	return &Stream{
		conn:         tlsConn,
		readTimeout:  o.readTimeout,
		writeTimeout: o.writeTimeout,
	}, nil
}

// Read returns decrypted application bytes. Errors are ErrInterrupted,
// ErrTerminated, *IOError or *TLSError.
func (s *Stream) Read(p []byte) (int, error) {
	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return 0, classify("read", err)
		}
	}
	n, err := s.conn.Read(p)
	if n > 0 {
		// A sticky error will be reported again on the next call.
		return n, nil
	}
	return 0, classify("read", err)
}

// Write buffers p until the next Flush. It never fails.
func (s *Stream) Write(p []byte) (int, error) {
	return s.pending.Write(p)
}

// Flush pushes all buffered writes to the peer.
func (s *Stream) Flush() error {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return classifyWrite(err)
		}
	}
	if _, err := s.pending.WriteTo(s.conn); err != nil {
		return classifyWrite(err)
	}
	return nil
}

// Close closes the connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// ConnectionState returns the negotiated TLS parameters.
func (s *Stream) ConnectionState() tls.ConnectionState {
	return s.conn.ConnectionState()
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.EINTR), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrInterrupted
	case terminated(err):
		return ErrTerminated
	case isTLS(err):
		return &TLSError{Err: err}
	default:
		return &IOError{Op: op, Err: err}
	}
}

// classifyWrite differs from classify for expired deadlines: tls.Conn keeps a
// timed-out write error and part of the buffer is already gone.
func classifyWrite(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return &IOError{Op: "write", Err: err}
	}
	return classify("write", err)
}

// classifyHandshake treats every failure that did not come from the socket as
// a TLS failure.
func classifyHandshake(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &IOError{Op: "handshake", Err: err}
	}
	c := classify("handshake", err)
	var ioErr *IOError
	if errors.As(c, &ioErr) && !socketError(err) {
		return &TLSError{Err: err}
	}
	return c
}

func terminated(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE)
}

func isTLS(err error) bool {
	var (
		alert     tls.AlertError
		header    tls.RecordHeaderError
		verifyErr *tls.CertificateVerificationError
		opErr     *net.OpError
	)
	switch {
	case errors.As(err, &alert), errors.As(err, &header), errors.As(err, &verifyErr):
		return true
	case errors.As(err, &opErr) && (opErr.Op == "local error" || opErr.Op == "remote error"):
		return true
	}
	return errors.Is(err, ErrCertificateRejected) ||
		errors.Is(err, ErrNoCertificatesPresented) ||
		errors.Is(err, ErrBadEncoding)
}

func socketError(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	return opErr.Op == "read" || opErr.Op == "write" || opErr.Op == "dial"
}
