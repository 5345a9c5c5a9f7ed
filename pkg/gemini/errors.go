package gemini

import (
	"errors"
	"fmt"
)

var (
	// ErrInterrupted reports a transient condition. The same call should be retried.
	ErrInterrupted = errors.New("operation interrupted")

	// ErrTerminated reports that the peer closed the connection. For a response body
	// this is the normal end-of-data signal.
	ErrTerminated = errors.New("connection terminated")

	ErrNoCertificatesPresented = errors.New("no certificates presented")
	ErrBadEncoding             = errors.New("malformed certificate encoding")
	ErrCertificateRejected     = errors.New("certificate rejected")
	ErrEmptyHost               = errors.New("url has no host")
	ErrHostUnreachable         = errors.New("host unreachable")
	ErrNoTrustPolicy           = errors.New("no trust policy configured")
)

// ProtocolError is a violation of the response framing rules.
type ProtocolError int

const (
	UnexpectedEndOfStream ProtocolError = iota + 1
	HeaderTooShort
	HeaderTooLong
	HeaderMalformed
	UnknownStatus
)

func (e ProtocolError) Error() string {
	switch e {
	case UnexpectedEndOfStream:
		return "unexpected end of stream"
	case HeaderTooShort:
		return "header too short"
	case HeaderTooLong:
		return "header too long"
	case HeaderMalformed:
		return "malformed header"
	case UnknownStatus:
		return "unknown status code"
	default:
		return fmt.Sprintf("protocol error %d", int(e))
	}
}

// IOError wraps a transport failure that is neither an interruption nor a closure.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	if e.Op == "" {
		return "io: " + e.Err.Error()
	}
	return fmt.Sprintf("io: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// TLSError wraps a handshake or record-layer failure, including a rejected certificate.
type TLSError struct {
	Err error
}

func (e *TLSError) Error() string { return "tls: " + e.Err.Error() }

func (e *TLSError) Unwrap() error { return e.Err }

// URLError reports an unusable request URL.
type URLError struct {
	URL string
	Err error
}

func (e *URLError) Error() string { return fmt.Sprintf("url %q: %v", e.URL, e.Err) }

func (e *URLError) Unwrap() error { return e.Err }

// StatusError is returned by Response reads when the server answered with a
// status other than Success. The exchange carries no body; callers decide what
// to do with the status and meta.
type StatusError struct {
	Status Status
	Meta   string
}

func (e *StatusError) Error() string {
	if e.Meta == "" {
		return fmt.Sprintf("gemini: status %d (%s)", uint8(e.Status), e.Status)
	}
	return fmt.Sprintf("gemini: status %d (%s): %s", uint8(e.Status), e.Status, e.Meta)
}
