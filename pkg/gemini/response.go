package gemini

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// maxHeaderLength caps the header line including its CR LF terminator.
const maxHeaderLength = 1024

// DefaultMaxInterrupts bounds consecutive ErrInterrupted results retried while
// framing the header.
const DefaultMaxInterrupts = 16

// maxEmptyReads bounds consecutive reads that return no bytes and no error.
const maxEmptyReads = 100

var crlf = []byte("\r\n")

// ByteStream is the transport a Response reads from. Read must report the same
// conditions as Stream.Read.
type ByteStream interface {
	io.Reader
	io.Closer
}

type state int

const (
	stateReadingHeader state = iota
	stateReadingData
	stateComplete
)

// Response frames the header and body of one exchange. It is not safe for
// concurrent use.
type Response struct {
	stream        ByteStream
	state         state
	header        []byte
	lookahead     []byte
	status        Status
	meta          string
	headerErr     error
	maxInterrupts int
}

// ResponseOption configures a Response.
type ResponseOption func(*Response)

// WithMaxInterrupts sets how many consecutive interrupted reads the header
// framing retries. Zero selects DefaultMaxInterrupts; a negative value retries
// without limit.
func WithMaxInterrupts(n int) ResponseOption {
	return func(r *Response) {
		if n != 0 {
			r.maxInterrupts = n
		}
	}
}

// NewResponse binds a Response to stream. The request must already be written.
func NewResponse(stream ByteStream, opts ...ResponseOption) *Response {
	r := &Response{
		stream:        stream,
		maxInterrupts: DefaultMaxInterrupts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read fills p with body bytes. The first call parses the header.
//
// ErrTerminated marks the end of the body and is returned on every call after
// it is first seen. A status other than Success yields a *StatusError and no
// body. ErrInterrupted means the call should be repeated.
func (r *Response) Read(p []byte) (int, error) {
	switch r.state {
	case stateReadingHeader:
		if err := r.readHeader(); err != nil {
			return 0, err
		}
		if len(p) == 0 {
			return 0, nil
		}
		return r.readData(p)
	case stateReadingData:
		return r.readData(p)
	default:
		return 0, ErrTerminated
	}
}

// ReadHeader parses the header without consuming body bytes. Calling it again
// returns the first outcome.
func (r *Response) ReadHeader() error {
	if r.state != stateReadingHeader {
		return r.headerErr
	}
	return r.readHeader()
}

// Status returns the parsed status. It is zero until the header is read.
func (r *Response) Status() Status { return r.status }

// Meta returns the text following the status code.
func (r *Response) Meta() string { return r.meta }

// TLS returns the connection state when the underlying stream exposes one.
func (r *Response) TLS() *tls.ConnectionState {
	cs, ok := r.stream.(interface{ ConnectionState() tls.ConnectionState })
	if !ok {
		return nil
	}
	state := cs.ConnectionState()
	return &state
}

// Body returns a reader for use with the io package. It maps ErrTerminated to
// io.EOF and retries interrupted reads.
func (r *Response) Body() io.Reader {
	return &bodyReader{r: r}
}

// Close releases the stream. Further reads report ErrTerminated.
func (r *Response) Close() error {
	r.state = stateComplete
	r.lookahead = nil
	return r.stream.Close()
}

func (r *Response) readHeader() error {
	if r.header == nil {
		r.header = make([]byte, 0, maxHeaderLength)
	}

	interrupts, empty := 0, 0
	for {
		if len(r.header) == maxHeaderLength {
			return r.failHeader(HeaderTooLong)
		}

		// Look one byte back in case CR ended the previous read.
		before := max(len(r.header)-1, 0)
		n, err := r.stream.Read(r.header[len(r.header):maxHeaderLength])
		r.header = r.header[:len(r.header)+n]
		if i := bytes.Index(r.header[before:], crlf); i >= 0 {
			return r.finishHeader(before + i)
		}

		switch {
		case err == nil && n > 0:
			interrupts, empty = 0, 0
		case err == nil:
			empty++
			if empty >= maxEmptyReads {
				return &IOError{Op: "read", Err: io.ErrNoProgress}
			}
		case errors.Is(err, ErrInterrupted):
			interrupts++
			if r.maxInterrupts >= 0 && interrupts > r.maxInterrupts {
				return ErrInterrupted
			}
		case errors.Is(err, ErrTerminated):
			return r.failHeader(UnexpectedEndOfStream)
		default:
			return err
		}
	}
}

func (r *Response) finishHeader(end int) error {
	status, meta, err := parseHeader(r.header[:end])
	if err != nil {
		return r.failHeader(err)
	}

	r.status, r.meta = status, meta
	if rest := r.header[end+len(crlf):]; len(rest) > 0 {
		r.lookahead = rest
	}
	r.header = nil

	if status != StatusSuccess {
		r.lookahead = nil
		return r.failHeader(&StatusError{Status: status, Meta: meta})
	}
	r.state = stateReadingData
	return nil
}

func (r *Response) failHeader(err error) error {
	r.state = stateComplete
	r.header = nil
	r.headerErr = err
	return err
}

func (r *Response) readData(p []byte) (int, error) {
	if len(r.lookahead) > 0 {
		n := copy(p, r.lookahead)
		r.lookahead = r.lookahead[n:]
		if len(r.lookahead) == 0 {
			r.lookahead = nil
		}
		return n, nil
	}

	n, err := r.stream.Read(p)
	if errors.Is(err, ErrTerminated) {
		r.state = stateComplete
		return n, ErrTerminated
	}
	return n, err
}

func parseHeader(line []byte) (Status, string, error) {
	if len(line) < 2 {
		return 0, "", HeaderTooShort
	}
	if len(line) > 2 && line[2] != ' ' {
		return 0, "", HeaderMalformed
	}
	if !isDigit(line[0]) || !isDigit(line[1]) {
		return 0, "", HeaderMalformed
	}

	status, err := StatusFromByte((line[0]-'0')*10 + (line[1] - '0'))
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", UnknownStatus, err)
	}

	var meta []byte
	if len(line) > 2 {
		meta = line[3:]
	}
	if !utf8.Valid(meta) {
		return 0, "", HeaderMalformed
	}
	return status, string(meta), nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

type bodyReader struct {
	r *Response
}

func (b *bodyReader) Read(p []byte) (int, error) {
	interrupts := 0
	for {
		n, err := b.r.Read(p)
		switch {
		case errors.Is(err, ErrTerminated):
			return n, io.EOF
		case errors.Is(err, ErrInterrupted) && n == 0:
			interrupts++
			if b.r.maxInterrupts >= 0 && interrupts > b.r.maxInterrupts {
				return 0, err
			}
			continue
		}
		return n, err
	}
}
