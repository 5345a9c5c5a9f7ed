package gemini

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"
)

// DefaultPort is used when the request URL names no port.
const DefaultPort = 1965

// Request is a resolved request target.
type Request struct {
	URL  *url.URL
	Host string
	Port int
}

// ParseRequest resolves rawURL into a request target. An internationalized
// host is replaced by its A-label, which is then used on the wire, for SNI and
// as the trust cache key.
func ParseRequest(rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &URLError{URL: rawURL, Err: err}
	}

	host := u.Hostname()
	if host == "" {
		return nil, &URLError{URL: rawURL, Err: ErrEmptyHost}
	}
	if !isASCII(host) {
		host, err = asciiHost(host)
		if err != nil {
			return nil, &URLError{URL: rawURL, Err: err}
		}
		if p := u.Port(); p != "" {
			u.Host = net.JoinHostPort(host, p)
		} else {
			u.Host = host
		}
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return nil, &URLError{URL: rawURL, Err: strconv.ErrRange}
		}
	}

	return &Request{URL: u, Host: host, Port: port}, nil
}

// Line is the request line as sent on the wire.
func (r *Request) Line() string {
	return r.URL.String() + "\r\n"
}

// Client performs requests.
type Client struct {
	// Policy decides which server certificates are accepted. Required.
	Policy TrustPolicy
	// Dialer opens connections. Nil uses NetDialer with DialTimeout.
	Dialer       Dialer
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxInterrupts bounds retries of interrupted header reads. See WithMaxInterrupts.
	MaxInterrupts int
	Logger        *slog.Logger
}

// Perform opens a verified stream to the URL's host, sends the request line and
// returns the Response bound to that stream.
func (c *Client) Perform(ctx context.Context, rawURL string) (*Response, error) {
	if c.Policy == nil {
		return nil, ErrNoTrustPolicy
	}
	req, err := ParseRequest(rawURL)
	if err != nil {
		return nil, err
	}

	log := c.logger().With("host", req.Host, "port", req.Port)
	log.Debug("performing request", "url", req.URL.String())

	dialer := c.Dialer
	if dialer == nil {
		dialer = &NetDialer{Timeout: c.DialTimeout}
	}

	stream, err := Establish(ctx, req.Host, req.Port, c.Policy,
		WithDialer(dialer),
		WithReadTimeout(c.ReadTimeout),
		WithWriteTimeout(c.WriteTimeout),
	)
	if err != nil {
		log.Debug("connection failed", "error", err)
		return nil, err
	}

	_, _ = io.WriteString(stream, req.Line())
	if err := stream.Flush(); err != nil {
		_ = stream.Close()
		return nil, err
	}

	return NewResponse(stream, WithMaxInterrupts(c.MaxInterrupts)), nil
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Perform sends rawURL with a default Client using policy.
func Perform(ctx context.Context, rawURL string, policy TrustPolicy) (*Response, error) {
	c := &Client{Policy: policy}
	return c.Perform(ctx, rawURL)
}
