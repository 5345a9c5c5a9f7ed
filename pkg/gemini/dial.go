package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"
)

// Dialer opens the byte stream a Stream runs over.
type Dialer interface {
	DialContext(ctx context.Context, host string, port int) (net.Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, host string, port int) (net.Conn, error)

func (f DialerFunc) DialContext(ctx context.Context, host string, port int) (net.Conn, error) {
	return f(ctx, host, port)
}

// HostResolver looks up the addresses of a host. *net.Resolver implements it.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// NetDialer resolves host and tries every address in order until one accepts
// the connection.
type NetDialer struct {
	// Timeout bounds each connection attempt. Zero means no per-attempt limit.
	Timeout  time.Duration
	// Resolver defaults to net.DefaultResolver.
	Resolver HostResolver
}

// DialContext connects to host:port. A refused, timed-out or unroutable address
// is skipped; an interrupted attempt is retried on the same address. When no
// address accepts, the error wraps ErrHostUnreachable.
func (d *NetDialer) DialContext(ctx context.Context, host string, port int) (net.Conn, error) {
	var resolver HostResolver = net.DefaultResolver
	if d.Resolver != nil {
		resolver = d.Resolver
	}

	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, &IOError{Op: "resolve", Err: err}
	}

	nd := &net.Dialer{Timeout: d.Timeout}
	for _, addr := range addrs {
		target := net.JoinHostPort(addr, strconv.Itoa(port))
		for {
			conn, err := nd.DialContext(ctx, "tcp", target)
			if err == nil {
				return conn, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, &IOError{Op: "dial", Err: ctxErr}
			}
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			if skippable(err) {
				break
			}
			return nil, &IOError{Op: "dial", Err: err}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrHostUnreachable, net.JoinHostPort(host, strconv.Itoa(port)))
}

func skippable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
