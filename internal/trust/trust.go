// Package trust implements certificate trust caches for the TOFU verifier.
package trust

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cartouche/internal/config"
	"github.com/cartouche/internal/logger"
	"github.com/cartouche/pkg/gemini"
)

// Entry is one remembered certificate for a host.
type Entry struct {
	Host        string
	Fingerprint gemini.Fingerprint
	NotAfter    time.Time
	Added       time.Time
	// Persistent is false for grants that last only for the store's lifetime
	// or TTL.
	Persistent bool
}

// Store is a trust cache that can also be administered.
type Store interface {
	gemini.TrustCache
	List(ctx context.Context) ([]Entry, error)
	Forget(ctx context.Context, host string) error
	Close() error
}

type options struct {
	now     func() time.Time
	logger  *slog.Logger
	prefix  string
	onceTTL time.Duration
	timeout time.Duration
}

// Option configures a store.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPrefix sets the Redis key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithOnceTTL sets how long a one-time grant survives in Redis.
func WithOnceTTL(ttl time.Duration) Option {
	return func(o *options) { o.onceTTL = ttl }
}

// WithTimeout bounds each Redis round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func newOptions(opts []Option) options {
	o := options{
		now:     time.Now,
		logger:  logger.Discard(),
		prefix:  "cartouche:trust:",
		onceTTL: time.Hour,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open builds the store named by cfg.
func Open(cfg config.Trust, opts ...Option) (Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return NewMemory(opts...), nil
	case config.StoreFile:
		return OpenFile(cfg.Path, opts...)
	case config.StoreRedis:
		opts = append([]Option{WithPrefix(cfg.RedisPrefix), WithOnceTTL(cfg.OnceTTL)}, opts...)
		return OpenRedis(cfg.RedisURL, opts...)
	default:
		return nil, fmt.Errorf("unknown trust store %q", cfg.Store)
	}
}

func newEntry(cert *x509.Certificate, host string, now time.Time, persistent bool) Entry {
	return Entry{
		Host:        normalize(host),
		Fingerprint: gemini.NewFingerprint(cert.Raw),
		NotAfter:    cert.NotAfter,
		Added:       now,
		Persistent:  persistent,
	}
}

// evaluate applies the lookup rule to the remembered entries of one host. A
// different certificate is only a mismatch while the remembered one is still
// valid; after it expires the host is treated as new.
func evaluate(fp gemini.Fingerprint, now time.Time, entries ...*Entry) gemini.TrustState {
	var pinned *Entry
	for _, e := range entries {
		if e == nil {
			continue
		}
		if e.Fingerprint.Equal(fp) {
			return gemini.TrustTrusted
		}
		if pinned == nil {
			pinned = e
		}
	}
	if pinned == nil {
		return gemini.TrustUnknown
	}
	if !pinned.NotAfter.IsZero() && now.After(pinned.NotAfter) {
		return gemini.TrustUnknown
	}
	return gemini.TrustFingerprintMismatch
}

func normalize(host string) string {
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Host != entries[j].Host {
			return entries[i].Host < entries[j].Host
		}
		return entries[i].Persistent && !entries[j].Persistent
	})
}
