package trust

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cartouche/pkg/gemini"
)

const (
	kindAlways = "always:"
	kindOnce   = "once:"
)

// Redis shares grants between processes. Each host has up to two hashes: a
// persistent one and a one-time one that expires after the once TTL.
type Redis struct {
	client *redis.Client
	opts   options
}

// OpenRedis connects to the server at url and checks it answers.
func OpenRedis(url string, opts ...Option) (*Redis, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	r := NewRedis(redis.NewClient(ro), opts...)

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.timeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return r, nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, opts ...Option) *Redis {
	return &Redis{client: client, opts: newOptions(opts)}
}

func (r *Redis) key(kind, host string) string {
	return r.opts.prefix + kind + normalize(host)
}

func (r *Redis) LookupTrust(cert *x509.Certificate, host string) (gemini.TrustState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.timeout)
	defer cancel()

	pipe := r.client.Pipeline()
	always := pipe.HGetAll(ctx, r.key(kindAlways, host))
	once := pipe.HGetAll(ctx, r.key(kindOnce, host))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return gemini.TrustUnknown, fmt.Errorf("trust lookup: %w", err)
	}

	pinned, err := decodeEntry(host, always.Val(), true)
	if err != nil {
		return gemini.TrustUnknown, err
	}
	session, err := decodeEntry(host, once.Val(), false)
	if err != nil {
		return gemini.TrustUnknown, err
	}
	return evaluate(gemini.NewFingerprint(cert.Raw), r.opts.now(), pinned, session), nil
}

func (r *Redis) TrustOnce(cert *x509.Certificate, host string) error {
	return r.put(newEntry(cert, host, r.opts.now(), false), kindOnce, r.opts.onceTTL)
}

func (r *Redis) TrustAlways(cert *x509.Certificate, host string) error {
	e := newEntry(cert, host, r.opts.now(), true)
	if err := r.put(e, kindAlways, 0); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.timeout)
	defer cancel()
	return r.client.Del(ctx, r.key(kindOnce, host)).Err()
}

func (r *Redis) put(e Entry, kind string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.timeout)
	defer cancel()

	key := r.key(kind, e.Host)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"fingerprint", e.Fingerprint.String(),
			"not_after", strconv.FormatInt(e.NotAfter.Unix(), 10),
			"added", strconv.FormatInt(e.Added.Unix(), 10),
		)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record trust: %w", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	iter := r.client.Scan(ctx, 0, r.opts.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), r.opts.prefix)

		var persistent bool
		var host string
		switch {
		case strings.HasPrefix(key, kindAlways):
			persistent, host = true, strings.TrimPrefix(key, kindAlways)
		case strings.HasPrefix(key, kindOnce):
			host = strings.TrimPrefix(key, kindOnce)
		default:
			continue
		}

		fields, err := r.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("list trust: %w", err)
		}
		e, err := decodeEntry(host, fields, persistent)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, *e)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list trust: %w", err)
	}
	sortEntries(out)
	return out, nil
}

func (r *Redis) Forget(ctx context.Context, host string) error {
	return r.client.Del(ctx, r.key(kindAlways, host), r.key(kindOnce, host)).Err()
}

func (r *Redis) Close() error { return r.client.Close() }

func decodeEntry(host string, fields map[string]string, persistent bool) (*Entry, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	fp, err := gemini.ParseFingerprint(fields["fingerprint"])
	if err != nil {
		return nil, fmt.Errorf("stored trust for %s: %w", host, err)
	}
	return &Entry{
		Host:        normalize(host),
		Fingerprint: fp,
		NotAfter:    unixField(fields["not_after"]),
		Added:       unixField(fields["added"]),
		Persistent:  persistent,
	}, nil
}

func unixField(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
