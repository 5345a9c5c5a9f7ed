package trust

import (
	"context"
	"crypto/x509"
	"sync"

	"github.com/cartouche/pkg/gemini"
)

// Memory keeps grants for the lifetime of the process. One-time and
// persistent grants behave the same.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	opts    options
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		entries: make(map[string]Entry),
		opts:    newOptions(opts),
	}
}

func (m *Memory) LookupTrust(cert *x509.Certificate, host string) (gemini.TrustState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[normalize(host)]
	if !ok {
		return gemini.TrustUnknown, nil
	}
	return evaluate(gemini.NewFingerprint(cert.Raw), m.opts.now(), &e), nil
}

func (m *Memory) TrustOnce(cert *x509.Certificate, host string) error {
	m.put(newEntry(cert, host, m.opts.now(), false))
	return nil
}

func (m *Memory) TrustAlways(cert *x509.Certificate, host string) error {
	m.put(newEntry(cert, host, m.opts.now(), true))
	return nil
}

func (m *Memory) put(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Host] = e
}

func (m *Memory) List(context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (m *Memory) Forget(_ context.Context, host string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, normalize(host))
	return nil
}

func (m *Memory) Close() error { return nil }
