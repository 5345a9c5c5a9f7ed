package trust

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cartouche/internal/logger"
	"github.com/cartouche/pkg/gemini"
)

// File persists TrustAlways grants in a YAML known-hosts file. TrustOnce grants
// are kept in memory only.
type File struct {
	path string
	opts options

	mu         sync.RWMutex
	persistent map[string]Entry
	session    map[string]Entry
}

type knownHosts struct {
	Hosts map[string]knownHost `yaml:"hosts"`
}

type knownHost struct {
	Fingerprint string    `yaml:"fingerprint"`
	NotAfter    time.Time `yaml:"not_after"`
	Added       time.Time `yaml:"added"`
}

// OpenFile loads the known-hosts file at path. A missing file is an empty store.
func OpenFile(path string, opts ...Option) (*File, error) {
	f := &File{
		path:       path,
		opts:       newOptions(opts),
		persistent: make(map[string]Entry),
		session:    make(map[string]Entry),
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read known hosts: %w", err)
	}

	var doc knownHosts
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse known hosts: %w", err)
	}

	for host, h := range doc.Hosts {
		fp, err := gemini.ParseFingerprint(h.Fingerprint)
		if err != nil {
			f.opts.logger.Warn("skipping known host", logger.Host(host), logger.Error(err))
			continue
		}
		host = normalize(host)
		f.persistent[host] = Entry{
			Host:        host,
			Fingerprint: fp,
			NotAfter:    h.NotAfter,
			Added:       h.Added,
			Persistent:  true,
		}
	}
	return nil
}

// save writes the persistent entries. Callers hold f.mu.
func (f *File) save() error {
	doc := knownHosts{Hosts: make(map[string]knownHost, len(f.persistent))}
	for host, e := range f.persistent {
		doc.Hosts[host] = knownHost{
			Fingerprint: e.Fingerprint.String(),
			NotAfter:    e.NotAfter.UTC(),
			Added:       e.Added.UTC(),
		}
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode known hosts: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".known_hosts-*")
	if err != nil {
		return fmt.Errorf("failed to write known hosts: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write known hosts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write known hosts: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace known hosts: %w", err)
	}
	return nil
}

func (f *File) LookupTrust(cert *x509.Certificate, host string) (gemini.TrustState, error) {
	host = normalize(host)

	f.mu.RLock()
	defer f.mu.RUnlock()

	var pinned, session *Entry
	if e, ok := f.persistent[host]; ok {
		pinned = &e
	}
	if e, ok := f.session[host]; ok {
		session = &e
	}
	return evaluate(gemini.NewFingerprint(cert.Raw), f.opts.now(), pinned, session), nil
}

func (f *File) TrustOnce(cert *x509.Certificate, host string) error {
	e := newEntry(cert, host, f.opts.now(), false)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.session[e.Host] = e
	return nil
}

func (f *File) TrustAlways(cert *x509.Certificate, host string) error {
	e := newEntry(cert, host, f.opts.now(), true)

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.session, e.Host)
	f.persistent[e.Host] = e
	return f.save()
}

func (f *File) List(context.Context) ([]Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Entry, 0, len(f.persistent)+len(f.session))
	for _, e := range f.persistent {
		out = append(out, e)
	}
	for _, e := range f.session {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (f *File) Forget(_ context.Context, host string) error {
	host = normalize(host)

	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.session, host)
	if _, ok := f.persistent[host]; !ok {
		return nil
	}
	delete(f.persistent, host)
	return f.save()
}

// Path returns the known-hosts file location.
func (f *File) Path() string { return f.path }

func (f *File) Close() error { return nil }
