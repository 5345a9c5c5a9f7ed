package gemini

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// TrustState is the answer of a TrustCache lookup.
type TrustState int

const (
	TrustUnknown TrustState = iota
	TrustTrusted
	TrustFingerprintMismatch
)

func (s TrustState) String() string {
	switch s {
	case TrustTrusted:
		return "trusted"
	case TrustFingerprintMismatch:
		return "fingerprint_mismatch"
	default:
		return "unknown"
	}
}

// TrustCache stores past trust decisions keyed by certificate and host.
// Implementations shared between connections must be safe for concurrent use.
type TrustCache interface {
	LookupTrust(cert *x509.Certificate, host string) (TrustState, error)
	// TrustOnce records a grant that does not outlive the cache instance.
	TrustOnce(cert *x509.Certificate, host string) error
	// TrustAlways records a persistent grant.
	TrustAlways(cert *x509.Certificate, host string) error
}

// IssueKind classifies why a certificate was not trusted outright.
type IssueKind int

const (
	IssueUnknownCertificate IssueKind = iota
	IssueInvalidCertificate
	IssueFingerprintMismatch
)

func (k IssueKind) String() string {
	switch k {
	case IssueInvalidCertificate:
		return "invalid_certificate"
	case IssueFingerprintMismatch:
		return "fingerprint_mismatch"
	default:
		return "unknown_certificate"
	}
}

// VerificationIssue is handed to a VerificationDelegate. Reason is set for
// IssueInvalidCertificate only.
type VerificationIssue struct {
	Kind   IssueKind
	Reason error
}

func (i VerificationIssue) String() string {
	if i.Reason != nil {
		return fmt.Sprintf("%s: %v", i.Kind, i.Reason)
	}
	return i.Kind.String()
}

// TrustDecision is a delegate's verdict.
type TrustDecision int

const (
	DecisionAbort TrustDecision = iota
	DecisionTrustTemporary
	DecisionTrustAlways
)

func (d TrustDecision) String() string {
	switch d {
	case DecisionTrustTemporary:
		return "once"
	case DecisionTrustAlways:
		return "always"
	default:
		return "abort"
	}
}

// VerificationDelegate applies policy, or asks a human, when a certificate is
// not already trusted. Shared delegates must be safe for concurrent use.
type VerificationDelegate interface {
	DecideTrust(cert *x509.Certificate, host string, issue VerificationIssue) TrustDecision
}

// DelegateFunc adapts a function to VerificationDelegate.
type DelegateFunc func(cert *x509.Certificate, host string, issue VerificationIssue) TrustDecision

func (f DelegateFunc) DecideTrust(cert *x509.Certificate, host string, issue VerificationIssue) TrustDecision {
	return f(cert, host, issue)
}

// TrustPolicy produces the TLS configuration used for a connection to host.
type TrustPolicy interface {
	TLSConfig(host string) *tls.Config
}

// CertificateVerifier accepts server certificates on a trust-on-first-use basis.
type CertificateVerifier struct {
	delegate VerificationDelegate
	cache    TrustCache
	logger   *slog.Logger
	now      func() time.Time
}

// VerifierOption configures a CertificateVerifier.
type VerifierOption func(*CertificateVerifier)

// WithVerifierLogger sets the logger for trust events.
func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *CertificateVerifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithClock overrides the time source used for validity checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *CertificateVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewCertificateVerifier wires a delegate and a cache into a verifier.
func NewCertificateVerifier(delegate VerificationDelegate, cache TrustCache, opts ...VerifierOption) *CertificateVerifier {
	v := &CertificateVerifier{
		delegate: delegate,
		cache:    cache,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify decides whether the chain presented by host is acceptable. Only the
// leaf certificate is considered.
func (v *CertificateVerifier) Verify(rawCerts [][]byte, host string) error {
	if len(rawCerts) == 0 {
		return ErrNoCertificatesPresented
	}

	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}

	host = normalizeHost(host)
	fp := NewFingerprint(cert.Raw)
	log := v.logger.With("host", host, "fingerprint", fp.String())

	var issue VerificationIssue
	if err := CheckCertificateForDomain(cert, host, v.now()); err != nil {
		issue = VerificationIssue{Kind: IssueInvalidCertificate, Reason: err}
	} else {
		state, err := v.cache.LookupTrust(cert, host)
		if err != nil {
			log.Warn("trust lookup failed", "error", err)
			state = TrustUnknown
		}
		switch state {
		case TrustTrusted:
			log.Debug("certificate trusted")
			return nil
		case TrustFingerprintMismatch:
			issue = VerificationIssue{Kind: IssueFingerprintMismatch}
		default:
			issue = VerificationIssue{Kind: IssueUnknownCertificate}
		}
	}

	decision := v.delegate.DecideTrust(cert, host, issue)
	log.Info("trust decision", "issue", issue.String(), "decision", decision.String())

	switch decision {
	case DecisionTrustTemporary:
		if err := v.cache.TrustOnce(cert, host); err != nil {
			log.Warn("failed to record trust", "error", err)
		}
		return nil
	case DecisionTrustAlways:
		if err := v.cache.TrustAlways(cert, host); err != nil {
			log.Warn("failed to record trust", "error", err)
		}
		return nil
	default:
		return ErrCertificateRejected
	}
}

// TLSConfig returns a client configuration that replaces chain validation with
// Verify for host.
func (v *CertificateVerifier) TLSConfig(host string) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return v.Verify(rawCerts, host)
		},
	}
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
