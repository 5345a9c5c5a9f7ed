// Package policy provides non-interactive verification delegates.
package policy

import (
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"github.com/cartouche/pkg/gemini"
)

// Info is the view of a verification a policy decides on.
type Info struct {
	Host        string
	Issue       string
	Reason      string
	Fingerprint string
	Subject     string
	DNSNames    []string
	NotBefore   time.Time
	NotAfter    time.Time
}

// Describe flattens a verification into an Info.
func Describe(cert *x509.Certificate, host string, issue gemini.VerificationIssue) Info {
	info := Info{
		Host:        host,
		Issue:       issue.Kind.String(),
		Fingerprint: gemini.NewFingerprint(cert.Raw).String(),
		Subject:     cert.Subject.String(),
		DNSNames:    cert.DNSNames,
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
	}
	if issue.Reason != nil {
		info.Reason = issue.Reason.Error()
	}
	return info
}

// ParseDecision maps "abort", "once" and "always" to a decision.
func ParseDecision(s string) (gemini.TrustDecision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "abort":
		return gemini.DecisionAbort, nil
	case "once", "temporary":
		return gemini.DecisionTrustTemporary, nil
	case "always":
		return gemini.DecisionTrustAlways, nil
	default:
		return gemini.DecisionAbort, fmt.Errorf("unknown decision %q", s)
	}
}

// Fixed answers every verification with the same decision.
type Fixed gemini.TrustDecision

func (f Fixed) DecideTrust(*x509.Certificate, string, gemini.VerificationIssue) gemini.TrustDecision {
	return gemini.TrustDecision(f)
}

// Observer is told about every decision.
type Observer func(host string, issue gemini.VerificationIssue, decision gemini.TrustDecision)

type observed struct {
	next     gemini.VerificationDelegate
	observer Observer
}

// Observe wraps next so fn sees each decision it makes.
func Observe(next gemini.VerificationDelegate, fn Observer) gemini.VerificationDelegate {
	return &observed{next: next, observer: fn}
}

func (o *observed) DecideTrust(cert *x509.Certificate, host string, issue gemini.VerificationIssue) gemini.TrustDecision {
	d := o.next.DecideTrust(cert, host, issue)
	o.observer(host, issue, d)
	return d
}
