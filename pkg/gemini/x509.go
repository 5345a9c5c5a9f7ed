package gemini

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

var (
	ErrCertNotValidYet     = errors.New("certificate is not valid yet")
	ErrCertExpired         = errors.New("certificate has expired")
	ErrCertNotValidForName = errors.New("certificate is not valid for name")
	ErrNonASCIIName        = errors.New("host name cannot be converted to ASCII")
)

var oidCommonName = asn1.ObjectIdentifier{2, 5, 4, 3}

// CheckCertificateForDomain reports whether cert is within its validity window at
// now and is issued to host.
//
// This is a lightweight check meant for trust-on-first-use clients. It does not
// build or verify a chain.
func CheckCertificateForDomain(cert *x509.Certificate, host string, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return ErrCertNotValidYet
	}
	if now.After(cert.NotAfter) {
		return ErrCertExpired
	}

	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		for _, candidate := range cert.IPAddresses {
			if candidate.Equal(ip) {
				return nil
			}
		}
		return ErrCertNotValidForName
	}

	name, err := asciiHost(host)
	if err != nil {
		return err
	}
	if certificateMatchesDomain(cert, name) {
		return nil
	}
	return ErrCertNotValidForName
}

func asciiHost(host string) (string, error) {
	if isASCII(host) {
		return host, nil
	}
	name, err := idna.Lookup.ToASCII(host)
	if err != nil || !isASCII(name) {
		return "", ErrNonASCIIName
	}
	return name, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func certificateMatchesDomain(cert *x509.Certificate, host string) bool {
	for _, name := range cert.DNSNames {
		if dnsNameMatches(host, name) {
			return true
		}
	}
	// Legacy certificates name the host in the subject common name only.
	for _, attr := range cert.Subject.Names {
		if !attr.Type.Equal(oidCommonName) {
			continue
		}
		if cn, ok := attr.Value.(string); ok && dnsNameMatches(host, cn) {
			return true
		}
	}
	return false
}

// dnsNameMatches compares labels right to left. A "*" pattern label matches
// exactly one leftmost label of host.
func dnsNameMatches(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if !isASCII(pattern) {
		return false
	}

	hostLabels := strings.Split(strings.TrimRight(host, "."), ".")
	patternLabels := strings.Split(strings.TrimRight(pattern, "."), ".")
	if len(hostLabels) != len(patternLabels) {
		return false
	}

	for i := len(hostLabels) - 1; i >= 0; i-- {
		p := patternLabels[i]
		if p == "*" {
			// Only the leftmost label may be a wildcard.
			return i == 0 && hostLabels[i] != ""
		}
		if !strings.EqualFold(hostLabels[i], p) {
			return false
		}
	}
	return true
}
