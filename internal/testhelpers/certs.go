// Package testhelpers provides certificates and a local capsule server for tests.
package testhelpers

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"
)

// CertOption customizes a generated certificate template.
type CertOption func(*x509.Certificate)

// WithDNSNames sets the subject alternative DNS names.
func WithDNSNames(names ...string) CertOption {
	return func(c *x509.Certificate) { c.DNSNames = names }
}

// WithCommonName sets the subject common name.
func WithCommonName(cn string) CertOption {
	return func(c *x509.Certificate) { c.Subject.CommonName = cn }
}

// WithIPAddresses sets the subject alternative IP addresses.
func WithIPAddresses(ips ...net.IP) CertOption {
	return func(c *x509.Certificate) { c.IPAddresses = ips }
}

// WithValidity sets the validity window.
func WithValidity(notBefore, notAfter time.Time) CertOption {
	return func(c *x509.Certificate) {
		c.NotBefore = notBefore
		c.NotAfter = notAfter
	}
}

// NewCertificate generates a self-signed ECDSA certificate valid from an hour
// ago for a day, unless options say otherwise.
func NewCertificate(t testing.TB, opts ...CertOption) (tls.Certificate, *x509.Certificate) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("generate serial: %v", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, opt := range opts {
		opt(template)
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}, leaf
}
