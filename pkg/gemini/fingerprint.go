package gemini

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// AlgorithmSHA256 is the only digest algorithm in use.
const AlgorithmSHA256 = "SHA-256"

// Fingerprint identifies a certificate by the digest of its DER encoding.
type Fingerprint struct {
	Algorithm string
	Sum       []byte
}

// NewFingerprint computes the SHA-256 fingerprint of data.
func NewFingerprint(data []byte) Fingerprint {
	sum := sha256.Sum256(data)
	return Fingerprint{Algorithm: AlgorithmSHA256, Sum: sum[:]}
}

// String renders the fingerprint as "SHA-256:E3:B0:...".
func (f Fingerprint) String() string {
	var b strings.Builder
	b.Grow(len(f.Algorithm) + len(f.Sum)*3)
	b.WriteString(f.Algorithm)
	for _, c := range f.Sum {
		fmt.Fprintf(&b, ":%02X", c)
	}
	return b.String()
}

// Equal reports whether both fingerprints use the same algorithm and digest.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Algorithm == other.Algorithm && bytes.Equal(f.Sum, other.Sum)
}

// IsZero reports whether f holds no digest.
func (f Fingerprint) IsZero() bool { return len(f.Sum) == 0 }

// ParseFingerprint parses the format produced by String.
func ParseFingerprint(s string) (Fingerprint, error) {
	algo, rest, ok := strings.Cut(s, ":")
	if !ok || algo != AlgorithmSHA256 {
		return Fingerprint{}, fmt.Errorf("fingerprint %q: unsupported algorithm", s)
	}
	sum, err := hex.DecodeString(strings.ReplaceAll(rest, ":", ""))
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint %q: %w", s, err)
	}
	if len(sum) != sha256.Size {
		return Fingerprint{}, fmt.Errorf("fingerprint %q: want %d bytes, got %d", s, sha256.Size, len(sum))
	}
	return Fingerprint{Algorithm: algo, Sum: sum}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
