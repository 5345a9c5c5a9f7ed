package policy_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartouche/internal/policy"
	"github.com/cartouche/internal/testhelpers"
	"github.com/cartouche/pkg/gemini"
)

func TestParseDecision(t *testing.T) {
	d, err := policy.ParseDecision(" Always ")
	require.NoError(t, err)
	assert.Equal(t, gemini.DecisionTrustAlways, d)

	d, err = policy.ParseDecision("perhaps")
	assert.Error(t, err)
	assert.Equal(t, gemini.DecisionAbort, d)
}

func TestDescribe(t *testing.T) {
	_, cert := testhelpers.NewCertificate(t,
		testhelpers.WithDNSNames("capsule.test"),
		testhelpers.WithCommonName("capsule.test"),
	)
	info := policy.Describe(cert, "capsule.test", gemini.VerificationIssue{
		Kind:   gemini.IssueInvalidCertificate,
		Reason: gemini.ErrCertExpired,
	})

	assert.Equal(t, "invalid_certificate", info.Issue)
	assert.Equal(t, gemini.ErrCertExpired.Error(), info.Reason)
	assert.Equal(t, "CN=capsule.test", info.Subject)
	assert.Equal(t, []string{"capsule.test"}, info.DNSNames)
	assert.Equal(t, gemini.NewFingerprint(cert.Raw).String(), info.Fingerprint)
}

func TestFixedAndObserve(t *testing.T) {
	_, cert := testhelpers.NewCertificate(t)

	var seen []gemini.TrustDecision
	d := policy.Observe(policy.Fixed(gemini.DecisionTrustTemporary), func(host string, _ gemini.VerificationIssue, decision gemini.TrustDecision) {
		assert.Equal(t, "capsule.test", host)
		seen = append(seen, decision)
	})

	assert.Equal(t, gemini.DecisionTrustTemporary, d.DecideTrust(cert, "capsule.test", gemini.VerificationIssue{}))
	assert.Equal(t, []gemini.TrustDecision{gemini.DecisionTrustTemporary}, seen)
}

const starlarkPolicy = `
def decide(info):
    if info.issue == "unknown_certificate" and info.host.endswith(".test"):
        return "always"
    if info.issue == "fingerprint_mismatch":
        return "abort"
    return "once"
`

const jsPolicy = `
function decide(info) {
  if (info.issue === "unknown_certificate" && info.host.endsWith(".test")) {
    return "always";
  }
  if (info.issue === "fingerprint_mismatch") {
    return "abort";
  }
  return "once";
}
`

func TestScript(t *testing.T) {
	_, cert := testhelpers.NewCertificate(t, testhelpers.WithDNSNames("capsule.test"))

	for name, src := range map[string]string{"policy.star": starlarkPolicy, "policy.js": jsPolicy} {
		t.Run(name, func(t *testing.T) {
			s, err := policy.NewScript(name, src, nil)
			require.NoError(t, err)

			assert.Equal(t, gemini.DecisionTrustAlways,
				s.DecideTrust(cert, "capsule.test", gemini.VerificationIssue{Kind: gemini.IssueUnknownCertificate}))
			assert.Equal(t, gemini.DecisionAbort,
				s.DecideTrust(cert, "capsule.test", gemini.VerificationIssue{Kind: gemini.IssueFingerprintMismatch}))
			assert.Equal(t, gemini.DecisionTrustTemporary,
				s.DecideTrust(cert, "capsule.org", gemini.VerificationIssue{Kind: gemini.IssueUnknownCertificate}))
		})
	}
}

func TestScriptConcurrentCalls(t *testing.T) {
	_, cert := testhelpers.NewCertificate(t)
	s, err := policy.NewScript("policy.js", jsPolicy, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, gemini.DecisionTrustAlways,
				s.DecideTrust(cert, "capsule.test", gemini.VerificationIssue{}))
		}()
	}
	wg.Wait()
}

func TestScriptFailuresAbort(t *testing.T) {
	_, cert := testhelpers.NewCertificate(t)
	issue := gemini.VerificationIssue{}

	t.Run("runtime error", func(t *testing.T) {
		s, err := policy.NewScript("p.star", "def decide(info):\n    return 1 // 0\n", nil)
		require.NoError(t, err)
		assert.Equal(t, gemini.DecisionAbort, s.DecideTrust(cert, "capsule.test", issue))
	})

	t.Run("wrong answer type", func(t *testing.T) {
		s, err := policy.NewScript("p.js", "function decide(info) { return 42; }", nil)
		require.NoError(t, err)
		assert.Equal(t, gemini.DecisionAbort, s.DecideTrust(cert, "capsule.test", issue))
	})

	t.Run("endless loop", func(t *testing.T) {
		s, err := policy.NewScript("p.js", "function decide(info) { for (;;) {} }", nil)
		require.NoError(t, err)
		assert.Equal(t, gemini.DecisionAbort, s.DecideTrust(cert, "capsule.test", issue))
	})
}

func TestLoadScript(t *testing.T) {
	t.Run("missing decide", func(t *testing.T) {
		_, err := policy.NewScript("p.star", "x = 1\n", nil)
		assert.Error(t, err)
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := policy.NewScript("p.js", "function decide(", nil)
		assert.Error(t, err)
	})

	t.Run("unknown extension", func(t *testing.T) {
		_, err := policy.NewScript("p.lua", "", nil)
		assert.Error(t, err)
	})

	t.Run("from disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "trust.star")
		require.NoError(t, os.WriteFile(path, []byte(starlarkPolicy), 0o600))
		s, err := policy.LoadScript(path, nil)
		require.NoError(t, err)
		var _ gemini.VerificationDelegate = s
	})
}
