package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartouche/internal/config"
	"github.com/cartouche/internal/logger"
	"github.com/cartouche/internal/policy"
	"github.com/cartouche/internal/testhelpers"
	"github.com/cartouche/internal/trust"
	"github.com/cartouche/internal/tui"
	"github.com/cartouche/pkg/gemini"
)

func capsuleHandler(line string, w io.Writer) {
	reply := map[string]string{
		"gemini://capsule.test/":            "20 text/gemini\r\n# Home\n",
		"gemini://capsule.test/old":         "31 /\r\n",
		"gemini://capsule.test/ask":         "10 What is your name?\r\n",
		"gemini://capsule.test/ask?gus%20g": "20 text/plain\r\nhello gus g\n",
		"gemini://capsule.test/secret":      "11 Password\r\n",
		"gemini://capsule.test/missing":     "51 nothing here\r\n",
		"gemini://capsule.test/private":     "60 certificate required\r\n",
		"gemini://capsule.test/loop":        "30 /loop\r\n",
		"gemini://capsule.test/away":        "31 https://example.org/\r\n",
	}[line]
	if reply == "" {
		reply = "59 bad request\r\n"
	}
	_, _ = io.WriteString(w, reply)
}

func newTestFetcher(t *testing.T, decision gemini.TrustDecision) (*fetcher, *bytes.Buffer, *bytes.Buffer) {
	cert, _ := testhelpers.NewCertificate(t, testhelpers.WithDNSNames("capsule.test"))
	srv := testhelpers.NewServer(t, cert, capsuleHandler)

	var out, errOut bytes.Buffer
	f := &fetcher{
		client: &gemini.Client{
			Policy:      gemini.NewCertificateVerifier(policy.Fixed(decision), trust.NewMemory()),
			Dialer:      gemini.DialerFunc(srv.Dial),
			ReadTimeout: 5 * time.Second,
		},
		out:          &out,
		errOut:       &errOut,
		maxRedirects: 2,
		logger:       logger.Discard(),
	}
	return f, &out, &errOut
}

func TestFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f, out, _ := newTestFetcher(t, gemini.DecisionTrustTemporary)

		require.NoError(t, f.fetch(ctx, "gemini://capsule.test/"))
		assert.Equal(t, "# Home\n", out.String())
	})

	t.Run("scheme is optional", func(t *testing.T) {
		f, out, _ := newTestFetcher(t, gemini.DecisionTrustTemporary)

		require.NoError(t, f.fetch(ctx, "capsule.test/"))
		assert.Equal(t, "# Home\n", out.String())
	})

	t.Run("follows redirects", func(t *testing.T) {
		f, out, errOut := newTestFetcher(t, gemini.DecisionTrustTemporary)
		f.headers = true

		require.NoError(t, f.fetch(ctx, "gemini://capsule.test/old"))
		assert.Equal(t, "# Home\n", out.String())
		assert.Equal(t, "31 /\n20 text/gemini\n", errOut.String())
	})

	t.Run("redirect limit", func(t *testing.T) {
		f, _, _ := newTestFetcher(t, gemini.DecisionTrustTemporary)

		err := f.fetch(ctx, "gemini://capsule.test/loop")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too many redirects")
		assert.Equal(t, 3, exitCode(err))
	})

	t.Run("no redirects allowed", func(t *testing.T) {
		f, out, _ := newTestFetcher(t, gemini.DecisionTrustTemporary)
		f.maxRedirects = 0

		err := f.fetch(ctx, "gemini://capsule.test/old")
		assert.Equal(t, 3, exitCode(err))
		assert.Empty(t, out.String())
	})

	t.Run("redirect to another scheme", func(t *testing.T) {
		f, _, _ := newTestFetcher(t, gemini.DecisionTrustTemporary)

		err := f.fetch(ctx, "gemini://capsule.test/away")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unsupported scheme "https"`)
	})

	t.Run("input", func(t *testing.T) {
		f, _, _ := newTestFetcher(t, gemini.DecisionTrustTemporary)

		err := f.fetch(ctx, "gemini://capsule.test/ask")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "What is your name?")
		assert.Equal(t, 1, exitCode(err))
	})

	t.Run("input answered", func(t *testing.T) {
		f, out, _ := newTestFetcher(t, gemini.DecisionTrustTemporary)
		var asked string
		f.ask = func(_ context.Context, prompt string, sensitive bool) (string, error) {
			asked = prompt
			assert.False(t, sensitive)
			return "gus g", nil
		}

		require.NoError(t, f.fetch(ctx, "gemini://capsule.test/ask"))
		assert.Equal(t, "What is your name?", asked)
		assert.Equal(t, "hello gus g\n", out.String())
	})

	t.Run("sensitive input cancelled", func(t *testing.T) {
		f, _, _ := newTestFetcher(t, gemini.DecisionTrustTemporary)
		f.ask = func(_ context.Context, _ string, sensitive bool) (string, error) {
			assert.True(t, sensitive)
			return "", tui.ErrInputCancelled
		}

		err := f.fetch(ctx, "gemini://capsule.test/secret")
		assert.ErrorIs(t, err, tui.ErrInputCancelled)
		assert.Equal(t, 1, exitCode(err))
	})

	t.Run("failure", func(t *testing.T) {
		f, _, _ := newTestFetcher(t, gemini.DecisionTrustTemporary)

		err := f.fetch(ctx, "gemini://capsule.test/missing")
		var statusErr *gemini.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, gemini.StatusNotFound, statusErr.Status)
		assert.Equal(t, 5, exitCode(err))
	})

	t.Run("client certificate", func(t *testing.T) {
		f, _, _ := newTestFetcher(t, gemini.DecisionTrustTemporary)

		err := f.fetch(ctx, "gemini://capsule.test/private")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not supported")
		assert.Equal(t, 6, exitCode(err))
	})

	t.Run("rejected certificate", func(t *testing.T) {
		f, out, _ := newTestFetcher(t, gemini.DecisionAbort)

		err := f.fetch(ctx, "gemini://capsule.test/")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not trusted")
		assert.Equal(t, 1, exitCode(err))
		assert.Empty(t, out.String())
	})
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		arg  string
		host string
		port int
	}{
		{"example.org", "example.org", 1965},
		{"example.org:1966", "example.org", 1966},
		{"gemini://example.org/page", "example.org", 1965},
		{"[::1]:2000", "::1", 2000},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			req, err := parseTarget(tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.host, req.Host)
			assert.Equal(t, tt.port, req.Port)
		})
	}

	_, err := parseTarget("gemini:///nohost")
	assert.ErrorIs(t, err, gemini.ErrEmptyHost)
}

func TestInspect(t *testing.T) {
	cert, x509Cert := testhelpers.NewCertificate(t, testhelpers.WithDNSNames("capsule.test"))
	srv := testhelpers.NewServer(t, cert, capsuleHandler)
	dialer := gemini.DialerFunc(srv.Dial)
	now := time.Now()
	ctx := context.Background()

	req, err := parseTarget("capsule.test")
	require.NoError(t, err)

	t.Run("unknown", func(t *testing.T) {
		store := trust.NewMemory()

		report, err := inspect(ctx, req, store, dialer, now)
		require.NoError(t, err)
		assert.Equal(t, gemini.TrustUnknown, report.State)
		require.NotNil(t, report.Issue)
		assert.Equal(t, gemini.IssueUnknownCertificate, report.Issue.Kind)
		assert.NoError(t, report.Matcher)
		assert.Equal(t, x509Cert.Raw, report.Cert.Raw)

		entries, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, entries, "inspection records nothing")
	})

	t.Run("trusted", func(t *testing.T) {
		store := trust.NewMemory()
		require.NoError(t, store.TrustAlways(x509Cert, "capsule.test"))

		report, err := inspect(ctx, req, store, dialer, now)
		require.NoError(t, err)
		assert.Equal(t, gemini.TrustTrusted, report.State)
		assert.Nil(t, report.Issue)

		var out bytes.Buffer
		printCertReport(&out, report)
		assert.Contains(t, out.String(), "capsule.test:1965")
		assert.Contains(t, out.String(), gemini.NewFingerprint(x509Cert.Raw).String())
		assert.Contains(t, out.String(), "trusted")
	})

	t.Run("changed", func(t *testing.T) {
		_, other := testhelpers.NewCertificate(t, testhelpers.WithDNSNames("capsule.test"))
		store := trust.NewMemory()
		require.NoError(t, store.TrustAlways(other, "capsule.test"))

		report, err := inspect(ctx, req, store, dialer, now)
		require.NoError(t, err)
		assert.Equal(t, gemini.TrustFingerprintMismatch, report.State)
	})

	t.Run("wrong name", func(t *testing.T) {
		other, err := parseTarget("elsewhere.test")
		require.NoError(t, err)

		report, err := inspect(ctx, other, trust.NewMemory(), dialer, now)
		require.NoError(t, err)
		require.NotNil(t, report.Issue)
		assert.Equal(t, gemini.IssueInvalidCertificate, report.Issue.Kind)
		assert.ErrorIs(t, report.Matcher, gemini.ErrCertNotValidForName)

		var out bytes.Buffer
		printCertReport(&out, report)
		assert.Contains(t, out.String(), tui.CrossMark)
	})
}

func TestPrintEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var empty bytes.Buffer
	printEntries(&empty, nil, "/tmp/known_hosts.yaml", now)
	assert.Contains(t, empty.String(), "No hosts remembered yet")
	assert.Contains(t, empty.String(), "/tmp/known_hosts.yaml")

	fp := gemini.NewFingerprint([]byte("cert"))
	entries := []trust.Entry{
		{Host: "a.test", Fingerprint: fp, NotAfter: now.Add(24 * time.Hour), Persistent: true},
		{Host: "old.test", Fingerprint: fp, NotAfter: now.Add(-24 * time.Hour)},
	}

	var out bytes.Buffer
	printEntries(&out, entries, "", now)
	assert.Contains(t, out.String(), "a.test")
	assert.Contains(t, out.String(), "always")
	assert.Contains(t, out.String(), "expired 2025-12-31")
	assert.Contains(t, out.String(), fp.String())
}

func TestTailLogs(t *testing.T) {
	input := strings.Join([]string{
		"level=INFO msg=one",
		"level=INFO msg=two",
		"level=WARN msg=three",
		"level=ERROR msg=four",
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, tailLogs(&out, strings.NewReader(input), 2))

	assert.NotContains(t, out.String(), "msg=two")
	assert.Contains(t, out.String(), "msg=three")
	assert.Contains(t, out.String(), "msg=four")
}

func TestFollowLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartouche.log")
	require.NoError(t, os.WriteFile(path, []byte("level=INFO msg=old\n"), 0o644))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var out safeBuffer
	done := make(chan error, 1)
	go func() { done <- followLogs(ctx, &out, file) }()

	w, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer w.Close()

	require.Eventually(t, func() bool {
		_, _ = w.WriteString("level=INFO msg=new\n")
		return strings.Contains(out.String(), "msg=new")
	}, 5*time.Second, 150*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.NotContains(t, out.String(), "msg=old")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("plain")))
	assert.Equal(t, 4, exitCode(&exitError{code: 4, err: errors.New("slow down")}))

	wrapped := &exitError{code: 5, err: gemini.ErrCertificateRejected}
	assert.ErrorIs(t, wrapped, gemini.ErrCertificateRejected)
}

func TestAppDelegate(t *testing.T) {
	a := &app{cfg: config.DefaultConfig(), logger: logger.Discard()}
	ctx := context.Background()

	d, err := a.delegate(ctx, config.PolicyPrompt, false)
	require.NoError(t, err)
	assert.Equal(t, policy.Fixed(gemini.DecisionAbort), d)

	d, err = a.delegate(ctx, config.PolicyPrompt, true)
	require.NoError(t, err)
	assert.IsType(t, &tui.Prompt{}, d)

	d, err = a.delegate(ctx, config.PolicyOnce, false)
	require.NoError(t, err)
	assert.Equal(t, policy.Fixed(gemini.DecisionTrustTemporary), d)

	d, err = a.delegate(ctx, config.PolicyAlways, false)
	require.NoError(t, err)
	assert.Equal(t, policy.Fixed(gemini.DecisionTrustAlways), d)

	_, err = a.delegate(ctx, config.PolicyKind("sometimes"), false)
	assert.Error(t, err)

	script := filepath.Join(t.TempDir(), "policy.star")
	require.NoError(t, os.WriteFile(script, []byte("def decide(info):\n    return \"once\"\n"), 0o644))
	a.cfg.Trust.Script = script
	d, err = a.delegate(ctx, config.PolicyScript, false)
	require.NoError(t, err)
	assert.IsType(t, &policy.Script{}, d)
}

func TestSetup(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "logs", "cartouche.log")
	cfgFile := filepath.Join(dir, "cartouche.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
trust:
  store: memory
  policy: abort
log:
  level: debug
  format: json
  file: `+logFile+`
`), 0o644))

	prevConfig, prevLevel := configPath, logLevel
	t.Cleanup(func() { configPath, logLevel = prevConfig, prevLevel })
	configPath, logLevel = cfgFile, "warn"

	a, err := setup()
	require.NoError(t, err)

	assert.IsType(t, &trust.Memory{}, a.store)
	assert.Equal(t, "warn", a.cfg.Log.Level)
	assert.Equal(t, config.PolicyAbort, a.cfg.Trust.Policy)

	a.logger.Warn("hello from setup")
	a.close()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello from setup"`)
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
