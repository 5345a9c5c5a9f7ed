package tui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartouche/internal/policy"
	"github.com/cartouche/internal/testhelpers"
	"github.com/cartouche/pkg/gemini"
)

func runeKey(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func testInfo(t *testing.T, issue gemini.VerificationIssue) policy.Info {
	_, cert := testhelpers.NewCertificate(t, testhelpers.WithDNSNames("example.org"))
	return policy.Describe(cert, "example.org", issue)
}

func TestPromptModelKeys(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
		want gemini.TrustDecision
	}{
		{"once", runeKey("o"), gemini.DecisionTrustTemporary},
		{"always", runeKey("t"), gemini.DecisionTrustAlways},
		{"abort", runeKey("a"), gemini.DecisionAbort},
		{"quit", runeKey("q"), gemini.DecisionAbort},
		{"escape", tea.KeyMsg{Type: tea.KeyEsc}, gemini.DecisionAbort},
		{"interrupt", tea.KeyMsg{Type: tea.KeyCtrlC}, gemini.DecisionAbort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewPromptModel(testInfo(t, gemini.VerificationIssue{Kind: gemini.IssueUnknownCertificate}))

			next, cmd := m.Update(tt.msg)
			got := next.(PromptModel)

			assert.True(t, got.Done())
			assert.Equal(t, tt.want, got.Decision())
			require.NotNil(t, cmd)
			assert.IsType(t, tea.QuitMsg{}, cmd())
		})
	}
}

func TestPromptModelIgnoresOtherKeys(t *testing.T) {
	m := NewPromptModel(testInfo(t, gemini.VerificationIssue{Kind: gemini.IssueUnknownCertificate}))

	next, cmd := m.Update(runeKey("x"))
	got := next.(PromptModel)

	assert.False(t, got.Done())
	assert.Nil(t, cmd)
	assert.Equal(t, gemini.DecisionAbort, got.Decision())
}

func TestPromptModelView(t *testing.T) {
	t.Run("unknown", func(t *testing.T) {
		info := testInfo(t, gemini.VerificationIssue{Kind: gemini.IssueUnknownCertificate})
		view := NewPromptModel(info).View()

		assert.Contains(t, view, "First visit")
		assert.Contains(t, view, "example.org")
		assert.Contains(t, view, "SHA-256")
		assert.Contains(t, view, "trust always")
	})

	t.Run("mismatch", func(t *testing.T) {
		info := testInfo(t, gemini.VerificationIssue{Kind: gemini.IssueFingerprintMismatch})
		view := NewPromptModel(info).View()

		assert.Contains(t, view, "has changed")
	})

	t.Run("invalid", func(t *testing.T) {
		info := testInfo(t, gemini.VerificationIssue{
			Kind:   gemini.IssueInvalidCertificate,
			Reason: errors.New("certificate has expired"),
		})
		view := NewPromptModel(info).View()

		assert.Contains(t, view, "not valid for this host")
		assert.Contains(t, view, "certificate has expired")
	})

	t.Run("result", func(t *testing.T) {
		m := NewPromptModel(testInfo(t, gemini.VerificationIssue{}))
		next, _ := m.Update(runeKey("t"))

		assert.Contains(t, next.View(), "trusted example.org")
	})
}

func TestWrapFingerprint(t *testing.T) {
	fp := gemini.NewFingerprint([]byte("cert")).String()

	lines := strings.Split(wrapFingerprint(fp), "\n")

	require.Len(t, lines, 3)
	assert.Equal(t, "SHA-256", lines[0])
	assert.Len(t, strings.Split(lines[1], ":"), 16)
	assert.Len(t, strings.Split(lines[2], ":"), 16)
	assert.Equal(t, "garbage", wrapFingerprint("garbage"))
}

func TestPromptDecideTrust(t *testing.T) {
	_, cert := testhelpers.NewCertificate(t, testhelpers.WithDNSNames("example.org"))
	var out bytes.Buffer

	p := NewPrompt(WithIO(strings.NewReader("t"), &out))
	got := p.DecideTrust(cert, "example.org", gemini.VerificationIssue{Kind: gemini.IssueUnknownCertificate})

	assert.Equal(t, gemini.DecisionTrustAlways, got)
}
