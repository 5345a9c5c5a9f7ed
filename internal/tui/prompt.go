package tui

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cartouche/internal/logger"
	"github.com/cartouche/internal/policy"
	"github.com/cartouche/pkg/gemini"
)

type promptKeys struct {
	Abort  key.Binding
	Once   key.Binding
	Always key.Binding
}

func (k promptKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Once, k.Always, k.Abort}
}

func (k promptKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultPromptKeys = promptKeys{
	Abort: key.NewBinding(
		key.WithKeys("a", "esc", "q", "ctrl+c"),
		key.WithHelp("a", "abort"),
	),
	Once: key.NewBinding(
		key.WithKeys("o"),
		key.WithHelp("o", "trust once"),
	),
	Always: key.NewBinding(
		key.WithKeys("t"),
		key.WithHelp("t", "trust always"),
	),
}

// PromptModel asks the user what to do about one certificate.
type PromptModel struct {
	info     policy.Info
	keys     promptKeys
	help     help.Model
	width    int
	decision gemini.TrustDecision
	done     bool
}

// NewPromptModel creates a model for info. It decides DecisionAbort until a
// key says otherwise.
func NewPromptModel(info policy.Info) PromptModel {
	return PromptModel{
		info:     info,
		keys:     defaultPromptKeys,
		help:     help.New(),
		width:    80,
		decision: gemini.DecisionAbort,
	}
}

// Decision returns the chosen decision.
func (m PromptModel) Decision() gemini.TrustDecision { return m.decision }

// Done reports whether a key was pressed that ends the prompt.
func (m PromptModel) Done() bool { return m.done }

// Init initializes the model
func (m PromptModel) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m PromptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Once):
			return m.finish(gemini.DecisionTrustTemporary)
		case key.Matches(msg, m.keys.Always):
			return m.finish(gemini.DecisionTrustAlways)
		case key.Matches(msg, m.keys.Abort):
			return m.finish(gemini.DecisionAbort)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
	}
	return m, nil
}

func (m PromptModel) finish(d gemini.TrustDecision) (tea.Model, tea.Cmd) {
	m.decision = d
	m.done = true
	return m, tea.Quit
}

// View renders the prompt
func (m PromptModel) View() string {
	if m.done {
		return m.viewResult()
	}

	var b strings.Builder
	b.WriteString(m.headline())
	b.WriteString("\n\n")
	b.WriteString(Field("Host", m.info.Host))
	b.WriteString("\n")
	b.WriteString(Field("Subject", m.info.Subject))
	b.WriteString("\n")
	if len(m.info.DNSNames) > 0 {
		b.WriteString(Field("Names", strings.Join(m.info.DNSNames, ", ")))
		b.WriteString("\n")
	}
	b.WriteString(Field("Valid", fmt.Sprintf("%s %s %s",
		m.info.NotBefore.UTC().Format(time.DateOnly), ArrowRight,
		m.info.NotAfter.UTC().Format(time.DateOnly))))
	b.WriteString("\n")
	b.WriteString(Field("Fingerprint", ""))
	b.WriteString("\n")
	b.WriteString(HighlightStyle.Render(wrapFingerprint(m.info.Fingerprint)))
	if m.info.Reason != "" {
		b.WriteString("\n\n")
		b.WriteString(ErrorStyle.Render(m.info.Reason))
	}

	box := m.border().Width(min(m.width-4, 76)).Render(b.String())
	return lipgloss.JoinVertical(lipgloss.Left,
		box,
		HelpStyle.Render(m.help.View(m.keys)),
	) + "\n"
}

func (m PromptModel) headline() string {
	switch m.info.Issue {
	case gemini.IssueFingerprintMismatch.String():
		return ErrorStyle.Render(WarningSign + " The certificate for this host has changed")
	case gemini.IssueInvalidCertificate.String():
		return WarningStyle.Render(WarningSign + " The certificate is not valid for this host")
	default:
		return SubtitleStyle.Render(InfoSign + " First visit to this host")
	}
}

func (m PromptModel) border() lipgloss.Style {
	switch m.info.Issue {
	case gemini.IssueFingerprintMismatch.String():
		return ErrorBorderStyle
	case gemini.IssueInvalidCertificate.String():
		return WarningBorderStyle
	default:
		return BorderStyle
	}
}

func (m PromptModel) viewResult() string {
	switch m.decision {
	case gemini.DecisionTrustAlways:
		return SuccessStyle.Render(CheckMark+" trusted "+m.info.Host) + "\n"
	case gemini.DecisionTrustTemporary:
		return SuccessStyle.Render(CheckMark+" trusted "+m.info.Host+" for this session") + "\n"
	default:
		return ErrorStyle.Render(CrossMark+" rejected "+m.info.Host) + "\n"
	}
}

// wrapFingerprint breaks the colon-separated hex into lines of 16 bytes.
func wrapFingerprint(fp string) string {
	algo, hex, ok := strings.Cut(fp, ":")
	if !ok {
		return fp
	}
	pairs := strings.Split(hex, ":")
	lines := []string{algo}
	for len(pairs) > 16 {
		lines = append(lines, strings.Join(pairs[:16], ":"))
		pairs = pairs[16:]
	}
	lines = append(lines, strings.Join(pairs, ":"))
	return strings.Join(lines, "\n")
}

// Prompt is a VerificationDelegate that asks on the terminal. Concurrent
// verifications are asked one after another.
type Prompt struct {
	mu     sync.Mutex
	ctx    context.Context
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

// PromptOption configures a Prompt.
type PromptOption func(*Prompt)

// WithIO replaces stdin and stderr.
func WithIO(in io.Reader, out io.Writer) PromptOption {
	return func(p *Prompt) {
		p.in, p.out = in, out
	}
}

// WithContext aborts a pending prompt when ctx is done.
func WithContext(ctx context.Context) PromptOption {
	return func(p *Prompt) { p.ctx = ctx }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PromptOption {
	return func(p *Prompt) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPrompt creates a terminal prompt reading stdin and drawing on stderr.
func NewPrompt(opts ...PromptOption) *Prompt {
	p := &Prompt{
		ctx:    context.Background(),
		in:     os.Stdin,
		out:    os.Stderr,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DecideTrust shows the certificate and waits for a key. Any failure to run
// the prompt is an abort.
func (p *Prompt) DecideTrust(cert *x509.Certificate, host string, issue gemini.VerificationIssue) gemini.TrustDecision {
	p.mu.Lock()
	defer p.mu.Unlock()

	model := NewPromptModel(policy.Describe(cert, host, issue))
	program := tea.NewProgram(model,
		tea.WithContext(p.ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
	)

	final, err := program.Run()
	if err != nil {
		p.logger.Warn("trust prompt failed", logger.Host(host), logger.Error(err))
		return gemini.DecisionAbort
	}
	m, ok := final.(PromptModel)
	if !ok || !m.Done() {
		return gemini.DecisionAbort
	}
	return m.Decision()
}
