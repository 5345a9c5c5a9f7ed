package tui

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrInputCancelled is returned by Ask when the user leaves without answering.
var ErrInputCancelled = errors.New("input cancelled")

// InputModel reads one line of text for a capsule's input request.
type InputModel struct {
	prompt    string
	input     textinput.Model
	submitted bool
	cancelled bool
}

// NewInputModel creates a model asking prompt. Sensitive input is masked.
func NewInputModel(prompt string, sensitive bool) InputModel {
	ti := textinput.New()
	ti.Placeholder = "answer"
	ti.CharLimit = 1024
	ti.Width = 60
	if sensitive {
		ti.EchoMode = textinput.EchoPassword
		ti.EchoCharacter = '•'
	}
	ti.Focus()

	return InputModel{prompt: prompt, input: ti}
}

// Value returns the text entered so far.
func (m InputModel) Value() string { return m.input.Value() }

// Submitted reports whether enter was pressed.
func (m InputModel) Submitted() bool { return m.submitted }

// Init initializes the model
func (m InputModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages
func (m InputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			m.submitted = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the input
func (m InputModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}
	var b strings.Builder
	b.WriteString(SubtitleStyle.Render(m.prompt))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("enter: submit • esc: cancel"))
	b.WriteString("\n")
	return b.String()
}

// Ask shows prompt on out and returns the line typed on in.
func Ask(ctx context.Context, in io.Reader, out io.Writer, prompt string, sensitive bool) (string, error) {
	program := tea.NewProgram(NewInputModel(prompt, sensitive),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	final, err := program.Run()
	if err != nil {
		return "", err
	}
	m, ok := final.(InputModel)
	if !ok || !m.Submitted() {
		return "", ErrInputCancelled
	}
	return m.Value(), nil
}
