package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/cartouche/internal/config"
	"github.com/cartouche/internal/logger"
	"github.com/cartouche/internal/policy"
	"github.com/cartouche/internal/trust"
	"github.com/cartouche/internal/tui"
	"github.com/cartouche/pkg/gemini"
)

// app holds what every command needs after configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	logFile *os.File
	store   trust.Store
}

func defaultConfigHint() string {
	return config.DefaultPath()
}

// setup loads configuration, opens the log destination and the trust store.
func setup() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	a := &app{cfg: cfg}
	if a.logger, a.logFile, err = openLogger(cfg.Log); err != nil {
		return nil, err
	}

	a.store, err = trust.Open(cfg.Trust, trust.WithLogger(a.logger.With(logger.Component("trust"))))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open trust store: %w", err)
	}
	return a, nil
}

func openLogger(cfg config.Log) (*slog.Logger, *os.File, error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	format, err := logger.ParseFormat(cfg.Format)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = os.Stderr
	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = file
	}

	return logger.New(logger.WithLevel(level), logger.WithFormat(format), logger.WithOutput(out)), file, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close trust store", logger.Error(err))
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// delegate builds the verification delegate for kind. The prompt needs a
// terminal; without one it aborts.
func (a *app) delegate(ctx context.Context, kind config.PolicyKind, interactive bool) (gemini.VerificationDelegate, error) {
	switch kind {
	case config.PolicyPrompt:
		if !interactive {
			a.logger.Warn("no terminal for trust prompt, unknown certificates will be rejected")
			return policy.Fixed(gemini.DecisionAbort), nil
		}
		return tui.NewPrompt(tui.WithContext(ctx), tui.WithLogger(a.logger)), nil
	case config.PolicyScript:
		return policy.LoadScript(a.cfg.Trust.Script, a.logger)
	default:
		d, err := policy.ParseDecision(string(kind))
		if err != nil {
			return nil, fmt.Errorf("unknown trust policy %q", kind)
		}
		return policy.Fixed(d), nil
	}
}

// client returns a Client configured from the client section.
func (a *app) client(delegate gemini.VerificationDelegate) *gemini.Client {
	verifier := gemini.NewCertificateVerifier(delegate, a.store,
		gemini.WithVerifierLogger(a.logger.With(logger.Component("verifier"))),
	)
	return &gemini.Client{
		Policy:        verifier,
		DialTimeout:   a.cfg.Client.DialTimeout,
		ReadTimeout:   a.cfg.Client.ReadTimeout,
		WriteTimeout:  a.cfg.Client.WriteTimeout,
		MaxInterrupts: a.cfg.Client.MaxInterrupts,
		Logger:        a.logger.With(logger.Component("client")),
	}
}

// interactive reports whether both stdin and stderr are terminals.
func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

func errorLine(err error) string {
	return tui.ErrorStyle.Render(tui.CrossMark + " " + err.Error())
}
