package policy

import (
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/cartouche/internal/logger"
	"github.com/cartouche/pkg/gemini"
)

// entryPoint is the function every policy script must define. It receives the
// verification as an object and returns "abort", "once" or "always".
const entryPoint = "decide"

const (
	maxStarlarkSteps = 1_000_000
	scriptTimeout    = time.Second
)

// Script evaluates a user policy written in Starlark (.star) or JavaScript (.js).
// Failures and unknown answers abort.
type Script struct {
	name   string
	logger *slog.Logger
	eval   func(Info) (string, error)
}

// LoadScript compiles the policy at path.
func LoadScript(path string, log *slog.Logger) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy script: %w", err)
	}
	return NewScript(path, string(src), log)
}

// NewScript compiles src. The language is chosen by the extension of name.
func NewScript(name, src string, log *slog.Logger) (*Script, error) {
	if log == nil {
		log = logger.Discard()
	}
	s := &Script{name: name, logger: log.With(logger.Component("policy"))}

	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".star", ".bzl", ".py":
		s.eval, err = compileStarlark(name, src, s.logger)
	case ".js":
		s.eval, err = compileJS(name, src)
	default:
		return nil, fmt.Errorf("policy script %s: unsupported extension", name)
	}
	if err != nil {
		return nil, fmt.Errorf("policy script %s: %w", name, err)
	}
	return s, nil
}

func (s *Script) DecideTrust(cert *x509.Certificate, host string, issue gemini.VerificationIssue) gemini.TrustDecision {
	answer, err := s.eval(Describe(cert, host, issue))
	if err != nil {
		s.logger.Warn("policy script failed", logger.Host(host), logger.Error(err))
		return gemini.DecisionAbort
	}
	decision, err := ParseDecision(answer)
	if err != nil {
		s.logger.Warn("policy script answered badly", logger.Host(host), logger.Error(err))
	}
	return decision
}

func compileStarlark(name, src string, log *slog.Logger) (func(Info) (string, error), error) {
	thread := &starlark.Thread{Name: "load"}
	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, name, src, nil)
	if err != nil {
		return nil, err
	}
	fn, ok := globals[entryPoint].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("no %s function", entryPoint)
	}

	// Globals are frozen after execution, so calls on fresh threads may run
	// concurrently.
	return func(info Info) (string, error) {
		thread := &starlark.Thread{
			Name:  "decide",
			Print: func(_ *starlark.Thread, msg string) { log.Debug(msg) },
		}
		thread.SetMaxExecutionSteps(maxStarlarkSteps)

		v, err := starlark.Call(thread, fn, starlark.Tuple{starlarkInfo(info)}, nil)
		if err != nil {
			return "", err
		}
		answer, ok := starlark.AsString(v)
		if !ok {
			return "", fmt.Errorf("%s returned %s, want string", entryPoint, v.Type())
		}
		return answer, nil
	}, nil
}

func starlarkInfo(info Info) starlark.Value {
	names := make([]starlark.Value, len(info.DNSNames))
	for i, n := range info.DNSNames {
		names[i] = starlark.String(n)
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"host":        starlark.String(info.Host),
		"issue":       starlark.String(info.Issue),
		"reason":      starlark.String(info.Reason),
		"fingerprint": starlark.String(info.Fingerprint),
		"subject":     starlark.String(info.Subject),
		"dns_names":   starlark.NewList(names),
		"not_before":  starlark.MakeInt64(info.NotBefore.Unix()),
		"not_after":   starlark.MakeInt64(info.NotAfter.Unix()),
	})
}

func compileJS(name, src string) (func(Info) (string, error), error) {
	vm := goja.New()
	if _, err := vm.RunScript(name, src); err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(vm.Get(entryPoint))
	if !ok {
		return nil, fmt.Errorf("no %s function", entryPoint)
	}

	var mu sync.Mutex
	return func(info Info) (string, error) {
		mu.Lock()
		defer mu.Unlock()

		timer := time.AfterFunc(scriptTimeout, func() { vm.Interrupt("policy timed out") })
		defer func() {
			timer.Stop()
			vm.ClearInterrupt()
		}()

		v, err := fn(goja.Undefined(), vm.ToValue(map[string]any{
			"host":        info.Host,
			"issue":       info.Issue,
			"reason":      info.Reason,
			"fingerprint": info.Fingerprint,
			"subject":     info.Subject,
			"dns_names":   info.DNSNames,
			"not_before":  info.NotBefore.Unix(),
			"not_after":   info.NotAfter.Unix(),
		}))
		if err != nil {
			return "", err
		}
		if goja.IsUndefined(v) || goja.IsNull(v) {
			return "", fmt.Errorf("%s returned nothing", entryPoint)
		}
		return v.String(), nil
	}, nil
}
