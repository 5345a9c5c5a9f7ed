package logger

import (
	"log/slog"
	"time"
)

// Component tags records with the subsystem that produced them.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Error returns an empty Attr for nil errors.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func Host(host string) slog.Attr {
	return slog.String("host", host)
}

func Capsule(name string) slog.Attr {
	return slog.String("capsule", name)
}

func URL(u string) slog.Attr {
	return slog.String("url", u)
}

// Fingerprint accepts anything with a String method, typically gemini.Fingerprint.
func Fingerprint(fp interface{ String() string }) slog.Attr {
	return slog.String("fingerprint", fp.String())
}

func RunID(id string) slog.Attr {
	return slog.String("run_id", id)
}

func Latency(d time.Duration) slog.Attr {
	return slog.Duration("latency", d)
}
