package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the package.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider = glog.LoggerProvider

// ResolveLogger returns a provider and a named logger. A nil provider is
// derived from the given logger, a nil logger falls back to the default one.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if logger == nil {
		logger = defaultLogger()
	}

	if provider == nil {
		provider = glog.ProviderFromLogger(logger)
	}

	resolved := provider.GetLogger(name)
	if resolved == nil {
		return glog.ProviderFromLogger(logger), logger
	}

	return provider, resolved
}

func defaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Trace(msg string, args ...any) { d.print("TRC", msg, args...) }
func (d defLogger) Debug(msg string, args ...any) { d.print("DBG", msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.print("INF", msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.print("WRN", msg, args...) }
func (d defLogger) Error(msg string, args ...any) { d.print("ERR", msg, args...) }
func (d defLogger) Fatal(msg string, args ...any) { d.print("FTL", msg, args...) }

func (d defLogger) WithContext(context.Context) Logger { return d }

func (d defLogger) print(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level)
	b.WriteString("] ACCOUNTS ")
	b.WriteString(msg)

	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, " %v", args[i])
	}

	fmt.Println(b.String())
}

type noopLogger struct{}

func (noopLogger) Trace(string, ...any) {}
func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
func (noopLogger) Fatal(string, ...any) {}

func (l noopLogger) WithContext(context.Context) Logger { return l }

// NoopLogger discards every message.
func NoopLogger() Logger {
	return noopLogger{}
}
