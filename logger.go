package access

import (
	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the package. Messages are
// followed by key/value pairs. glog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggerProvider hands out named loggers, one per component.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// LoggerProviderFunc adapts a function to the LoggerProvider interface.
type LoggerProviderFunc func(name string) Logger

// GetLogger implements LoggerProvider.
func (f LoggerProviderFunc) GetLogger(name string) Logger {
	if f == nil {
		return nil
	}
	return f(name)
}

// GlogProvider wraps a glog base logger so components can resolve named loggers.
func GlogProvider(base *glog.BaseLogger) LoggerProvider {
	if base == nil {
		return nil
	}
	return LoggerProviderFunc(func(name string) Logger {
		return base.GetLogger(name)
	})
}

var defaultBase = glog.NewLogger(
	glog.WithName("access"),
	glog.WithAddSource(false),
)

func defaultProvider() LoggerProvider {
	return GlogProvider(defaultBase)
}

// ResolveLogger returns the provider and the logger a component named name
// should use. An explicit logger wins over the provider.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider == nil {
		provider = defaultProvider()
	}

	if logger != nil {
		return LoggerProviderFunc(func(string) Logger { return logger }), logger
	}

	if resolved := provider.GetLogger(name); resolved != nil {
		return provider, resolved
	}

	return provider, noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
