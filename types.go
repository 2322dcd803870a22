package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Logger is the logging contract used across the package. It matches the
// method set of glog.Logger so a scoped glog logger can be passed as is.
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

// Clock returns the current time. Inject a fixed clock in tests.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

func normalizeClock(c Clock) Clock {
	if c == nil {
		return systemClock
	}
	return c
}

// TransactionManager runs f inside a database transaction.
type TransactionManager interface {
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
}

// ClientInfo describes the device a session was opened from.
type ClientInfo struct {
	UserAgent string `json:"user_agent,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// ExternalIdentity is a verified identity assertion from the upstream
// provider exchange.
type ExternalIdentity struct {
	Provider  string `json:"provider"`
	SubjectID string `json:"subject_id"`
	Email     string `json:"email"`
	Client    ClientInfo
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) { d.print("ERR", msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.print("WRN", msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.print("INF", msg, args...) }
func (d defLogger) Debug(msg string, args ...any) { d.print("DBG", msg, args...) }

func (defLogger) print(level, msg string, args ...any) {
	fmt.Println(append([]any{"[" + level + "] AUTH " + msg}, args...)...)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger discards every entry.
func NoopLogger() Logger { return noopLogger{} }

func resolveLogger(name string, provider LoggerProvider, fallback Logger) Logger {
	if provider != nil {
		if lgr := provider.GetLogger(name); lgr != nil {
			return lgr
		}
	}
	if fallback != nil {
		return fallback
	}
	return defLogger{}
}
