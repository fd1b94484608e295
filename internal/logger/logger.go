// Package logger is the structured logging front end used by the host-side
// services and tools. It satisfies m24c64.Logger, so a Logger can be handed
// straight to a driver through m24c64.Config.
package logger

// Level is a logging severity.
type Level = int8

const (
	DebugLevel Level = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger logs a message with key/value pairs at a given level.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	// With returns a child logger carrying extra key/value pairs.
	With(keysAndValues ...any) Logger
	Level() Level
	SetLevel(level Level)
}

type nop struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nop{} }

func (nop) Debug(string, ...any) {}
func (nop) Info(string, ...any)  {}
func (nop) Warn(string, ...any)  {}
func (nop) Error(string, ...any) {}
func (n nop) With(...any) Logger { return n }
func (nop) Level() Level         { return ErrorLevel }
func (nop) SetLevel(Level)       {}
