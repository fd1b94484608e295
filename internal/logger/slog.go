package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/phsym/console-slog"
)

type slogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// New returns a slog-backed Logger writing to w. With ENV=development the
// output is the coloured console format, otherwise JSON with a "ts" key.
func New(w io.Writer, level Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	lv := &slog.LevelVar{}
	lv.Set(toSlogLevel(level))

	var h slog.Handler
	if os.Getenv("ENV") == "development" {
		h = console.NewHandler(w, &console.HandlerOptions{AddSource: true, Level: lv})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: lv,
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					a.Key = "ts"
				}
				return a
			},
		})
	}
	return &slogLogger{logger: slog.New(h), level: lv}
}

func (l *slogLogger) Debug(msg string, kv ...any) { l.log(slog.LevelDebug, msg, kv...) }
func (l *slogLogger) Info(msg string, kv ...any)  { l.log(slog.LevelInfo, msg, kv...) }
func (l *slogLogger) Warn(msg string, kv ...any)  { l.log(slog.LevelWarn, msg, kv...) }
func (l *slogLogger) Error(msg string, kv ...any) { l.log(slog.LevelError, msg, kv...) }

func (l *slogLogger) With(kv ...any) Logger {
	return &slogLogger{logger: l.logger.With(kv...), level: l.level}
}

func (l *slogLogger) Level() Level {
	switch lv := l.level.Level(); {
	case lv <= slog.LevelDebug:
		return DebugLevel
	case lv <= slog.LevelInfo:
		return InfoLevel
	case lv <= slog.LevelWarn:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

func (l *slogLogger) SetLevel(level Level) { l.level.Set(toSlogLevel(level)) }

// log must be called directly by an exported method: the caller's pc is
// taken at a fixed depth.
func (l *slogLogger) log(level slog.Level, msg string, kv ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	// skip [runtime.Callers, log, exported method]
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(kv...)
	_ = l.logger.Handler().Handle(ctx, r)
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
