//go:build rp2040

package main

import (
	"io"

	"m24c64-go/internal/logger"
	"m24c64-go/x/conv"
)

// printLogger mirrors every line to the USB console with println and, when
// out is set, to a UART. slog is too heavy for the target.
type printLogger struct {
	out   io.Writer
	level logger.Level
	kv    []any
}

func (l *printLogger) Debug(msg string, kv ...any) { l.log(logger.DebugLevel, "DBG", msg, kv) }
func (l *printLogger) Info(msg string, kv ...any)  { l.log(logger.InfoLevel, "INF", msg, kv) }
func (l *printLogger) Warn(msg string, kv ...any)  { l.log(logger.WarnLevel, "WRN", msg, kv) }
func (l *printLogger) Error(msg string, kv ...any) { l.log(logger.ErrorLevel, "ERR", msg, kv) }

func (l *printLogger) With(kv ...any) logger.Logger {
	c := *l
	c.kv = append(append([]any(nil), l.kv...), kv...)
	return &c
}

func (l *printLogger) Level() logger.Level         { return l.level }
func (l *printLogger) SetLevel(level logger.Level) { l.level = level }

func (l *printLogger) log(level logger.Level, tag, msg string, kv []any) {
	if level < l.level {
		return
	}
	line := make([]byte, 0, 96)
	line = append(line, "[m24c64] "...)
	line = append(line, tag...)
	line = append(line, ' ')
	line = append(line, msg...)
	line = appendKV(line, l.kv)
	line = appendKV(line, kv)
	println(string(line))
	if l.out != nil {
		line = append(line, '\r', '\n')
		_, _ = l.out.Write(line)
	}
}

func appendKV(b []byte, kv []any) []byte {
	for i := 0; i+1 < len(kv); i += 2 {
		b = append(b, ' ')
		if k, ok := kv[i].(string); ok {
			b = append(b, k...)
		}
		b = append(b, '=')
		b = appendValue(b, kv[i+1])
	}
	return b
}

func appendValue(b []byte, v any) []byte {
	switch x := v.(type) {
	case string:
		return append(b, x...)
	case int:
		return conv.AppendInt(b, x)
	case uint8:
		return conv.AppendHex(b, x, 2)
	case uint16:
		return conv.AppendHex(b, x, 2)
	case uint32:
		return conv.AppendHex(b, x, 4)
	case []byte:
		return conv.AppendBytes(b, x, ':')
	case error:
		return append(b, x.Error()...)
	default:
		return append(b, '?')
	}
}
