package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// dsn 可能包含数据库密码
var sensitiveKeys = []string{"dsn"}

var logClosers sync.Map

// newLogger 控制台输出 + 可选的滚动日志文件
func newLogger(w io.Writer, c Config) *slog.Logger {
	timeFormat := time.RFC3339
	if c.Log.Env == "dev" {
		timeFormat = time.Kitchen
	}

	var h slog.Handler = tint.NewHandler(w, &tint.Options{
		Level:      parseLevel(c.Log.ConsoleLevel),
		TimeFormat: timeFormat,
	})

	var closer func() error
	if c.Log.File != "" {
		fw := &lumberjack.Logger{
			Filename:   c.Log.File,
			MaxSize:    5,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		closer = fw.Close

		h = fanout{h, slog.NewJSONHandler(fw, &slog.HandlerOptions{Level: parseLevel(c.Log.FileLevel)})}
	}

	l := slog.New(newRedactHandler(h, sensitiveKeys...)).With(slog.String("driver", c.Driver))
	if closer != nil {
		logClosers.Store(l, closer)
	}
	return l
}

// closeLogger 关闭日志文件
func closeLogger(l *slog.Logger) error {
	if c, ok := logClosers.LoadAndDelete(l); ok {
		return c.(func() error)()
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type redactHandler struct {
	inner slog.Handler
	keys  map[string]struct{}
}

func newRedactHandler(inner slog.Handler, keys ...string) *redactHandler {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[strings.ToLower(k)] = struct{}{}
	}
	return &redactHandler{inner: inner, keys: m}
}

func (h *redactHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

func (h *redactHandler) Handle(ctx context.Context, r slog.Record) error {
	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(h.redact(a))
		return true
	})
	return h.inner.Handle(ctx, nr)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = h.redact(a)
	}
	return &redactHandler{inner: h.inner.WithAttrs(out), keys: h.keys}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{inner: h.inner.WithGroup(name), keys: h.keys}
}

func (h *redactHandler) redact(a slog.Attr) slog.Attr {
	if _, ok := h.keys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

// fanout 同时写入多个 handler
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
