package logx

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// Slog returns a *slog.Logger backed by the service's current sinks.
// Handlers hold only a reference to the service, so Apply() hot-swaps
// reach slog callers without rebuilding their loggers.
func (s *Service) Slog() *slog.Logger {
	return slog.New(&slogBridge{svc: s})
}

type slogBridge struct {
	svc    *Service
	attrs  []slog.Attr
	prefix string // accumulated group path, "a.b."
}

func (b *slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	root := b.svc.current()
	return slogToZero(level) >= root.GetLevel()
}

func (b *slogBridge) Handle(_ context.Context, rec slog.Record) error {
	root := b.svc.current()
	e := root.WithLevel(slogToZero(rec.Level))
	for _, a := range b.attrs {
		appendAttr(e, b.prefix, a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		appendAttr(e, b.prefix, a)
		return true
	})
	e.Msg(rec.Message)
	return nil
}

func (b *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(b.attrs)+len(attrs))
	merged = append(merged, b.attrs...)
	merged = append(merged, attrs...)
	return &slogBridge{svc: b.svc, attrs: merged, prefix: b.prefix}
}

func (b *slogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	return &slogBridge{svc: b.svc, attrs: b.attrs, prefix: b.prefix + name + "."}
}

func appendAttr(e *zerolog.Event, prefix string, a slog.Attr) {
	key := prefix + a.Key
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		e.Str(key, v.String())
	case slog.KindInt64:
		e.Int64(key, v.Int64())
	case slog.KindUint64:
		e.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		e.Float64(key, v.Float64())
	case slog.KindBool:
		e.Bool(key, v.Bool())
	case slog.KindDuration:
		e.Dur(key, v.Duration())
	case slog.KindTime:
		e.Time(key, v.Time())
	case slog.KindGroup:
		for _, ga := range v.Group() {
			appendAttr(e, key+".", ga)
		}
	default:
		e.Interface(key, v.Any())
	}
}

func slogToZero(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelDebug:
		return zerolog.TraceLevel
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
