package main

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"
)

func newLogger(output io.Writer, level slog.Level, format string) *slog.Logger {
	if format == logFormatText {
		return slog.New(tint.NewHandler(output, &tint.Options{
			Level:      level,
			TimeFormat: "2006-01-02 15:04:05.000Z07:00",
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Value.Kind() == slog.KindAny {
					if _, ok := a.Value.Any().(error); ok {
						return tint.Attr(9, a)
					}
				}
				return a
			},
		}))
	}
	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
}
