//go:build !go1.24

package logger

import (
	"context"
	"log/slog"
)

// discardHandler mirrors slog.DiscardHandler (Go 1.24+) for older toolchains.
var discardHandler slog.Handler = discardHandlerCompat{}

type discardHandlerCompat struct{}

func (discardHandlerCompat) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandlerCompat) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandlerCompat) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandlerCompat) WithGroup(string) slog.Handler           { return d }
