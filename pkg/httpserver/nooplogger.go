package httpserver

import "log/slog"

// newNoopLogger is used when no logger is supplied.
func newNoopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
