package testutil

import "log/slog"

// DiscardLogger returns a slog.Logger that drops all output. Use it to keep
// test logs quiet.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
