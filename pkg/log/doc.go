// Package log provides a small structured logging facade over slog with
// typed fields and level parsing. Components take a Logger so tests can
// swap in NewNop.
package log
