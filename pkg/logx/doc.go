// Package logx is descbot's structured logging layer.
//
// Logger wraps zerolog with functional fields. A Service owns the sinks
// (console, append-only JSON file, operator Telegram chat) and can swap them
// at runtime; loggers derived from it follow the swap.
package logx
