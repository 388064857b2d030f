// Package storage persists the rotation state and an audit trail of owner
// commands.
//
// Backends:
//   - "file":   <prefix>.state.json (atomic replace) and <prefix>.audit.jsonl
//   - "sqlite": single database file (modernc.org/sqlite, no cgo)
//   - "none":   in-memory only; state is lost on restart
package storage
