package storage

import (
	"context"
	"errors"
	"time"
)

// ErrDisabled is returned by a store that has been closed.
var ErrDisabled = errors.New("storage disabled")

// Config configures the store.
type Config struct {
	Driver      string // "file", "sqlite" or "none"
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// State is the persisted form of the rotation state. Missing stored state
// is equivalent to the zero value.
type State struct {
	CurrentIndex    int     `json:"current_index"`
	IsPaused        bool    `json:"is_paused"`
	DeadlineUnix    *int64  `json:"deadline_unix_seconds"`
	PendingOverride *string `json:"pending_override"`
}

// AuditEntry records one owner command.
type AuditEntry struct {
	At            time.Time `json:"at"`
	RequestID     string    `json:"request_id"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Command       string    `json:"command"`
	Args          string    `json:"args,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms"`
}

type Store interface {
	// LoadState returns the stored state and whether one existed.
	LoadState(ctx context.Context) (State, bool, error)
	SaveState(ctx context.Context, st State) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to n entries, newest first.
	RecentAudit(ctx context.Context, n int) ([]AuditEntry, error)
	Close() error
}
