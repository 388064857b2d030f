package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is a Store that keeps everything in process memory. It backs the
// "none" driver and tests.
type Memory struct {
	mu     sync.Mutex
	state  *State
	audit  []AuditEntry
	saves  int
	closed bool

	// SaveErr, when set, is returned by SaveState.
	SaveErr error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) LoadState(context.Context) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return State{}, false, nil
	}
	return cloneState(*m.state), true, nil
}

func (m *Memory) SaveState(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	if m.SaveErr != nil {
		return m.SaveErr
	}
	cp := cloneState(st)
	m.state = &cp
	m.saves++
	return nil
}

// Saves counts successful SaveState calls.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) RecentAudit(_ context.Context, n int) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newestFirst(m.audit, n), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func cloneState(st State) State {
	if st.DeadlineUnix != nil {
		v := *st.DeadlineUnix
		st.DeadlineUnix = &v
	}
	if st.PendingOverride != nil {
		v := *st.PendingOverride
		st.PendingOverride = &v
	}
	return st
}

func newestFirst(in []AuditEntry, n int) []AuditEntry {
	if n <= 0 || n > len(in) {
		n = len(in)
	}
	out := make([]AuditEntry, 0, n)
	for i := len(in) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, in[i])
	}
	return out
}
