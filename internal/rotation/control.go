package rotation

import (
	"context"
	"errors"
	"time"

	"descbot/internal/descriptions"
	"descbot/pkg/logx"
)

var (
	ErrSkipWhilePaused = errors.New("cannot skip while paused")
	ErrAlreadyPaused   = errors.New("already paused")
	ErrNotPaused       = errors.New("already running")
	ErrNoOverride      = errors.New("no override pending")
)

// mutate applies fn under the write lock and persists the result. When
// moved is true the cycle in flight (if any) will not commit its position.
func (s *Scheduler) mutate(ctx context.Context, moved bool, fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&s.st); err != nil {
		return err
	}
	if moved {
		s.posRev++
	}
	s.persistLocked(ctx)
	return nil
}

// Skip makes the current description due again: the deadline is cleared and
// its timer restarts on the next cycle.
func (s *Scheduler) Skip(ctx context.Context) error {
	err := s.mutate(ctx, true, func(st *State) error {
		if st.Paused {
			return ErrSkipWhilePaused
		}
		st.ClearDeadline()
		return nil
	})
	if err == nil {
		s.log.Info("skip requested")
		s.Trigger()
	}
	return err
}

// Next jumps to the following description.
func (s *Scheduler) Next(ctx context.Context) (int, descriptions.Description, error) {
	count := s.catalog.Count()
	if count == 0 {
		return 0, descriptions.Description{}, descriptions.ErrNoDescriptions
	}
	var idx int
	_ = s.mutate(ctx, true, func(st *State) error {
		idx = (max(0, st.Index) + 1) % count
		st.SetIndex(idx)
		return nil
	})
	d, _ := s.catalog.Get(idx)
	s.log.Info("jumped to next description", logx.Int("index", idx), logx.String("id", d.ID))
	s.Trigger()
	return idx, d, nil
}

// Goto resolves target as an id or 1-based position and jumps to it.
func (s *Scheduler) Goto(ctx context.Context, target string) (int, descriptions.Description, error) {
	idx, d, err := s.catalog.Find(target)
	if err != nil {
		return 0, descriptions.Description{}, err
	}
	_ = s.mutate(ctx, true, func(st *State) error {
		st.SetIndex(idx)
		return nil
	})
	s.log.Info("jumped to description", logx.Int("index", idx), logx.String("id", d.ID))
	s.Trigger()
	return idx, d, nil
}

func (s *Scheduler) Pause(ctx context.Context) error {
	err := s.mutate(ctx, false, func(st *State) error {
		if st.Paused {
			return ErrAlreadyPaused
		}
		st.Paused = true
		return nil
	})
	if err == nil {
		s.log.Info("rotation paused")
	}
	return err
}

func (s *Scheduler) Resume(ctx context.Context) error {
	err := s.mutate(ctx, false, func(st *State) error {
		if !st.Paused {
			return ErrNotPaused
		}
		st.Paused = false
		return nil
	})
	if err == nil {
		s.log.Info("rotation resumed")
		s.Trigger()
	}
	return err
}

// SetOverride queues text for the next update and makes that update due now.
func (s *Scheduler) SetOverride(ctx context.Context, text string) error {
	_ = s.mutate(ctx, true, func(st *State) error {
		st.SetOverride(text)
		st.ClearDeadline()
		return nil
	})
	s.log.Info("override set", logx.Int("len", descriptions.Length(text)))
	s.Trigger()
	return nil
}

// ClearOverride drops a pending override and returns its text.
func (s *Scheduler) ClearOverride(ctx context.Context) (string, error) {
	var text string
	err := s.mutate(ctx, true, func(st *State) error {
		v, ok := st.ConsumeOverride()
		if !ok {
			return ErrNoOverride
		}
		text = v
		return nil
	})
	if err == nil {
		s.log.Info("override cleared")
	}
	return text, err
}

// Reconcile re-clamps the index after the description list changed size.
// It reports whether the index was reset.
func (s *Scheduler) Reconcile(ctx context.Context, count int) bool {
	s.mu.Lock()
	clamped := s.st.Index != 0 && s.st.Index >= count
	if clamped {
		s.st.SetIndex(0)
		s.posRev++
		s.persistLocked(ctx)
	}
	s.mu.Unlock()
	if clamped {
		s.log.Info("index reset after description list shrank", logx.Int("count", count))
		s.Trigger()
	}
	return clamped
}

// Delete removes an entry through del and keeps the current description
// selected: del runs under the state lock, so no cycle can pick a
// description between the catalog edit and the index adjustment. Deleting
// the current entry makes the one that took its place due immediately.
func (s *Scheduler) Delete(ctx context.Context, del func() (int, descriptions.Description, error)) (int, descriptions.Description, error) {
	var (
		removed int
		d       descriptions.Description
		due     bool
	)
	err := s.mutate(ctx, true, func(st *State) error {
		var err error
		if removed, d, err = del(); err != nil {
			return err
		}
		due = adjustForDelete(st, removed, s.catalog.Count())
		return nil
	})
	if err != nil {
		return -1, descriptions.Description{}, err
	}
	s.log.Info("description deleted", logx.Int("position", removed), logx.String("id", d.ID))
	if due {
		s.Trigger()
	}
	return removed, d, nil
}

// adjustForDelete shifts st past the entry removed from a list that now
// holds count entries, then applies the clamp rule. It reports whether an
// update became due.
func adjustForDelete(st *State, removed, count int) bool {
	due := false
	switch {
	case removed < st.Index:
		st.Index--
	case removed == st.Index:
		st.ClearDeadline()
		due = true
	}
	if st.Index != 0 && st.Index >= count {
		st.SetIndex(0)
		due = true
	}
	return due
}

// Reset returns to defaults: first entry, running, nothing pending.
func (s *Scheduler) Reset(ctx context.Context) {
	_ = s.mutate(ctx, true, func(st *State) error {
		*st = State{}
		return nil
	})
	s.log.Info("rotation state reset")
	s.Trigger()
}

// Snapshot returns a copy of the current state.
func (s *Scheduler) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.clone()
}

type Status struct {
	Paused      bool
	Index       int
	Count       int
	Current     descriptions.Description
	HasCurrent  bool
	Override    string
	HasOverride bool
	Remaining   time.Duration
	HasDeadline bool
	Deadline    time.Time
	LastApplied time.Time
	LastError   string
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	st := s.st.clone()
	out := Status{LastApplied: s.lastApplied, LastError: s.lastErr}
	s.mu.RUnlock()

	out.Paused = st.Paused
	out.Index = st.Index
	out.Count = s.catalog.Count()
	out.Current, out.HasCurrent = s.catalog.Get(st.Index)
	if st.Override != nil {
		out.Override, out.HasOverride = *st.Override, true
	}
	out.Remaining, out.HasDeadline = st.TimeRemaining(s.clock.Now())
	if st.Deadline != nil {
		out.Deadline = *st.Deadline
	}
	return out
}
