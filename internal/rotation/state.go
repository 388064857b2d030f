package rotation

import "time"

// State is the rotation position. Its methods are pure: "now" always comes
// from the caller's clock.
type State struct {
	Index    int
	Paused   bool
	Override *string    // one-shot text applied instead of the current entry
	Deadline *time.Time // nil: an update is owed immediately
}

func (s State) HasDeadline() bool { return s.Deadline != nil }

// IsExpired is true when no deadline is set or it has passed.
func (s State) IsExpired(now time.Time) bool {
	return s.Deadline == nil || !now.Before(*s.Deadline)
}

// TimeRemaining reports max(0, deadline-now), or false without a deadline.
func (s State) TimeRemaining(now time.Time) (time.Duration, bool) {
	if s.Deadline == nil {
		return 0, false
	}
	return max(0, s.Deadline.Sub(now)), true
}

// Advance moves to the next entry, wrapping at count.
func (s *State) Advance(count int) {
	if count <= 0 {
		return
	}
	s.Index = (max(0, s.Index) + 1) % count
}

func (s *State) SetDeadline(now time.Time, d time.Duration) {
	t := now.Add(d)
	s.Deadline = &t
}

func (s *State) ClearDeadline() { s.Deadline = nil }

// SetIndex jumps to i and makes the update due immediately.
func (s *State) SetIndex(i int) {
	s.Index = i
	s.ClearDeadline()
}

func (s *State) SetOverride(text string) { s.Override = &text }

// ConsumeOverride clears the pending override and returns it.
func (s *State) ConsumeOverride() (string, bool) {
	if s.Override == nil {
		return "", false
	}
	v := *s.Override
	s.Override = nil
	return v, true
}

// clone returns a copy that shares no pointers with s.
func (s State) clone() State {
	out := State{Index: s.Index, Paused: s.Paused}
	if s.Override != nil {
		v := *s.Override
		out.Override = &v
	}
	if s.Deadline != nil {
		t := *s.Deadline
		out.Deadline = &t
	}
	return out
}
