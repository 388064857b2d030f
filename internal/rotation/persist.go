package rotation

import (
	"context"
	"time"

	"descbot/internal/storage"
	"descbot/pkg/logx"
)

// ToPersistent converts s to its stored form. The deadline is kept to the
// second.
func (s State) ToPersistent() storage.State {
	out := storage.State{CurrentIndex: s.Index, IsPaused: s.Paused}
	if s.Override != nil {
		v := *s.Override
		out.PendingOverride = &v
	}
	if s.Deadline != nil {
		u := s.Deadline.Unix()
		out.DeadlineUnix = &u
	}
	return out
}

// FromPersistent restores a State. A negative index is treated as 0.
func FromPersistent(p storage.State) State {
	st := State{Index: max(0, p.CurrentIndex), Paused: p.IsPaused}
	if p.PendingOverride != nil {
		st.SetOverride(*p.PendingOverride)
	}
	if p.DeadlineUnix != nil {
		t := time.Unix(*p.DeadlineUnix, 0)
		st.Deadline = &t
	}
	return st
}

// Load reads the stored state. Missing or unreadable state yields defaults.
func Load(ctx context.Context, store storage.Store, log logx.Logger) State {
	if store == nil {
		return State{}
	}
	p, found, err := store.LoadState(ctx)
	if err != nil {
		log.Warn("stored rotation state unreadable, starting from defaults", logx.Err(err))
		return State{}
	}
	if !found {
		return State{}
	}
	return FromPersistent(p)
}
