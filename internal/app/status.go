package app

import (
	"context"
	"errors"
	"time"

	"descbot/internal/eventbus"
	"descbot/internal/rotation"
	"descbot/internal/runtime/supervisor"
	"descbot/internal/task/scheduler"
	"descbot/pkg/logx"
)

type rotationView struct {
	Paused      bool      `json:"paused"`
	Index       int       `json:"index"`
	Count       int       `json:"count"`
	CurrentID   string    `json:"current_id,omitempty"`
	CurrentText string    `json:"current_text,omitempty"`
	Override    *string   `json:"override,omitempty"`
	Deadline    time.Time `json:"deadline,omitzero"`
	RemainingS  int64     `json:"remaining_seconds,omitempty"`
	LastApplied time.Time `json:"last_applied,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

type statusView struct {
	Version      string              `json:"version"`
	Rotation     rotationView        `json:"rotation"`
	LiveText     *string             `json:"live_text,omitempty"`
	LimiterWaitS float64             `json:"limiter_wait_seconds"`
	Schedule     []scheduler.Info    `json:"schedule"`
	Supervisor   supervisor.Snapshot `json:"supervisor"`
	Events       []eventbus.Event    `json:"events"`
}

func viewRotation(st rotation.Status) rotationView {
	v := rotationView{
		Paused:      st.Paused,
		Index:       st.Index,
		Count:       st.Count,
		LastApplied: st.LastApplied,
		LastError:   st.LastError,
	}
	if st.HasCurrent {
		v.CurrentID, v.CurrentText = st.Current.ID, st.Current.Text
	}
	if st.HasOverride {
		o := st.Override
		v.Override = &o
	}
	if st.HasDeadline {
		v.Deadline = st.Deadline
		v.RemainingS = int64(st.Remaining.Seconds())
	}
	return v
}

// status feeds the ops /status endpoint.
func (a *App) status() any {
	v := statusView{
		Version:      a.version,
		Rotation:     viewRotation(a.rot.Status()),
		LimiterWaitS: a.limiter.TimeUntilAllowed().Seconds(),
		Schedule:     a.sched.Snapshot(),
		Events:       a.recent.List(),
		LiveText:     a.live.Load(),
	}
	if a.sup != nil {
		v.Supervisor = a.sup.Snapshot()
	}
	return v
}

// readLive records what the profile showed at startup, so /status can tell
// whether a restart left a stale text in place.
func (a *App) readLive(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	text, err := a.updater.Live(ctx)
	if err != nil {
		a.log.Warn("could not read the live profile text", logx.Err(err))
		return
	}
	a.live.Store(&text)
	cur := a.rot.Status()
	a.log.Info("live profile text",
		logx.Int("length", len([]rune(text))),
		logx.Bool("matches_current", cur.HasCurrent && cur.Current.Text == text),
	)
}

// health reports whether the rotation loop and the command dispatcher are
// alive.
func (a *App) health() error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	snap := a.sup.Snapshot()
	for _, name := range []string{"rotation.run", "commands.dispatch"} {
		if !taskActive(snap, name) {
			return errors.New(name + " not running")
		}
	}
	return nil
}

func taskActive(snap supervisor.Snapshot, name string) bool {
	for _, t := range snap.Tasks {
		if t.Name == name {
			return t.Active > 0
		}
	}
	return false
}
