package commands

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"descbot/internal/descriptions"
	"descbot/internal/rotation"
)

// Rotation is the scheduler surface the commands drive.
type Rotation interface {
	Skip(ctx context.Context) error
	Next(ctx context.Context) (int, descriptions.Description, error)
	Goto(ctx context.Context, target string) (int, descriptions.Description, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SetOverride(ctx context.Context, text string) error
	ClearOverride(ctx context.Context) (string, error)
	Reconcile(ctx context.Context, count int) bool
	Delete(ctx context.Context, del func() (int, descriptions.Description, error)) (int, descriptions.Description, error)
	Status() rotation.Status
}

// Catalog is the editable description list.
type Catalog interface {
	Count() int
	List() []descriptions.Description
	Find(target string) (int, descriptions.Description, error)
	Add(d descriptions.Description) error
	Edit(target, text string) (descriptions.Description, string, error)
	SetDuration(target string, secs int64) (descriptions.Description, int64, error)
	Delete(target string) (int, descriptions.Description, error)
	Reload() (oldCount, newCount int, changed bool, err error)
	Limit() int
}

// Result is what the owner sees in reply.
type Result struct {
	OK   bool
	Text string
}

func ok(format string, a ...any) Result { return Result{OK: true, Text: fmt.Sprintf(format, a...)} }

func fail(format string, a ...any) Result { return Result{Text: fmt.Sprintf(format, a...)} }

type HandlerConfig struct {
	Prefix  string
	Field   string
	Version string
	// LimiterWait reports how long until the next profile update is allowed.
	LimiterWait func() time.Duration
}

type Handler struct {
	rot     Rotation
	cat     Catalog
	cfg     HandlerConfig
	started time.Time
}

func NewHandler(rot Rotation, cat Catalog, cfg HandlerConfig) *Handler {
	if cfg.Prefix == "" {
		cfg.Prefix = "/"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Handler{rot: rot, cat: cat, cfg: cfg, started: time.Now()}
}

func (h *Handler) Execute(ctx context.Context, cmd Command) Result {
	switch cmd.Kind {
	case KindSkip:
		if err := h.rot.Skip(ctx); err != nil {
			if errors.Is(err, rotation.ErrSkipWhilePaused) {
				return fail("Cannot skip while paused. Use '%sresume' first.", h.cfg.Prefix)
			}
			return fail("Skip failed: %v", err)
		}
		return ok("✓ Re-applying the current description...")
	case KindNext:
		_, d, err := h.rot.Next(ctx)
		if err != nil {
			return h.notFound(err, "")
		}
		return ok("✓ Moving on to [%s]: %q", d.ID, truncate(d.Text, 30))
	case KindStatus:
		return h.status()
	case KindList:
		return h.list()
	case KindView:
		return h.view(cmd.Target)
	case KindGoto:
		_, d, err := h.rot.Goto(ctx, cmd.Target)
		if err != nil {
			return h.notFound(err, cmd.Target)
		}
		return ok("✓ Jumping to [%s]: %q", d.ID, truncate(d.Text, 30))
	case KindPause:
		if err := h.rot.Pause(ctx); err != nil {
			return fail("Already paused.")
		}
		return ok("⏸ Description rotation paused.")
	case KindResume:
		if err := h.rot.Resume(ctx); err != nil {
			return fail("Already running.")
		}
		return ok("▶ Description rotation resumed.")
	case KindReload:
		return h.reload(ctx)
	case KindHelp:
		return ok("%s", helpText(h.cfg.Prefix))
	case KindSet:
		if err := descriptions.ValidateText(cmd.Text, h.cat.Limit()); err != nil {
			return fail("Invalid text: %v", err)
		}
		if err := h.rot.SetOverride(ctx, cmd.Text); err != nil {
			return fail("Set failed: %v", err)
		}
		return ok("✓ Showing one-off text: %q", truncate(cmd.Text, 30))
	case KindClear:
		text, err := h.rot.ClearOverride(ctx)
		if err != nil {
			return fail("No one-off text pending.")
		}
		return ok("✓ Dropped one-off text %q", truncate(text, 30))
	case KindAdd:
		d := descriptions.Description{ID: cmd.Target, Text: cmd.Text, DurationSecs: cmd.Secs}
		if err := h.cat.Add(d); err != nil {
			return fail("Add failed: %v", err)
		}
		return ok("✓ Added description [%s]: %q (%s)", d.ID, truncate(d.Text, 25), FormatDuration(d.DurationSecs))
	case KindEdit:
		d, _, err := h.cat.Edit(cmd.Target, cmd.Text)
		if err != nil {
			return h.notFound(err, cmd.Target)
		}
		return ok("✓ Updated [%s]: %q", d.ID, truncate(d.Text, 30))
	case KindDuration:
		d, old, err := h.cat.SetDuration(cmd.Target, cmd.Secs)
		if err != nil {
			return h.notFound(err, cmd.Target)
		}
		return ok("✓ Updated [%s] duration: %s → %s", d.ID, FormatDuration(old), FormatDuration(d.DurationSecs))
	case KindDelete:
		_, d, err := h.rot.Delete(ctx, func() (int, descriptions.Description, error) {
			return h.cat.Delete(cmd.Target)
		})
		if err != nil {
			return h.notFound(err, cmd.Target)
		}
		return ok("✓ Deleted [%s]: %q", d.ID, truncate(d.Text, 30))
	case KindInfo:
		return ok("descbot %s\nRotates the bot %s through a list of descriptions.\nUptime: %s",
			h.cfg.Version, strings.ReplaceAll(h.cfg.Field, "_", " "), FormatDuration(int64(time.Since(h.started)/time.Second)))
	}
	return fail("Unknown command. Use '%shelp'.", h.cfg.Prefix)
}

func (h *Handler) notFound(err error, target string) Result {
	switch {
	case errors.Is(err, descriptions.ErrNotFound):
		return fail("Description not found: '%s'. Use '%slist' to see available descriptions.", target, h.cfg.Prefix)
	case errors.Is(err, descriptions.ErrNoDescriptions):
		return fail("No descriptions configured.")
	}
	return fail("Failed: %v", err)
}

func (h *Handler) status() Result {
	st := h.rot.Status()
	state := "▶ Running"
	if st.Paused {
		state = "⏸ Paused"
	}
	current := "None"
	if st.HasCurrent {
		current = fmt.Sprintf("[%s] %q", st.Current.ID, truncate(st.Current.Text, 30))
	}
	timeInfo := "N/A"
	if st.HasDeadline {
		timeInfo = FormatDuration(ceilSecs(st.Remaining)) + " remaining"
	} else if !st.Paused && st.Count > 0 {
		timeInfo = "update due now"
	}
	pos := 0
	if st.Count > 0 {
		pos = st.Index + 1
	}

	lines := []string{
		"Status: " + state,
		"Current: " + current,
		fmt.Sprintf("Index: %d/%d", pos, st.Count),
		"Time: " + timeInfo,
	}
	if st.HasOverride {
		lines = append(lines, fmt.Sprintf("One-off text pending: %q", truncate(st.Override, 30)))
	}
	if h.cfg.LimiterWait != nil {
		if w := h.cfg.LimiterWait(); w > 0 {
			lines = append(lines, "Rate limit: next update allowed in "+FormatDuration(ceilSecs(w)))
		}
	}
	if st.LastError != "" {
		lines = append(lines, "Last error: "+truncate(st.LastError, 120))
	}
	return ok("%s", strings.Join(lines, "\n"))
}

func (h *Handler) list() Result {
	items := h.cat.List()
	if len(items) == 0 {
		return fail("No descriptions configured.")
	}
	cur := h.rot.Status().Index
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, "Configured descriptions:")
	for i, d := range items {
		marker := "  "
		if i == cur {
			marker = "→ "
		}
		lines = append(lines, fmt.Sprintf("%s%d. [%s] %s (%s)", marker, i+1, d.ID, truncate(d.Text, 25), FormatDuration(d.DurationSecs)))
	}
	return ok("%s", strings.Join(lines, "\n"))
}

func (h *Handler) view(target string) Result {
	_, d, err := h.cat.Find(target)
	if err != nil {
		return h.notFound(err, target)
	}
	return ok("Description [%s]:\nText: %q\nDuration: %s\nLength: %d/%d chars",
		d.ID, d.Text, FormatDuration(d.DurationSecs), descriptions.Length(d.Text), h.cat.Limit())
}

func (h *Handler) reload(ctx context.Context) Result {
	oldN, newN, changed, err := h.cat.Reload()
	if err != nil {
		return fail("Reload failed: %v", err)
	}
	if !changed {
		return ok("✓ Description file unchanged (%d descriptions).", oldN)
	}
	h.rot.Reconcile(ctx, newN)
	return ok("✓ Reloaded descriptions. %d → %d descriptions.", oldN, newN)
}

func ceilSecs(d time.Duration) int64 { return int64(math.Ceil(d.Seconds())) }
