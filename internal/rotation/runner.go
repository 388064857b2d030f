// Package rotation is the deadline-driven scheduler that decides which
// description the bot profile shows and when it changes.
package rotation

import (
	"context"
	"errors"
	"sync"
	"time"

	"descbot/internal/descriptions"
	"descbot/internal/eventbus"
	"descbot/internal/profile"
	"descbot/internal/storage"
	"descbot/pkg/logx"
)

const (
	DefaultCheckInterval    = time.Second
	DefaultOverrideDuration = time.Hour
	persistTimeout          = 5 * time.Second
	// applyTimeout bounds an update once started; cancelling Run does not
	// abort it.
	applyTimeout = 90 * time.Second
)

// Catalog is the read side of the description list. Indices are
// re-validated on every cycle.
type Catalog interface {
	Count() int
	Get(i int) (descriptions.Description, bool)
	Find(target string) (int, descriptions.Description, error)
}

type Message int

const (
	TriggerUpdate Message = iota
	Shutdown
)

type Options struct {
	CheckInterval    time.Duration
	OverrideDuration time.Duration
	Clock            Clock
	Metrics          *Metrics
	Bus              eventbus.Bus
	Log              logx.Logger
}

// Scheduler owns the rotation state. The runner goroutine and any number
// of command handlers share it through one RWMutex that is never held
// across the update call.
type Scheduler struct {
	catalog Catalog
	store   storage.Store
	updater profile.Updater

	clock            Clock
	checkInterval    time.Duration
	overrideDuration time.Duration
	metrics          *Metrics
	bus              eventbus.Bus
	log              logx.Logger

	inbox    chan Message
	stopped  chan struct{}
	stopOnce sync.Once

	mu sync.RWMutex
	st State
	// posRev changes whenever a command moves the position or the override,
	// so a cycle that raced with one does not overwrite it.
	posRev      uint64
	lastApplied time.Time
	lastErr     string
}

// New builds a scheduler starting from the stored state (or defaults).
func New(ctx context.Context, catalog Catalog, store storage.Store, updater profile.Updater, opts Options) *Scheduler {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.OverrideDuration <= 0 {
		opts.OverrideDuration = DefaultOverrideDuration
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	log := opts.Log.With(logx.Component("rotation"))
	s := &Scheduler{
		catalog:          catalog,
		store:            store,
		updater:          updater,
		clock:            opts.Clock,
		checkInterval:    opts.CheckInterval,
		overrideDuration: opts.OverrideDuration,
		metrics:          opts.Metrics,
		bus:              opts.Bus,
		log:              log,
		inbox:            make(chan Message, 8),
		stopped:          make(chan struct{}),
	}
	s.st = Load(ctx, store, log)
	if n := catalog.Count(); s.st.Index != 0 && s.st.Index >= n {
		log.Warn("stored index out of range, starting over", logx.Int("index", s.st.Index), logx.Int("count", n))
		s.st.SetIndex(0)
	}
	s.metrics.setState(s.st)
	log.Info("rotation state loaded",
		logx.Int("index", s.st.Index),
		logx.Bool("paused", s.st.Paused),
		logx.Bool("deadline", s.st.HasDeadline()),
		logx.Bool("override", s.st.Override != nil),
	)
	return s
}

// Run is the control loop. It returns nil on Shutdown or cancellation.
// A cycle in progress always finishes before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.log.Info("rotation loop started", logx.Duration("check_interval", s.checkInterval))
	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("rotation loop stopped")
			s.markStopped()
			return nil
		case <-ticker.C:
			s.cycle(ctx)
		case m := <-s.inbox:
			switch m {
			case TriggerUpdate:
				s.cycle(ctx)
			case Shutdown:
				s.log.Info("rotation loop shut down")
				s.markStopped()
				return nil
			}
		}
	}
}

// markStopped is called on every normal exit of Run. A panicking Run is
// restarted by its supervisor and does not count as stopped.
func (s *Scheduler) markStopped() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Trigger asks the loop to run a cycle now. It never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.inbox <- TriggerUpdate:
	default:
	}
}

// Shutdown ends the loop after the current cycle and waits for it to exit.
// It returns at once if the loop has already exited.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	select {
	case <-s.stopped:
		return nil
	case s.inbox <- Shutdown:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type candidate struct {
	text     string
	duration time.Duration
	index    int // index shown after commit
	count    int
	advance  bool
	override bool
	fellBack bool // stored index was out of range
}

var errNothingToDo = errors.New("no descriptions")

// decide computes what the next update would apply, without mutating st.
func decide(st State, cat Catalog, overrideDuration time.Duration) (candidate, error) {
	count := cat.Count()
	if count == 0 {
		return candidate{}, errNothingToDo
	}
	if st.Override != nil {
		return candidate{
			text:     *st.Override,
			duration: overrideDuration,
			index:    st.Index,
			count:    count,
			override: true,
		}, nil
	}
	c := candidate{count: count, advance: st.HasDeadline(), index: st.Index}
	if c.advance {
		c.index = (max(0, st.Index) + 1) % count
	}
	d, ok := cat.Get(c.index)
	if !ok {
		c.index, c.advance, c.fellBack = 0, false, true
		if d, ok = cat.Get(0); !ok {
			return candidate{}, errNothingToDo
		}
	}
	c.text, c.duration = d.Text, d.Duration()
	return c, nil
}

func (s *Scheduler) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// The catalog is read under the same lock that Delete holds, so the
	// index and the list always agree.
	s.mu.RLock()
	st := s.st.clone()
	rev := s.posRev
	if st.Paused || !st.IsExpired(s.clock.Now()) {
		s.mu.RUnlock()
		return
	}
	cand, err := decide(st, s.catalog, s.overrideDuration)
	s.mu.RUnlock()
	if err != nil {
		s.log.Debug("nothing to rotate")
		return
	}
	if cand.fellBack {
		s.log.Error("current index out of range, falling back to the first description",
			logx.Int("index", st.Index), logx.Int("count", cand.count))
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), applyTimeout)
	start := s.clock.Now()
	err = s.updater.Apply(actx, cand.text)
	cancel()
	took := s.clock.Now().Sub(start)
	if err != nil {
		s.failed(ctx, cand, err, took)
		return
	}
	s.metrics.recordUpdate(ResultOK, took)
	s.commit(ctx, cand, rev)
}

// commit records a successful update under a fresh write lock.
func (s *Scheduler) commit(ctx context.Context, cand candidate, rev uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.lastApplied = now
	s.lastErr = ""

	if s.posRev != rev {
		consumed := false
		if cand.override && s.st.Override != nil && *s.st.Override == cand.text {
			s.st.ConsumeOverride()
			consumed = true
		}
		s.log.Info("position changed during update, next cycle applies it", logx.Bool("override_consumed", consumed))
		if consumed {
			s.persistLocked(ctx)
		}
		return
	}

	switch {
	case cand.override:
		s.st.ConsumeOverride()
	case cand.advance:
		s.st.Advance(cand.count)
	default:
		s.st.Index = cand.index
	}
	s.st.SetDeadline(now, cand.duration)
	s.persistLocked(ctx)

	s.log.Info("description applied",
		logx.Int("index", s.st.Index),
		logx.Bool("override", cand.override),
		logx.Duration("duration", cand.duration),
		logx.Time("next_update", *s.st.Deadline),
	)
	s.publish(eventbus.TypeApplied, map[string]any{
		"index":    s.st.Index,
		"override": cand.override,
		"deadline": s.st.Deadline.Unix(),
	})
}

func (s *Scheduler) failed(ctx context.Context, cand candidate, err error, took time.Duration) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}
	var (
		rl *profile.RateLimitedError
		bo *profile.BackoffError
	)
	result := ResultError
	switch {
	case errors.As(err, &rl):
		result = ResultRateLimited
		s.log.Info("update deferred by rate limiter", logx.Int("retry_in", rl.Seconds))
	case errors.As(err, &bo):
		result = ResultBackoff
		s.log.Warn("update hit telegram flood wait", logx.Int("retry_after", bo.Seconds))
	case errors.Is(err, profile.ErrUnauthorized):
		result = ResultUnauthorized
		s.log.Error("telegram rejected the bot token", logx.Err(err))
	default:
		s.log.Error("profile update failed", logx.Err(err), logx.Int("index", cand.index))
	}
	s.metrics.recordUpdate(result, took)

	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()

	if result != ResultRateLimited {
		s.publish(eventbus.TypeApplyFailed, map[string]any{
			"result":    result,
			"error":     err.Error(),
			"transient": profile.Transient(err),
		})
	}
}

// persistLocked saves the state; s.mu must be held for writing. Failures
// are logged and the in-memory state stays authoritative.
func (s *Scheduler) persistLocked(ctx context.Context) {
	s.metrics.setState(s.st)
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.SaveState(ctx, s.st.ToPersistent()); err != nil {
		s.metrics.recordPersistError()
		s.log.Error("failed to persist rotation state", logx.Err(err))
		s.publish(eventbus.TypePersistError, map[string]any{"error": err.Error()})
	}
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: data})
}
