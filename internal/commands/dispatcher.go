package commands

import (
	"context"
	"errors"
	"runtime/debug"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"descbot/internal/eventbus"
	"descbot/internal/runtime/supervisor"
	"descbot/internal/storage"
	"descbot/internal/transport"
	"descbot/pkg/logx"
)

const (
	defaultCommandTimeout = 30 * time.Second
	auditTimeout          = 3 * time.Second
)

type DispatcherConfig struct {
	Prefix      string
	BotUsername string
	Owners      []int64
	RatePerMin  int // per user; 0 disables
	// Workers run commands. One keeps them in arrival order.
	Workers int
	Timeout time.Duration
}

// Dispatcher routes inbound messages from owners to the Handler, replies,
// and records an audit entry per command.
type Dispatcher struct {
	h       *Handler
	sender  transport.Sender
	store   storage.Store
	bus     eventbus.Bus
	log     logx.Logger
	metrics *Metrics

	prefix  string
	bot     string
	workers int
	timeout time.Duration

	mu       sync.RWMutex
	owners   []int64
	perMin   int
	limiters map[int64]*rate.Limiter

	// closeMu guards jobs against sends after close. jobs is recreated by
	// every DispatchLoop run.
	closeMu sync.RWMutex
	jobs    chan func()
	closed  bool
}

func NewDispatcher(h *Handler, sender transport.Sender, store storage.Store, bus eventbus.Bus, metrics *Metrics, log logx.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Prefix == "" {
		cfg.Prefix = "/"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCommandTimeout
	}
	return &Dispatcher{
		h:        h,
		sender:   sender,
		store:    store,
		bus:      bus,
		log:      log.With(logx.Component("commands")),
		metrics:  metrics,
		prefix:   cfg.Prefix,
		bot:      cfg.BotUsername,
		workers:  cfg.Workers,
		timeout:  cfg.Timeout,
		owners:   slices.Clone(cfg.Owners),
		perMin:   cfg.RatePerMin,
		limiters: map[int64]*rate.Limiter{},
		closed:   true,
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (d *Dispatcher) SetOwners(owners []int64) {
	d.mu.Lock()
	d.owners = slices.Clone(owners)
	d.mu.Unlock()
}

// SetRate changes the per-user command rate and forgets existing buckets.
func (d *Dispatcher) SetRate(perMin int) {
	d.mu.Lock()
	d.perMin = perMin
	d.limiters = map[int64]*rate.Limiter{}
	d.mu.Unlock()
}

func (d *Dispatcher) isOwner(id int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Contains(d.owners, id)
}

func (d *Dispatcher) allow(userID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.perMin <= 0 {
		return true
	}
	l, ok := d.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(d.perMin)/60), min(d.perMin, 5))
		d.limiters[userID] = l
	}
	return l.Allow()
}

// DispatchLoop consumes updates until ctx ends or updates closes.
func (d *Dispatcher) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(d.log), supervisor.WithCancelOnError(false))

	jobs := make(chan func(), 64)
	d.closeMu.Lock()
	d.jobs, d.closed = jobs, false
	d.closeMu.Unlock()

	if up, ok := d.sender.(transport.CommandMenuUpdater); ok {
		if menu := MenuCommands(d.prefix); len(menu) > 0 {
			sup.Go0("telegram.menu.update", func(ctx context.Context) {
				cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				if err := up.UpdateMenuCommands(cctx, menu); err != nil {
					d.log.Warn("failed to update command menu", logx.Err(err))
				}
			})
		}
	}

	for i := 0; i < d.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								d.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	d.log.Info("command dispatcher started", logx.Int("workers", d.workers))

	defer func() {
		d.closeMu.Lock()
		d.closed = true
		close(jobs)
		d.closeMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		d.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.route(ctx, up)
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	cmd, err := Parse(msg.Text, d.prefix, d.bot)
	if errors.Is(err, ErrNotCommand) {
		return
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if !d.isOwner(msg.FromID) {
		d.log.Debug("ignoring command from non-owner", logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Name))
		d.metrics.record("unauthorized")
		return
	}
	if !d.allow(msg.FromID) {
		d.metrics.record("throttled")
		d.reply(ctx, chat, "Slow down, try again in a moment.")
		return
	}
	var usage *UsageError
	switch {
	case errors.Is(err, ErrUnknown):
		d.metrics.record("unknown")
		d.reply(ctx, chat, "Unknown command. Use '"+d.prefix+"help'.")
		return
	case errors.As(err, &usage):
		d.metrics.record("usage")
		d.reply(ctx, chat, "Usage: "+usage.Usage)
		return
	}

	req := d.newRequest(cmd, chat, msg.FromID, msg.FromUsername, "telegram")
	if !d.enqueue(func() {
		res := d.run(ctx, req)
		d.reply(ctx, chat, res.Text)
	}) {
		d.reply(ctx, chat, "Busy, try again.")
	}
}

// RunText executes a command line on behalf of a non-chat source (the
// schedule). The prefix is optional.
func (d *Dispatcher) RunText(ctx context.Context, source, line string) (Result, error) {
	cmd, err := Parse(line, d.prefix, d.bot)
	if errors.Is(err, ErrNotCommand) {
		cmd, err = Parse(d.prefix+line, d.prefix, d.bot)
	}
	if err != nil {
		return Result{}, err
	}
	req := d.newRequest(cmd, transport.ChatTarget{}, 0, "", source)
	return d.run(ctx, req), nil
}

func (d *Dispatcher) newRequest(cmd Command, chat transport.ChatTarget, fromID int64, fromName, source string) *Request {
	id := uuid.NewString()
	return &Request{
		ID:       id,
		Chat:     chat,
		FromID:   fromID,
		FromName: fromName,
		Source:   source,
		Command:  cmd,
		Log:      d.log.With(logx.String("rid", id), logx.String("cmd", cmd.Name)),
	}
}

func (d *Dispatcher) run(ctx context.Context, req *Request) Result {
	start := time.Now()
	final := Chain(
		func(ctx context.Context, req *Request) Result { return d.h.Execute(ctx, req.Command) },
		MWPanicRecover(d.log),
		MWRequestLog(d.log),
		MWTimeout(d.timeout),
	)
	res := final(ctx, req)
	took := time.Since(start)

	result := "ok"
	if !res.OK {
		result = "refused"
	}
	d.metrics.record(result)
	d.audit(ctx, req, res, took)
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeCommand, Time: time.Now(), Data: map[string]any{
			"request_id": req.ID,
			"command":    req.Command.Name,
			"source":     req.Source,
			"ok":         res.OK,
		}})
	}
	return res
}

func (d *Dispatcher) audit(ctx context.Context, req *Request, res Result, took time.Duration) {
	if d.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:            time.Now().UTC(),
		RequestID:     req.ID,
		ActorID:       req.FromID,
		ActorUsername: req.FromName,
		ChatID:        req.Chat.ChatID,
		Command:       req.Command.Name,
		Args:          truncate(req.Command.Args, 200),
		OK:            res.OK,
		TookMS:        took.Milliseconds(),
	}
	if req.Source != "telegram" {
		e.ActorUsername = req.Source
	}
	if !res.OK {
		e.Error = truncate(res.Text, 200)
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := d.store.AppendAudit(actx, e); err != nil {
		req.Log.Warn("failed to write audit entry", logx.Err(err))
	}
}

func (d *Dispatcher) enqueue(fn func()) bool {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.jobs <- fn:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) reply(ctx context.Context, chat transport.ChatTarget, text string) {
	if d.sender == nil || text == "" {
		return
	}
	if _, err := d.sender.SendText(ctx, chat, text, &transport.SendOptions{DisablePreview: true}); err != nil {
		d.log.Warn("failed to send reply", logx.Int64("chat_id", chat.ChatID), logx.Err(err))
	}
}

// Metrics counts commands by result. Safe to use as a nil pointer.
type Metrics struct {
	total *prometheus.CounterVec
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{total: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Owner commands by result",
	}, []string{"result"})}
	reg.MustRegister(m.total)
	return m
}

func (m *Metrics) record(result string) {
	if m == nil {
		return
	}
	m.total.WithLabelValues(result).Inc()
}
