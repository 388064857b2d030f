package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"descbot/pkg/logx"
)

const defaultJobTimeout = time.Minute

// Entry is one scheduled command.
type Entry struct {
	Name    string
	Spec    string
	Command string
}

// RunFunc executes a command line for the named schedule.
type RunFunc func(ctx context.Context, name, command string) error

type Info struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Command string    `json:"command"`
	Next    time.Time `json:"next"`
	Prev    time.Time `json:"prev"`
	LastErr string    `json:"last_error,omitempty"`
}

type job struct {
	entry   Entry
	spec    string
	id      cron.EntryID
	lastErr string
}

type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	loc     *time.Location
	run     RunFunc
	timeout time.Duration
	parser  cron.Parser
	c       *cron.Cron
	ctx     context.Context
	jobs    []*job
}

func New(run RunFunc, loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log:     log.With(logx.Component("schedule")),
		loc:     loc,
		run:     run,
		timeout: defaultJobTimeout,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		ctx:    context.Background(),
	}
}

// Validate checks every entry without registering anything.
func (s *Service) Validate(entries []Entry) error {
	var errs []error
	for _, e := range entries {
		if _, err := s.compile(e); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", e.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) compile(e Entry) (string, error) {
	if strings.TrimSpace(e.Name) == "" {
		return "", errors.New("name required")
	}
	if strings.TrimSpace(e.Command) == "" {
		return "", errors.New("command required")
	}
	ps, err := ParseSchedule(e.Spec)
	if err != nil {
		return "", err
	}
	spec := ps.String()
	if _, err := s.parser.Parse(spec); err != nil {
		return "", err
	}
	return spec, nil
}

// Apply replaces the registered entries. Nothing changes when any entry is
// invalid.
func (s *Service) Apply(entries []Entry) error {
	compiled := make([]*job, 0, len(entries))
	var errs []error
	for _, e := range entries {
		spec, err := s.compile(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", e.Name, err))
			continue
		}
		compiled = append(compiled, &job{entry: e, spec: spec})
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		for _, j := range s.jobs {
			s.c.Remove(j.id)
		}
	}
	s.jobs = compiled
	if s.c != nil {
		for _, j := range s.jobs {
			s.registerLocked(j)
		}
	}
	s.log.Info("schedule applied", logx.Int("entries", len(compiled)))
	return nil
}

func (s *Service) registerLocked(j *job) {
	id, err := s.c.AddFunc(j.spec, func() { s.fire(j) })
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", j.entry.Name), logx.String("spec", j.spec), logx.Err(err))
		return
	}
	j.id = id
	s.log.Debug("schedule registered",
		logx.String("name", j.entry.Name),
		logx.String("spec", j.spec),
		logx.Time("next", s.c.Entry(id).Next),
	)
}

func (s *Service) fire(j *job) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()
	err := s.run(ctx, j.entry.Name, j.entry.Command)

	s.mu.Lock()
	j.lastErr = ""
	if err != nil {
		j.lastErr = err.Error()
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("scheduled command failed", logx.String("name", j.entry.Name), logx.String("command", j.entry.Command), logx.Err(err))
		return
	}
	s.log.Info("scheduled command ran", logx.String("name", j.entry.Name), logx.String("command", j.entry.Command))
}

// Start begins triggering. Jobs run with a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, j := range s.jobs {
		s.registerLocked(j)
	}
	s.c.Start()
	s.log.Info("schedule started", logx.String("tz", s.loc.String()), logx.Int("entries", len(s.jobs)))
}

// Stop ends triggering and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, j := range s.jobs {
		j.id = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("schedule stopped")
}

func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.jobs))
	for _, j := range s.jobs {
		it := Info{Name: j.entry.Name, Spec: j.spec, Command: j.entry.Command, LastErr: j.lastErr}
		if s.c != nil && j.id != 0 {
			e := s.c.Entry(j.id)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// cronLogger routes cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
