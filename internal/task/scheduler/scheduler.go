package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "roomwatch/pkg/logx"
)

// Config controls the shared runner.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
	// MaxSpread delays the first run of each job by a random amount up to
	// min(MaxSpread, interval). Zero keeps the first run exactly one interval away.
	MaxSpread time.Duration
}

type jobDef struct {
	id      uint64
	name    string
	every   time.Duration
	job     func(ctx context.Context)
	entryID cron.EntryID
	spread  time.Duration
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	c    *cron.Cron
	loc  *time.Location
	ctx  context.Context
	defs map[string]*jobDef
}

var idSeq atomic.Uint64

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, defs: map[string]*jobDef{}, ctx: context.Background()}
}

// Start begins triggering. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx = ctx
	s.loc = s.loadLocationLocked()
	s.c = s.newCronLocked()
	for _, d := range s.defs {
		s.attachLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

// Stop halts triggering and waits for running jobs until ctx expires.
// Registrations are kept so a later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	if c == nil {
		s.mu.Unlock()
		return
	}
	stopped := c.Stop()
	s.mu.Unlock()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; jobs still running")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Apply updates the config. A timezone change swaps in a new runner; jobs
// still running on the old one finish in the background without holding
// up Every or cancel.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || oldTZ == strings.TrimSpace(cfg.Timezone) {
		s.mu.Unlock()
		return
	}
	stopped := s.c.Stop()
	s.loc = s.loadLocationLocked()
	s.c = s.newCronLocked()
	for _, d := range s.defs {
		s.attachLocked(d)
	}
	s.c.Start()
	tz, jobs := s.loc.String(), len(s.defs)
	s.mu.Unlock()

	<-stopped.Done()
	s.log.Info("scheduler restarted", logx.String("tz", tz), logx.Int("jobs", jobs))
}

// Every registers job to run each interval under name, replacing any previous
// registration with the same name. The returned cancel removes exactly this
// registration and is safe to call more than once.
func (s *Service) Every(name string, every time.Duration, job func(ctx context.Context)) (func(), error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("scheduler: name required")
	}
	if job == nil {
		return nil, errors.New("scheduler: job required")
	}
	if every < time.Second {
		return nil, fmt.Errorf("scheduler: interval %s below 1s", every)
	}

	d := &jobDef{id: idSeq.Add(1), name: name, every: every, job: job}

	s.mu.Lock()
	if old, ok := s.defs[name]; ok {
		s.detachLocked(old)
	}
	s.defs[name] = d
	if s.c != nil {
		s.attachLocked(d)
	}
	s.mu.Unlock()

	s.log.Debug("job registered", logx.String("name", name), logx.Duration("every", every), logx.Duration("spread", d.spread))

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(name, d.id) })
	}, nil
}

// Remove unregisters name. It reports whether something was registered.
func (s *Service) Remove(name string) bool {
	return s.remove(strings.TrimSpace(name), 0)
}

func (s *Service) remove(name string, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok || (id != 0 && d.id != id) {
		return false
	}
	s.detachLocked(d)
	delete(s.defs, name)
	s.log.Debug("job removed", logx.String("name", name))
	return true
}

// Len returns the number of registrations.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.defs)
}

// Next returns the next fire time of name, or zero when it is not attached.
func (s *Service) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok || s.c == nil || d.entryID == 0 {
		return time.Time{}
	}
	return s.c.Entry(d.entryID).Next
}

func (s *Service) newCronLocked() *cron.Cron {
	cl := cronLogger{log: s.log}
	return cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
}

func (s *Service) attachLocked(d *jobDef) {
	ctx := s.ctx
	run := d.job
	sched, spread := intervalSchedule(d.every, time.Now().In(s.loc), s.cfg.MaxSpread, d.name)
	d.spread = spread
	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() { run(ctx) }))
}

func (s *Service) detachLocked(d *jobDef) {
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	d.entryID = 0
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes cron's own messages (recovered panics, skipped runs) into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
