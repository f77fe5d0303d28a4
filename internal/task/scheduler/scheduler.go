// Package scheduler triggers the periodic jobs of the daemon (buffer drains,
// digest runs) on cron or interval schedules.
//
// A job never overlaps itself: a tick that fires while the previous run is
// still going is skipped and counted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"notifyd/internal/eventbus"
	logx "notifyd/pkg/logx"
)

// EventRan is published after every job run.
const EventRan = "scheduler.ran"

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ; empty means local
}

type RanEvent struct {
	Job  string
	Took time.Duration
	Err  string
}

// JobInfo is a point-in-time view of one registered job.
type JobInfo struct {
	Name    string
	Spec    string
	Next    time.Time
	Prev    time.Time
	Runs    uint64
	Skipped uint64
	LastErr string
}

type job struct {
	name    string
	spec    Spec
	timeout time.Duration
	fn      func(ctx context.Context) error
	entryID cron.EntryID

	running atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64
	lastErr atomic.Value // string
}

type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	cfg  Config
	bus  eventbus.Bus
	jobs []*job

	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// SecondOptional allows 5 and 6 field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Add registers a job. Jobs added after Start are scheduled immediately.
func (s *Service) Add(name, schedule string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if name == "" || fn == nil {
		return errors.New("scheduler: name and fn are required")
	}
	spec, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	if _, err := s.parser.Parse(spec.CronExpr()); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.name == name {
			return fmt.Errorf("job %s already registered", name)
		}
	}
	j := &job{name: name, spec: spec, timeout: timeout, fn: fn}
	s.jobs = append(s.jobs, j)
	if s.c != nil {
		return s.addCronLocked(j)
	}
	return nil
}

// Apply swaps the config. A timezone change restarts the cron runner.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && tzChanged {
		s.c.Stop()
		s.startCronLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.startCronLocked()
}

func (s *Service) startCronLocked() {
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		}
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, j := range s.jobs {
		if err := s.addCronLocked(j); err != nil {
			s.log.Error("schedule job failed", logx.String("job", j.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) addCronLocked(j *job) error {
	id, err := s.c.AddFunc(j.spec.CronExpr(), func() { s.trigger(j) })
	if err != nil {
		return err
	}
	j.entryID = id
	return nil
}

// Stop halts triggering and waits for in-flight runs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// RunNow triggers name outside its schedule, honoring the overlap rule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	var target *job
	for _, j := range s.jobs {
		if j.name == name {
			target = j
		}
	}
	s.mu.Unlock()
	if target == nil {
		return fmt.Errorf("job %s not found", name)
	}
	s.trigger(target)
	return nil
}

func (s *Service) trigger(j *job) {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	parent := s.ctx
	s.mu.Unlock()
	if !enabled || parent == nil || parent.Err() != nil {
		return
	}
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		s.log.Debug("job still running; tick skipped", logx.String("job", j.name))
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer j.running.Store(false)

	ctx := parent
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, j.timeout)
		defer cancel()
	}
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return j.fn(ctx)
	}()
	took := time.Since(start)
	j.runs.Add(1)

	ev := RanEvent{Job: j.name, Took: took}
	if err != nil {
		ev.Err = err.Error()
		j.lastErr.Store(err.Error())
		s.log.Warn("job failed", logx.String("job", j.name), logx.Duration("took", took), logx.Err(err))
	} else {
		j.lastErr.Store("")
		s.log.Trace("job done", logx.String("job", j.name), logx.Duration("took", took))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventRan, Data: ev})
	}
}

// Jobs lists the registered jobs sorted by name.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := JobInfo{Name: j.name, Spec: j.spec.CronExpr(), Runs: j.runs.Load(), Skipped: j.skipped.Load()}
		if v, ok := j.lastErr.Load().(string); ok {
			info.LastErr = v
		}
		if s.c != nil && j.entryID != 0 {
			e := s.c.Entry(j.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}
