// Package scheduler fires the news pipeline on interval and cron rules.
//
// All rules share one cron instance and one busy flag: a trigger that
// arrives while a run is in flight is skipped (and counted), never queued,
// so runs cannot overlap or interleave.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"newsbot/internal/eventbus"
	"newsbot/internal/failure"
	"newsbot/pkg/logx"
)

var (
	ErrStopped = errors.New("scheduler stopped")
	ErrBusy    = errors.New("scheduler busy: run in progress")
)

// Job is one pipeline run. It must honor ctx for its blocking calls.
type Job func(ctx context.Context)

type Config struct {
	Rules    []string
	Timezone string // IANA name, e.g. "Asia/Jakarta"; empty = local
	// RunOnStart triggers one run immediately after Start.
	RunOnStart bool
}

// SkippedEvent is the payload of eventbus.TypeRunSkipped.
type SkippedEvent struct {
	Rule    string
	At      time.Time
	Skipped uint64
}

type entry struct {
	rule Rule
	id   cron.EntryID
}

type Scheduler struct {
	log logx.Logger
	bus eventbus.Bus
	job Job
	cfg Config
	loc *time.Location

	mu      sync.Mutex
	c       *cron.Cron
	entries []entry
	runCtx  context.Context
	cancel  context.CancelFunc
	stopped bool
	inRun   sync.WaitGroup

	busy    atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64
	lastRun atomic.Int64 // unix nano of the last started run
}

// New validates cfg and returns an idle scheduler. Invalid rules or an
// unknown timezone are config failures.
func New(cfg Config, job Job, bus eventbus.Bus, log logx.Logger) (*Scheduler, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if job == nil {
		return nil, failure.Config("scheduler.job", errors.New("job required"))
	}
	rules, err := ParseRules(cfg.Rules)
	if err != nil {
		return nil, failure.Config("scheduler.rules", err)
	}
	loc, err := LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, failure.Config("scheduler.timezone", fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err))
	}
	s := &Scheduler{
		log: log.With(logx.String("comp", "scheduler")),
		bus: bus,
		job: job,
		cfg: cfg,
		loc: loc,
	}
	for _, r := range rules {
		s.entries = append(s.entries, entry{rule: r})
	}
	return s, nil
}

// Location is the zone cron rules are evaluated in.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Start registers every rule and starts the cron loop. It is idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.c != nil {
		s.mu.Unlock()
		return nil
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	for i := range s.entries {
		e := &s.entries[i]
		sched, err := e.rule.schedule()
		if err != nil {
			s.c = nil
			s.cancel()
			s.mu.Unlock()
			return failure.Config("scheduler.rules", err)
		}
		name := e.rule.String()
		e.id = s.c.Schedule(sched, cron.FuncJob(func() { _ = s.fire(name) }))
	}
	s.c.Start()
	s.mu.Unlock()

	s.log.Info("scheduler started", logx.Int("rules", len(s.entries)), logx.String("tz", s.loc.String()))
	for _, info := range s.Snapshot().Rules {
		s.log.Debug("rule registered", logx.String("rule", info.Rule), logx.String("kind", info.Kind), logx.Time("next", info.Next))
	}

	if s.cfg.RunOnStart {
		go func() { _ = s.fire("startup") }()
	}
	return nil
}

// Trigger runs the job now unless a run is already in flight. It blocks
// until the run finishes and reports whether it ran.
func (s *Scheduler) Trigger(reason string) bool {
	return s.fire(reason) == nil
}

// TryRun is Trigger with the reason a run did not happen: ErrBusy or
// ErrStopped.
func (s *Scheduler) TryRun(reason string) error {
	return s.fire(reason)
}

func (s *Scheduler) fire(rule string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	ctx := s.runCtx
	s.inRun.Add(1)
	s.mu.Unlock()
	defer s.inRun.Done()

	if !s.busy.CompareAndSwap(false, true) {
		n := s.skipped.Add(1)
		s.log.Info("trigger skipped: run in progress", logx.String("rule", rule), logx.Uint64("skipped_total", n))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeRunSkipped, Data: SkippedEvent{Rule: rule, At: time.Now(), Skipped: n}})
		}
		return ErrBusy
	}
	defer s.busy.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}
	s.runs.Add(1)
	s.lastRun.Store(time.Now().UnixNano())
	s.run(ctx, rule)
	return nil
}

func (s *Scheduler) run(ctx context.Context, rule string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("pipeline run panicked", logx.String("rule", rule), logx.Any("panic", r))
		}
	}()
	s.log.Debug("trigger", logx.String("rule", rule))
	s.job(ctx)
}

// Stop cancels future firings and waits for an in-flight run, bounded by
// ctx. If ctx expires first the run's context is canceled and ctx.Err()
// is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	c := s.c
	cancel := s.cancel
	s.mu.Unlock()

	var cronDone <-chan struct{}
	if c != nil {
		cronDone = c.Stop().Done()
	} else {
		closed := make(chan struct{})
		close(closed)
		cronDone = closed
	}
	runDone := make(chan struct{})
	go func() {
		<-cronDone
		s.inRun.Wait()
		close(runDone)
	}()

	select {
	case <-runDone:
		if cancel != nil {
			cancel()
		}
		s.log.Info("scheduler stopped", logx.Uint64("runs", s.runs.Load()), logx.Uint64("skipped", s.skipped.Load()))
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		s.log.Warn("scheduler stop timed out; in-flight run canceled", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// Busy reports whether a run is in flight.
func (s *Scheduler) Busy() bool { return s.busy.Load() }

// Skipped is the number of triggers dropped because a run was in flight.
func (s *Scheduler) Skipped() uint64 { return s.skipped.Load() }

type RuleInfo struct {
	Rule string
	Kind string
	Next time.Time
	Prev time.Time
}

type Snapshot struct {
	Timezone string
	Running  bool
	Busy     bool
	Runs     uint64
	Skipped  uint64
	LastRun  time.Time
	Rules    []RuleInfo
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	c := s.c
	running := c != nil && !s.stopped
	entries := append([]entry(nil), s.entries...)
	s.mu.Unlock()

	snap := Snapshot{
		Timezone: s.loc.String(),
		Running:  running,
		Busy:     s.busy.Load(),
		Runs:     s.runs.Load(),
		Skipped:  s.skipped.Load(),
	}
	if ns := s.lastRun.Load(); ns != 0 {
		snap.LastRun = time.Unix(0, ns)
	}
	for _, e := range entries {
		info := RuleInfo{Rule: e.rule.String(), Kind: e.rule.Kind.String()}
		if running && e.id != 0 {
			ce := c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		if info.Next.IsZero() {
			// cron computes Next asynchronously after Start
			if next := Preview(e.rule, s.loc, time.Now(), 1); len(next) == 1 {
				info.Next = next[0]
			}
		}
		snap.Rules = append(snap.Rules, info)
	}
	return snap
}
