// Package status keeps a rolling summary of pipeline activity for the
// /status command. It learns everything from the event bus.
package status

import (
	"context"
	"sync"
	"time"

	"newsbot/internal/dispatch"
	"newsbot/internal/eventbus"
	"newsbot/internal/pipeline"
	"newsbot/internal/scheduler"
	"newsbot/pkg/logx"
)

type Snapshot struct {
	Since            time.Time
	Runs             uint64
	FailedRuns       uint64
	Delivered        uint64
	DeliveryFailures uint64
	Skipped          uint64
	LastRun          *pipeline.RunReport
	LastFailure      *dispatch.FailedEvent
}

type Tracker struct {
	log   logx.Logger
	since time.Time

	mu   sync.Mutex
	snap Snapshot
}

func New(log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	now := time.Now()
	return &Tracker{log: log.With(logx.String("comp", "status")), since: now, snap: Snapshot{Since: now}}
}

// Run consumes bus events until ctx is done.
func (t *Tracker) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			t.Observe(ev)
		}
	}
}

func (t *Tracker) Observe(ev eventbus.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev.Type {
	case eventbus.TypeRunFinished:
		rep, ok := ev.Data.(pipeline.RunReport)
		if !ok {
			return
		}
		t.snap.Runs++
		if !rep.OK() {
			t.snap.FailedRuns++
		}
		t.snap.Delivered += uint64(rep.Delivered)
		t.snap.LastRun = &rep
	case eventbus.TypeDeliveryFailed:
		fe, ok := ev.Data.(dispatch.FailedEvent)
		if !ok {
			return
		}
		t.snap.DeliveryFailures++
		t.snap.LastFailure = &fe
	case eventbus.TypeRunSkipped:
		if se, ok := ev.Data.(scheduler.SkippedEvent); ok {
			t.snap.Skipped = se.Skipped
		}
	default:
		t.log.Trace("ignored event", logx.String("type", ev.Type))
	}
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.snap
	if s.LastRun != nil {
		r := *s.LastRun
		s.LastRun = &r
	}
	if s.LastFailure != nil {
		f := *s.LastFailure
		s.LastFailure = &f
	}
	return s
}
