package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"newsbot/internal/eventbus"
	"newsbot/internal/failure"
	"newsbot/pkg/logx"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	job := func(context.Context) {}
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no rules", cfg: Config{}},
		{name: "bad rule", cfg: Config{Rules: []string{"whenever"}}},
		{name: "bad timezone", cfg: Config{Rules: []string{"1h"}, Timezone: "Mars/Olympus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg, job, nil, logx.Nop())
			if !errors.Is(err, failure.Config("", nil)) {
				t.Fatalf("want config failure, got %v", err)
			}
		})
	}
}

func TestSkipIfBusy(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	var runs atomic.Int32
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s, err := New(Config{Rules: []string{"1h", "0 0 1 1 *"}}, func(context.Context) {
		runs.Add(1)
		<-release
	}, bus, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan bool)
	go func() { done <- s.Trigger("first") }()
	waitFor(t, s.Busy)

	if err := s.TryRun("second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second trigger while busy: err = %v, want ErrBusy", err)
	}
	if got := s.Skipped(); got != 1 {
		t.Fatalf("skipped = %d, want 1", got)
	}
	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeRunSkipped || ev.Data.(SkippedEvent).Rule != "second" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no skip event")
	}

	close(release)
	if !<-done {
		t.Fatal("first trigger should have run")
	}
	if !s.Trigger("third") {
		t.Fatal("trigger after idle should run")
	}
	if got := runs.Load(); got != 2 {
		t.Fatalf("runs = %d, want 2", got)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s, err := New(Config{Rules: []string{"1h"}}, func(context.Context) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if !s.Trigger("a") || s.Busy() {
		t.Fatal("panicking run should finish and release the busy flag")
	}
	if !s.Trigger("b") || calls.Load() != 2 {
		t.Fatalf("second run did not happen (calls=%d)", calls.Load())
	}
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	finished := make(chan struct{})
	s, err := New(Config{Rules: []string{"1h"}}, func(context.Context) {
		<-release
		close(finished)
	}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	go s.Trigger("manual")
	waitFor(t, s.Busy)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-finished

	if err := s.TryRun("late"); !errors.Is(err, ErrStopped) {
		t.Fatalf("trigger after Stop: err = %v, want ErrStopped", err)
	}
}

func TestStopBoundedByContext(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Rules: []string{"1h"}}, func(ctx context.Context) {
		<-ctx.Done()
	}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	go s.Trigger("manual")
	waitFor(t, s.Busy)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop = %v, want deadline exceeded", err)
	}
	// the run's context is canceled, so it winds down
	waitFor(t, func() bool { return !s.Busy() })
}

func TestSnapshotNextTimes(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Rules: []string{"30m", "@daily"}, Timezone: "UTC"}, func(context.Context) {}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())

	snap := s.Snapshot()
	if snap.Timezone != "UTC" || !snap.Running || len(snap.Rules) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	now := time.Now()
	for _, r := range snap.Rules {
		if !r.Next.After(now.Add(-time.Second)) || r.Next.After(now.Add(25*time.Hour)) {
			t.Fatalf("rule %s next = %v", r.Rule, r.Next)
		}
	}
	if snap.Rules[0].Kind != "interval" || snap.Rules[1].Kind != "cron" {
		t.Fatalf("kinds = %s, %s", snap.Rules[0].Kind, snap.Rules[1].Kind)
	}
}

func TestRunOnStart(t *testing.T) {
	t.Parallel()
	ran := make(chan struct{}, 1)
	s, err := New(Config{Rules: []string{"1h"}, RunOnStart: true}, func(context.Context) {
		ran <- struct{}{}
	}, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("startup run did not happen")
	}
}
