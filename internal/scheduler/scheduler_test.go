package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsInvocation(t *testing.T) {
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var runs atomic.Int32
	deadlines := make(chan bool, 16)

	err := s.Add(Invocation{
		Name:     "tick",
		Schedule: "@every 100ms",
		Timeout:  time.Second,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			_, ok := ctx.Deadline()
			deadlines <- ok
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start()
	defer s.Stop(context.Background())

	deadline := time.After(3 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 runs, got %d", runs.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	if ok := <-deadlines; !ok {
		t.Error("invocation context should carry a deadline")
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := s.Add(Invocation{
		Name:     "broken",
		Schedule: "not a schedule",
		Timeout:  time.Second,
		Run:      func(ctx context.Context) error { return nil },
	})
	if err == nil {
		t.Fatal("expected error for invalid schedule spec")
	}
}

func TestSchedulerStopWaitsForRunning(t *testing.T) {
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	started := make(chan struct{}, 16)
	var finished atomic.Bool

	err := s.Add(Invocation{
		Name:     "slow",
		Schedule: "@every 50ms",
		Timeout:  time.Second,
		Run: func(ctx context.Context) error {
			started <- struct{}{}
			time.Sleep(200 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start()
	<-started

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if !finished.Load() {
		t.Error("Stop should have waited for the running invocation")
	}
}
