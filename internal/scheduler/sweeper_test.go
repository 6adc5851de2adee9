package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingStore struct {
	calls atomic.Int32
}

func (s *countingStore) Sweep() int {
	s.calls.Add(1)
	return 2
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	if _, err := NewSweeper(&countingStore{}, slog.Default(), "not a schedule"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSweeper_SweepCallsStore(t *testing.T) {
	store := &countingStore{}
	s, err := NewSweeper(store, slog.Default(), "@every 1m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.sweep()
	if store.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", store.calls.Load())
	}
}

func TestSweeper_RunsOnScheduleAndStops(t *testing.T) {
	store := &countingStore{}
	s, err := NewSweeper(store, slog.Default(), "@every 1s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for store.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never ran")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
