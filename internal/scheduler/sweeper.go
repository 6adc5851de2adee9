package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ErlanBelekov/prospect-portal/internal/metrics"
	"github.com/robfig/cron/v3"
)

// Sweepable is satisfied by *magiclink.MemoryStore.
type Sweepable interface {
	Sweep() int
}

// Sweeper evicts expired in-memory tokens on a cron schedule.
type Sweeper struct {
	store    Sweepable
	logger   *slog.Logger
	schedule cron.Schedule
	spec     string
}

func NewSweeper(store Sweepable, logger *slog.Logger, spec string) (*Sweeper, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	return &Sweeper{
		store:    store,
		logger:   logger.With("component", "sweeper"),
		schedule: sched,
		spec:     spec,
	}, nil
}

// Start blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(s.sweep))
	c.Start()

	s.logger.Info("sweeper started", "schedule", s.spec)

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("sweeper shut down")
}

func (s *Sweeper) sweep() {
	removed := s.store.Sweep()
	metrics.TokenSweepEvictedTotal.Add(float64(removed))
	if removed > 0 {
		s.logger.Info("evicted expired tokens", "count", removed)
	}
}
