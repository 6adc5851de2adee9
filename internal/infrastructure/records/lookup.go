package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/metrics"
	"github.com/ErlanBelekov/prospect-portal/internal/repository"
	"go.uber.org/multierr"
)

// lookupStrategy is one way of locating a record by key. A nil record with
// a nil error is a miss.
type lookupStrategy struct {
	name string
	find func(ctx context.Context, store repository.RecordStore, table, key string) (*domain.Record, error)
	// lastResort strategies only run when every earlier strategy was
	// structurally unavailable, never after a clean miss.
	lastResort bool
}

type lookupOutcome int

const (
	outcomeFound lookupOutcome = iota
	outcomeMiss
	outcomeUnavailable
	outcomeFailed
)

func (o lookupOutcome) String() string {
	switch o {
	case outcomeFound:
		return "found"
	case outcomeMiss:
		return "miss"
	case outcomeUnavailable:
		return "unavailable"
	default:
		return "failed"
	}
}

func classify(rec *domain.Record, err error) lookupOutcome {
	switch {
	case err == nil && rec != nil:
		return outcomeFound
	case err == nil, errors.Is(err, domain.ErrRecordNotFound):
		return outcomeMiss
	case errors.Is(err, domain.ErrUnknownField):
		return outcomeUnavailable
	default:
		return outcomeFailed
	}
}

// lookupResult reports the record found, plus the structural failures that
// were skipped on the way, for logging.
type lookupResult struct {
	record   *domain.Record
	strategy string
	skipped  error
}

// runStrategies tries each strategy in order. Structural failures fall
// through; transport errors and timeouts abort the lookup.
func runStrategies(ctx context.Context, store repository.RecordStore, table, key string, strategies []lookupStrategy) (lookupResult, error) {
	var res lookupResult
	allUnavailable := true

	for _, s := range strategies {
		if s.lastResort && !allUnavailable {
			continue
		}

		rec, err := s.find(ctx, store, table, key)
		outcome := classify(rec, err)
		metrics.TokenLookupsTotal.WithLabelValues(s.name, outcome.String()).Inc()

		switch outcome {
		case outcomeFound:
			res.record, res.strategy = rec, s.name
			return res, nil
		case outcomeMiss:
			allUnavailable = false
		case outcomeUnavailable:
			res.skipped = multierr.Append(res.skipped, fmt.Errorf("%s: %w", s.name, err))
		case outcomeFailed:
			return res, fmt.Errorf("lookup %s: %w", s.name, err)
		}
	}
	return res, domain.ErrRecordNotFound
}

func findOne(filter repository.Filter) func(context.Context, repository.RecordStore, string, string) (*domain.Record, error) {
	return func(ctx context.Context, store repository.RecordStore, table, key string) (*domain.Record, error) {
		f := filter
		f.Value = key
		recs, err := store.Find(ctx, table, f, 1)
		if err != nil || len(recs) == 0 {
			return nil, err
		}
		return recs[0], nil
	}
}

func scanFor(limit int, match func(rec *domain.Record, key string) bool) func(context.Context, repository.RecordStore, string, string) (*domain.Record, error) {
	return func(ctx context.Context, store repository.RecordStore, table, key string) (*domain.Record, error) {
		recs, err := store.List(ctx, table, limit)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if match(rec, key) {
				return rec, nil
			}
		}
		return nil, nil
	}
}
