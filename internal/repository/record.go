package repository

import (
	"context"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
)

type Match int

const (
	MatchExact Match = iota
	MatchContains
)

// Filter selects records whose Field matches Value. FoldCase compares the
// trimmed, lowercased field against Value, which must already be normalized.
type Filter struct {
	Field    string
	Value    string
	Match    Match
	FoldCase bool
}

// RecordStore is the durable, schema-flexible table store. Filters and
// writes that name a field the table lacks fail with domain.ErrUnknownField.
type RecordStore interface {
	Find(ctx context.Context, table string, filter Filter, limit int) ([]*domain.Record, error)
	List(ctx context.Context, table string, limit int) ([]*domain.Record, error)
	Get(ctx context.Context, table, id string) (*domain.Record, error)
	Create(ctx context.Context, table string, fields map[string]any) (*domain.Record, error)
	Update(ctx context.Context, table, id string, fields map[string]any) (*domain.Record, error)
	Ping(ctx context.Context) error
}
