// Package recordstest provides an in-memory repository.RecordStore for tests.
package recordstest

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/repository"
)

// Store behaves like an Airtable base: when a table has a schema, filters
// and writes naming other fields fail with *domain.UnknownFieldError.
type Store struct {
	mu      sync.Mutex
	tables  map[string][]*domain.Record
	schemas map[string]map[string]bool
	nextID  int

	// Hooks run before the default behaviour; a non-nil error is returned as is.
	FindErr func(filter repository.Filter) error
	ListErr func() error
	PingErr error

	Calls []string
}

func New() *Store {
	return &Store{
		tables:  map[string][]*domain.Record{},
		schemas: map[string]map[string]bool{},
	}
}

var _ repository.RecordStore = (*Store)(nil)

// SetSchema restricts table to the given field names.
func (s *Store) SetSchema(table string, fields ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := map[string]bool{}
	for _, f := range fields {
		set[f] = true
	}
	s.schemas[table] = set
}

// Put inserts a record directly and returns its id.
func (s *Store) Put(table string, fields map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("rec%04d", s.nextID)
	s.tables[table] = append(s.tables[table], &domain.Record{ID: id, Fields: maps.Clone(fields), CreatedTime: time.Now()})
	return id
}

// Fields returns a copy of a record's fields.
func (s *Store) Fields(table, id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.lookup(table, id); rec != nil {
		return maps.Clone(rec.Fields)
	}
	return nil
}

// Set overwrites one field, bypassing the schema.
func (s *Store) Set(table, id, field string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec := s.lookup(table, id); rec != nil {
		rec.Fields[field] = value
	}
}

func (s *Store) Find(_ context.Context, table string, filter repository.Filter, limit int) ([]*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "find:"+filter.Field)

	if s.FindErr != nil {
		if err := s.FindErr(filter); err != nil {
			return nil, err
		}
	}
	if err := s.checkField(table, filter.Field); err != nil {
		return nil, err
	}

	var out []*domain.Record
	for _, rec := range s.tables[table] {
		v, _ := rec.Fields[filter.Field].(string)
		if filter.FoldCase {
			v = strings.ToLower(strings.TrimSpace(v))
		}
		hit := v == filter.Value
		if filter.Match == repository.MatchContains {
			hit = strings.Contains(v, filter.Value)
		}
		if hit {
			out = append(out, clone(rec))
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) List(_ context.Context, table string, limit int) ([]*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "list")

	if s.ListErr != nil {
		if err := s.ListErr(); err != nil {
			return nil, err
		}
	}
	var out []*domain.Record
	for _, rec := range s.tables[table] {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, clone(rec))
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, table, id string) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "get")

	rec := s.lookup(table, id)
	if rec == nil {
		return nil, domain.ErrRecordNotFound
	}
	return clone(rec), nil
}

func (s *Store) Create(_ context.Context, table string, fields map[string]any) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "create")

	for name := range fields {
		if err := s.checkField(table, name); err != nil {
			return nil, err
		}
	}
	s.nextID++
	rec := &domain.Record{ID: fmt.Sprintf("rec%04d", s.nextID), Fields: maps.Clone(fields), CreatedTime: time.Now()}
	s.tables[table] = append(s.tables[table], rec)
	return clone(rec), nil
}

func (s *Store) Update(_ context.Context, table, id string, fields map[string]any) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "update")

	for name := range fields {
		if err := s.checkField(table, name); err != nil {
			return nil, err
		}
	}
	rec := s.lookup(table, id)
	if rec == nil {
		return nil, domain.ErrRecordNotFound
	}
	maps.Copy(rec.Fields, fields)
	return clone(rec), nil
}

func (s *Store) Ping(_ context.Context) error { return s.PingErr }

func (s *Store) checkField(table, field string) error {
	schema, ok := s.schemas[table]
	if !ok || schema[field] {
		return nil
	}
	return &domain.UnknownFieldError{Field: field, Message: fmt.Sprintf("Unknown field name: %q", field)}
}

func (s *Store) lookup(table, id string) *domain.Record {
	for _, rec := range s.tables[table] {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func clone(rec *domain.Record) *domain.Record {
	return &domain.Record{ID: rec.ID, Fields: maps.Clone(rec.Fields), CreatedTime: rec.CreatedTime}
}
