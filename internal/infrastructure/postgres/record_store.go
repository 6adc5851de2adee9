package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/metrics"
	"github.com/ErlanBelekov/prospect-portal/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RecordStore keeps schemaless records as JSONB rows. Unlike Airtable it
// never rejects a field name: a filter on a missing key simply matches
// nothing, so lookups fall through on "not found" instead.
type RecordStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewRecordStore(pool *pgxpool.Pool, timeout time.Duration) *RecordStore {
	return &RecordStore{pool: pool, timeout: timeout}
}

var _ repository.RecordStore = (*RecordStore)(nil)

func (s *RecordStore) Find(ctx context.Context, table string, filter repository.Filter, limit int) (recs []*domain.Record, err error) {
	defer observe("find", time.Now(), &err)
	ctx, cancel := s.bound(ctx)
	defer cancel()

	expr := "fields->>$2"
	if filter.FoldCase {
		expr = "lower(trim(fields->>$2))"
	}
	cond := expr + " = $3"
	if filter.Match == repository.MatchContains {
		cond = "strpos(coalesce(" + expr + ", ''), $3) > 0"
	}

	query := `
		SELECT id, fields, created_at
		FROM   records
		WHERE  table_name = $1 AND ` + cond + `
		ORDER  BY created_at
		LIMIT  $4`

	rows, err := s.pool.Query(ctx, query, table, filter.Field, filter.Value, limit)
	if err != nil {
		return nil, fmt.Errorf("find records: %w", err)
	}
	return collectRecords(rows)
}

func (s *RecordStore) List(ctx context.Context, table string, limit int) (recs []*domain.Record, err error) {
	defer observe("list", time.Now(), &err)
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, fields, created_at
		FROM   records
		WHERE  table_name = $1
		ORDER  BY created_at
		LIMIT  $2`, table, limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return collectRecords(rows)
}

func (s *RecordStore) Get(ctx context.Context, table, id string) (rec *domain.Record, err error) {
	defer observe("get", time.Now(), &err)
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx,
		`SELECT id, fields, created_at FROM records WHERE table_name = $1 AND id = $2`,
		table, id,
	)
	return scanRecord(row)
}

func (s *RecordStore) Create(ctx context.Context, table string, fields map[string]any) (rec *domain.Record, err error) {
	defer observe("create", time.Now(), &err)
	ctx, cancel := s.bound(ctx)
	defer cancel()

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO records (id, table_name, fields)
		VALUES ($1, $2, $3::jsonb)
		RETURNING id, fields, created_at`,
		"rec"+uuid.NewString(), table, string(payload),
	)
	return scanRecord(row)
}

func (s *RecordStore) Update(ctx context.Context, table, id string, fields map[string]any) (rec *domain.Record, err error) {
	defer observe("update", time.Now(), &err)
	ctx, cancel := s.bound(ctx)
	defer cancel()

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE records
		SET    fields = fields || $3::jsonb
		WHERE  table_name = $1 AND id = $2
		RETURNING id, fields, created_at`,
		table, id, string(payload),
	)
	return scanRecord(row)
}

func (s *RecordStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *RecordStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func collectRecords(rows pgx.Rows) ([]*domain.Record, error) {
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*domain.Record, error) {
	var r domain.Record
	if err := row.Scan(&r.ID, &r.Fields, &r.CreatedTime); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	return &r, nil
}

func observe(op string, start time.Time, err *error) {
	outcome := "ok"
	switch {
	case *err == nil:
	case errors.Is(*err, domain.ErrRecordNotFound):
		outcome = "not_found"
	case errors.Is(*err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	metrics.StoreCallDuration.WithLabelValues("postgres", op, outcome).Observe(time.Since(start).Seconds())
}
