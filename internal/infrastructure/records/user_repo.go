package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/metrics"
	"github.com/ErlanBelekov/prospect-portal/internal/repository"
	"go.uber.org/multierr"
)

const (
	emailScanLimit = 100
	tokenScanLimit = 1000
	writeAttempts  = 2
)

// UserRepository reads and writes the users table of a schema-flexible
// record store, tolerating deployments where some columns are missing.
type UserRepository struct {
	store  repository.RecordStore
	table  string
	logger *slog.Logger

	emailStrategies []lookupStrategy
	tokenStrategies []lookupStrategy
	retryDelay      time.Duration
}

func NewUserRepository(store repository.RecordStore, table string, logger *slog.Logger) *UserRepository {
	r := &UserRepository{
		store:      store,
		table:      table,
		logger:     logger.With("component", "user_repo"),
		retryDelay: 250 * time.Millisecond,
	}

	for _, field := range EmailFields {
		r.emailStrategies = append(r.emailStrategies, lookupStrategy{
			name: "email_field:" + field,
			find: findOne(repository.Filter{Field: field, FoldCase: true}),
		})
	}
	r.emailStrategies = append(r.emailStrategies, lookupStrategy{
		name:       "email_scan",
		find:       scanFor(emailScanLimit, func(rec *domain.Record, key string) bool { return recordEmail(rec) == key }),
		lastResort: true,
	})

	r.tokenStrategies = []lookupStrategy{
		{
			name: "token_exact",
			find: findOne(repository.Filter{Field: FieldMagicToken}),
		},
		{
			name: "token_url_contains",
			find: verified(findOne(repository.Filter{Field: FieldMagicLinkURL, Match: repository.MatchContains})),
		},
		{
			name:       "token_scan",
			find:       scanFor(tokenScanLimit, recordHoldsToken),
			lastResort: true,
		},
	}
	return r
}

var _ repository.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, domain.ErrUserNotFound
	}

	res, err := runStrategies(ctx, r.store, r.table, email, r.emailStrategies)
	r.logSkipped(ctx, "email lookup", res)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return decodeUser(res.record)
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	rec, err := r.store.Get(ctx, r.table, id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return decodeUser(rec)
}

func (r *UserRepository) FindByMagicToken(ctx context.Context, token string) (*domain.User, error) {
	res, err := runStrategies(ctx, r.store, r.table, token, r.tokenStrategies)
	r.logSkipped(ctx, "token lookup", res)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user by magic token: %w", err)
	}

	r.logger.DebugContext(ctx, "token resolved from durable store", "strategy", res.strategy, "user_id", res.record.ID)
	return decodeUser(res.record)
}

// SaveMagicLink mirrors an issued token onto the user's record. Tables
// without the token columns get the URL alone, from which the token can
// still be recovered.
func (r *UserRepository) SaveMagicLink(ctx context.Context, userID, token string, expiresAt time.Time, link string) error {
	full := map[string]any{
		FieldMagicToken:        token,
		FieldMagicTokenExpires: expiresAt.UTC().Format(time.RFC3339),
		FieldMagicLinkURL:      link,
	}

	err := r.update(ctx, userID, full)
	if err == nil {
		metrics.MirrorWritesTotal.WithLabelValues("full").Inc()
		return nil
	}
	if !errors.Is(err, domain.ErrUnknownField) {
		metrics.MirrorWritesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("save magic link: %w", err)
	}

	r.logger.WarnContext(ctx, "users table rejected token fields, retrying with url only", "user_id", userID, "error", err)
	if err := r.update(ctx, userID, map[string]any{FieldMagicLinkURL: link}); err != nil {
		metrics.MirrorWritesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("save magic link url: %w", err)
	}
	metrics.MirrorWritesTotal.WithLabelValues("url_only").Inc()
	return nil
}

func (r *UserRepository) ListActive(ctx context.Context, limit int) ([]*domain.User, error) {
	recs, err := r.store.List(ctx, r.table, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	var users []*domain.User
	for _, rec := range recs {
		u, err := decodeUser(rec)
		if err != nil {
			r.logger.WarnContext(ctx, "skipping undecodable user record", "record_id", rec.ID, "error", err)
			continue
		}
		if u.Active() && u.Email != "" {
			users = append(users, u)
		}
	}
	return users, nil
}

// update retries transient failures once. Structural rejections are
// returned immediately so the caller can reduce the field set.
func (r *UserRepository) update(ctx context.Context, id string, fields map[string]any) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		_, err = r.store.Update(ctx, r.table, id, fields)
		if err == nil || errors.Is(err, domain.ErrUnknownField) || errors.Is(err, domain.ErrRecordNotFound) {
			return err
		}
		if attempt < writeAttempts {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(r.retryDelay):
			}
		}
	}
	return err
}

func (r *UserRepository) logSkipped(ctx context.Context, what string, res lookupResult) {
	if res.skipped == nil {
		return
	}
	r.logger.DebugContext(ctx, what+" skipped unavailable strategies",
		"skipped", len(multierr.Errors(res.skipped)),
		"error", res.skipped,
	)
}

// verified drops substring matches whose stored URL carries a different
// token, e.g. one that merely contains the key.
func verified(find func(context.Context, repository.RecordStore, string, string) (*domain.Record, error)) func(context.Context, repository.RecordStore, string, string) (*domain.Record, error) {
	return func(ctx context.Context, store repository.RecordStore, table, key string) (*domain.Record, error) {
		rec, err := find(ctx, store, table, key)
		if err != nil || rec == nil {
			return rec, err
		}
		if linkToken(rec) != key {
			return nil, nil
		}
		return rec, nil
	}
}

func recordHoldsToken(rec *domain.Record, key string) bool {
	if s, ok := rec.Fields[FieldMagicToken].(string); ok && strings.TrimSpace(s) == key {
		return true
	}
	return linkToken(rec) == key
}

func linkToken(rec *domain.Record) string {
	raw, _ := rec.Fields[FieldMagicLinkURL].(string)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return u.Query().Get("token")
}
