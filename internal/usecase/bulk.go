package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/repository"
)

type linkIssuer interface {
	Issue(ctx context.Context, email, requestOrigin string) (*domain.IssuedLink, *domain.User, error)
}

// BulkIssuer issues a link for every active user, a bounded number at a time.
type BulkIssuer struct {
	users       repository.UserRepository
	links       linkIssuer
	logger      *slog.Logger
	concurrency int
	sem         chan struct{}
}

func NewBulkIssuer(users repository.UserRepository, links linkIssuer, concurrency int, logger *slog.Logger) *BulkIssuer {
	concurrency = max(concurrency, 1)
	return &BulkIssuer{
		users:       users,
		links:       links,
		logger:      logger.With("component", "bulk_issuer"),
		concurrency: concurrency,
		sem:         make(chan struct{}, concurrency),
	}
}

// BulkResult counts issued links and users that were skipped.
type BulkResult struct {
	Issued  int
	Skipped int
}

// IssueAll calls emit once per issued link. emit is never called
// concurrently. Links whose durable write failed are skipped: the issuing
// process exits, so only the durable copy can redeem them.
func (b *BulkIssuer) IssueAll(ctx context.Context, limit int, emit func(*domain.IssuedLink) error) (BulkResult, error) {
	users, err := b.users.ListActive(ctx, limit)
	if err != nil {
		return BulkResult{}, fmt.Errorf("list active users: %w", err)
	}
	b.logger.InfoContext(ctx, "issuing links", "users", len(users), "concurrency", b.concurrency)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		res     BulkResult
		emitErr error
	)
	for _, user := range users {
		if ctx.Err() != nil {
			break
		}
		b.sem <- struct{}{}
		wg.Add(1)
		go func(u *domain.User) {
			defer wg.Done()
			defer func() { <-b.sem }()

			link, _, err := b.links.Issue(ctx, u.Email, "")

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Skipped++
				b.logger.WarnContext(ctx, "skip user", "user_id", u.ID, "error", err)
				return
			}
			if !link.Mirrored {
				res.Skipped++
				b.logger.WarnContext(ctx, "skip user, link not stored durably", "user_id", u.ID)
				return
			}
			res.Issued++
			if emitErr == nil {
				emitErr = emit(link)
			}
		}(user)
	}
	wg.Wait()

	if emitErr != nil {
		return res, fmt.Errorf("write link: %w", emitErr)
	}
	return res, ctx.Err()
}
