package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/email"
	"github.com/ErlanBelekov/prospect-portal/internal/magiclink"
	"github.com/ErlanBelekov/prospect-portal/internal/metrics"
	"github.com/ErlanBelekov/prospect-portal/internal/repository"
)

const (
	defaultMagicLinkTTL = 24 * time.Hour
	// durableExpiryFallback applies when a durable record has the token but
	// no expiry column.
	durableExpiryFallback = 24 * time.Hour
	externalCallTimeout   = 8 * time.Second
)

type MagicLinkUsecase struct {
	users   repository.UserRepository
	tokens  *magiclink.MemoryStore
	email   email.Sender
	links   *LinkResolver
	logger  *slog.Logger
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

type MagicLinkOption func(*MagicLinkUsecase)

func WithTTL(ttl time.Duration) MagicLinkOption {
	return func(u *MagicLinkUsecase) { u.ttl = ttl }
}

// WithCallTimeout bounds each durable-store and email call.
func WithCallTimeout(d time.Duration) MagicLinkOption {
	return func(u *MagicLinkUsecase) { u.timeout = d }
}

func WithClock(now func() time.Time) MagicLinkOption {
	return func(u *MagicLinkUsecase) { u.now = now }
}

func NewMagicLinkUsecase(
	users repository.UserRepository,
	tokens *magiclink.MemoryStore,
	sender email.Sender,
	links *LinkResolver,
	logger *slog.Logger,
	opts ...MagicLinkOption,
) *MagicLinkUsecase {
	u := &MagicLinkUsecase{
		users:   users,
		tokens:  tokens,
		email:   sender,
		links:   links,
		logger:  logger.With("component", "magic_link"),
		ttl:     defaultMagicLinkTTL,
		timeout: externalCallTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Issue creates a link for an active user, keeps it in memory and mirrors it
// to the user's durable record. Unknown and inactive users both yield
// domain.ErrUserNotFound. A failed mirror write is logged and reported
// through IssuedLink.Mirrored, not returned: this process can still redeem
// the link from memory.
func (u *MagicLinkUsecase) Issue(ctx context.Context, emailAddr, requestOrigin string) (*domain.IssuedLink, *domain.User, error) {
	normalized := domain.NormalizeEmail(emailAddr)

	user, err := u.findByEmail(ctx, normalized)
	if err != nil {
		return nil, nil, err
	}
	if !user.Active() {
		u.logger.InfoContext(ctx, "magic link requested for inactive user", "user_id", user.ID)
		return nil, nil, fmt.Errorf("user %s inactive: %w", user.ID, domain.ErrUserNotFound)
	}

	token, err := magiclink.GenerateToken()
	if err != nil {
		return nil, nil, err
	}
	entry := u.tokens.Store(token, user.ID, normalized, u.ttl)
	link := u.links.MagicLinkURL(requestOrigin, token)

	mirrorCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	mirrored := true
	if err := u.users.SaveMagicLink(mirrorCtx, user.ID, token, entry.ExpiresAt, link); err != nil {
		mirrored = false
		u.logger.WarnContext(ctx, "mirror magic link to durable store", "user_id", user.ID, "error", err)
	}

	u.logger.InfoContext(ctx, "magic link issued", "user_id", user.ID, "token_prefix", token[:8], "expires_at", entry.ExpiresAt)
	return &domain.IssuedLink{
		Token:     token,
		URL:       link,
		Email:     normalized,
		ExpiresAt: entry.ExpiresAt,
		Mirrored:  mirrored,
	}, user, nil
}

// RequestMagicLink issues a link and emails it. Unknown users and delivery
// failures are swallowed so the caller cannot tell whether the address
// exists; the returned error only reports infrastructure failures.
func (u *MagicLinkUsecase) RequestMagicLink(ctx context.Context, emailAddr, requestOrigin string) error {
	link, user, err := u.Issue(ctx, emailAddr, requestOrigin)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			metrics.MagicLinksIssuedTotal.WithLabelValues("unknown_user").Inc()
			u.logger.InfoContext(ctx, "magic link requested for unknown address")
			return nil
		}
		metrics.MagicLinksIssuedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("issue magic link: %w", err)
	}
	metrics.MagicLinksIssuedTotal.WithLabelValues("issued").Inc()

	body, err := email.MagicLinkBody(user.FirstName, link.URL, u.ttl)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	if err := u.email.Send(sendCtx, link.Email, email.MagicLinkSubject, body); err != nil {
		metrics.EmailDeliveriesTotal.WithLabelValues("failed").Inc()
		u.logger.ErrorContext(ctx, "deliver magic link", "user_id", user.ID, "error", err)
		return nil
	}
	metrics.EmailDeliveriesTotal.WithLabelValues("sent").Inc()
	return nil
}

// Validate redeems a presented token. Every failure is a
// *domain.RejectionError, which unwraps to domain.ErrTokenInvalid.
//
// Only tokens found in this process's memory are marked used. A token
// resolved through the durable store is backfilled into memory but stays
// unmarked, so another redemption may succeed on this or another process
// until it expires.
func (u *MagicLinkUsecase) Validate(ctx context.Context, token string) (*domain.Identity, error) {
	identity, path, err := u.validate(ctx, token)

	if err != nil {
		var rej *domain.RejectionError
		reason := domain.RejectLookupFailed
		if errors.As(err, &rej) {
			reason = rej.Reason
		}
		metrics.MagicLinkRedemptionsTotal.WithLabelValues(string(reason), path).Inc()
		u.logger.WarnContext(ctx, "magic link rejected", "reason", reason, "path", path, "error", err)
		return nil, err
	}

	metrics.MagicLinkRedemptionsTotal.WithLabelValues("valid", path).Inc()
	u.logger.InfoContext(ctx, "magic link redeemed", "user_id", identity.ID, "path", path)
	return identity, nil
}

func (u *MagicLinkUsecase) validate(ctx context.Context, token string) (*domain.Identity, string, error) {
	if !magiclink.Plausible(token) {
		return nil, "none", reject(domain.RejectNotFound, nil)
	}

	now := u.now()
	lookupCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	entry, inMemory := u.tokens.Lookup(token)
	if inMemory {
		switch {
		case entry.Expired(now):
			return nil, "memory", reject(domain.RejectExpired, nil)
		case entry.UsedAt != nil:
			return nil, "memory", reject(domain.RejectAlreadyUsed, nil)
		}

		user, err := u.users.FindByID(lookupCtx, entry.UserID)
		if err != nil {
			return nil, "memory", rejectLookup(err)
		}
		if !user.Active() {
			return nil, "memory", reject(domain.RejectAccountDisabled, nil)
		}
		if !u.tokens.MarkUsed(token) {
			return nil, "memory", reject(domain.RejectAlreadyUsed, nil)
		}
		return user.Identity(), "memory", nil
	}

	user, err := u.users.FindByMagicToken(lookupCtx, token)
	if err != nil {
		return nil, "durable", rejectLookup(err)
	}

	expiresAt := now.Add(durableExpiryFallback)
	if user.MagicTokenExpiresAt != nil {
		expiresAt = *user.MagicTokenExpiresAt
	}
	if !now.Before(expiresAt) {
		return nil, "durable", reject(domain.RejectExpired, nil)
	}

	u.tokens.Restore(token, user.ID, user.Email, expiresAt)

	if !user.Active() {
		return nil, "durable", reject(domain.RejectAccountDisabled, nil)
	}
	return user.Identity(), "durable", nil
}

func (u *MagicLinkUsecase) findByEmail(ctx context.Context, normalized string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	user, err := u.users.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func reject(reason domain.RejectReason, err error) error {
	return &domain.RejectionError{Reason: reason, Err: err}
}

func rejectLookup(err error) error {
	if errors.Is(err, domain.ErrUserNotFound) {
		return reject(domain.RejectNotFound, nil)
	}
	return reject(domain.RejectLookupFailed, err)
}
