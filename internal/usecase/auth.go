package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/metrics"
	"github.com/ErlanBelekov/prospect-portal/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when no user matches so a password login
// takes the same time whether or not the address exists.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("prospect-portal-dummy"), bcrypt.DefaultCost)

// ErrSSODisabled is returned by the SSO methods when no provider is configured.
var ErrSSODisabled = errors.New("sso is not configured")

type magicLinks interface {
	RequestMagicLink(ctx context.Context, email, requestOrigin string) error
	Validate(ctx context.Context, token string) (*domain.Identity, error)
}

type sessionIssuer interface {
	Issue(identity *domain.Identity) (*domain.Session, error)
}

type ssoProvider interface {
	AuthCodeURL(state string) string
	Email(ctx context.Context, code string) (string, error)
}

// AuthUsecase turns each login method into a signed session.
type AuthUsecase struct {
	links    magicLinks
	users    repository.UserRepository
	sessions sessionIssuer
	sso      ssoProvider
	logger   *slog.Logger
}

// NewAuthUsecase builds the usecase; sso may be nil.
func NewAuthUsecase(links magicLinks, users repository.UserRepository, sessions sessionIssuer, sso ssoProvider, logger *slog.Logger) *AuthUsecase {
	return &AuthUsecase{
		links:    links,
		users:    users,
		sessions: sessions,
		sso:      sso,
		logger:   logger.With("component", "auth"),
	}
}

func (u *AuthUsecase) RequestMagicLink(ctx context.Context, email, requestOrigin string) error {
	return u.links.RequestMagicLink(ctx, email, requestOrigin)
}

// VerifyMagicLink redeems token and signs a session. Rejections surface as
// domain.ErrTokenInvalid.
func (u *AuthUsecase) VerifyMagicLink(ctx context.Context, token string) (*domain.Session, error) {
	identity, err := u.links.Validate(ctx, token)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("magic_link", "rejected").Inc()
		return nil, domain.ErrTokenInvalid
	}
	return u.startSession("magic_link", identity)
}

// PasswordLogin checks password against the user's bcrypt hash. Unknown
// users, inactive users and wrong passwords all return
// domain.ErrInvalidCredentials.
func (u *AuthUsecase) PasswordLogin(ctx context.Context, email, password string) (*domain.Session, error) {
	user, err := u.users.FindByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		metrics.LoginsTotal.WithLabelValues("password", "error").Inc()
		return nil, fmt.Errorf("find user: %w", err)
	}

	hash := dummyHash
	if user != nil && user.PasswordHash != "" {
		hash = []byte(user.PasswordHash)
	}
	cmpErr := bcrypt.CompareHashAndPassword(hash, []byte(password))

	if user == nil || user.PasswordHash == "" || cmpErr != nil || !user.Active() {
		metrics.LoginsTotal.WithLabelValues("password", "rejected").Inc()
		return nil, domain.ErrInvalidCredentials
	}
	return u.startSession("password", user.Identity())
}

func (u *AuthUsecase) SSOEnabled() bool {
	return u.sso != nil
}

func (u *AuthUsecase) SSOLoginURL(state string) (string, error) {
	if u.sso == nil {
		return "", ErrSSODisabled
	}
	return u.sso.AuthCodeURL(state), nil
}

// SSOCallback finishes an authorization-code login. The provider's verified
// email must belong to an active user.
func (u *AuthUsecase) SSOCallback(ctx context.Context, code string) (*domain.Session, error) {
	if u.sso == nil {
		return nil, ErrSSODisabled
	}

	email, err := u.sso.Email(ctx, code)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("sso", "rejected").Inc()
		u.logger.WarnContext(ctx, "sso exchange failed", "error", err)
		return nil, domain.ErrUnauthorized
	}

	user, err := u.users.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		metrics.LoginsTotal.WithLabelValues("sso", "rejected").Inc()
		return nil, domain.ErrUnauthorized
	case err != nil:
		metrics.LoginsTotal.WithLabelValues("sso", "error").Inc()
		return nil, fmt.Errorf("find user: %w", err)
	case !user.Active():
		metrics.LoginsTotal.WithLabelValues("sso", "rejected").Inc()
		return nil, domain.ErrUnauthorized
	}
	return u.startSession("sso", user.Identity())
}

func (u *AuthUsecase) startSession(method string, identity *domain.Identity) (*domain.Session, error) {
	sess, err := u.sessions.Issue(identity)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues(method, "error").Inc()
		return nil, err
	}
	metrics.LoginsTotal.WithLabelValues(method, "success").Inc()
	return sess, nil
}
