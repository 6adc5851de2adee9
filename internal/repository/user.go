package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
)

type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	// FindByMagicToken returns the user whose record mirrors token, with
	// MagicTokenExpiresAt populated when the record carries an expiry.
	FindByMagicToken(ctx context.Context, token string) (*domain.User, error)
	SaveMagicLink(ctx context.Context, userID, token string, expiresAt time.Time, url string) error
	ListActive(ctx context.Context, limit int) ([]*domain.User, error)
}
