package httptransport

import (
	"fmt"
	"log/slog"

	"github.com/ErlanBelekov/prospect-portal/internal/session"
	"github.com/ErlanBelekov/prospect-portal/internal/transport/http/handler"
	"github.com/ErlanBelekov/prospect-portal/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

// Limiters throttle the public auth routes. Each route has its own limiter,
// so password attempts never spend the magic-link allowance.
type Limiters struct {
	MagicLink *middleware.RateLimiter
	Login     *middleware.RateLimiter
}

// NewRouter builds the HTTP surface. Only trustedProxies may set the client
// address through X-Forwarded-For; with none, rate limits key on the TCP peer.
func NewRouter(
	logger *slog.Logger,
	authHandler *handler.AuthHandler,
	portalHandler *handler.PortalHandler,
	sessions *session.Issuer,
	limiters Limiters,
	trustedProxies []string,
) (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	// /auth/verify carries the sign-in token in its query string and is
	// kept out of access logs.
	r.Use(sloggin.NewWithConfig(logger, sloggin.Config{
		DefaultLevel:     slog.LevelInfo,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
		Filters:          []sloggin.Filter{sloggin.IgnorePath("/auth/verify")},
	}))
	r.Use(middleware.Metrics())

	// Public auth routes
	auth := r.Group("/auth")
	auth.POST("/magic-link", limiters.MagicLink.Middleware(), authHandler.RequestMagicLink)
	auth.GET("/verify", authHandler.Verify)
	auth.POST("/login", limiters.Login.Middleware(), authHandler.PasswordLogin)
	auth.GET("/sso", authHandler.SSOLogin)
	auth.GET("/sso/callback", authHandler.SSOCallback)
	auth.POST("/logout", authHandler.Logout)

	// Protected portal routes
	api := r.Group("/api", middleware.Auth(sessions))
	api.GET("/me", portalHandler.Me)
	api.POST("/forms/:form", portalHandler.SubmitForm)

	return r, nil
}
