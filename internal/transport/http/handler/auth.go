package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	ssoStateCookie = "portal_sso_state"
	ssoStateTTL    = 10 * time.Minute
)

// authUsecaser is the subset of AuthUsecase the handler needs.
// Defined here (point of use) so tests can inject a fake.
type authUsecaser interface {
	RequestMagicLink(ctx context.Context, email, requestOrigin string) error
	VerifyMagicLink(ctx context.Context, token string) (*domain.Session, error)
	PasswordLogin(ctx context.Context, email, password string) (*domain.Session, error)
	SSOEnabled() bool
	SSOLoginURL(state string) (string, error)
	SSOCallback(ctx context.Context, code string) (*domain.Session, error)
}

type AuthHandler struct {
	authUsecase  authUsecaser
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler sets the Secure flag on cookies when secureCookie is true.
func NewAuthHandler(authUsecase authUsecaser, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authUsecase:  authUsecase,
		secureCookie: secureCookie,
		logger:       logger.With("component", "auth_handler"),
	}
}

// Email fields are only required at bind time. normalizeEmail checks their
// shape after trimming, so padded or mixed-case input is accepted.
type magicLinkRequest struct {
	Email string `json:"email" binding:"required"`
}

type passwordLoginRequest struct {
	Email    string `json:"email"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

var validate = validator.New()

func normalizeEmail(raw string) (string, bool) {
	addr := domain.NormalizeEmail(raw)
	return addr, validate.Var(addr, "email") == nil
}

type sessionResponse struct {
	Token     string           `json:"token"`
	ExpiresAt time.Time        `json:"expires_at"`
	User      *domain.Identity `json:"user"`
}

// POST /auth/magic-link
// Always returns 200 to avoid revealing whether the email exists.
func (h *AuthHandler) RequestMagicLink(c *gin.Context) {
	var req magicLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	addr, ok := normalizeEmail(req.Email)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidEmail})
		return
	}

	if err := h.authUsecase.RequestMagicLink(c.Request.Context(), addr, requestOrigin(c.Request)); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "request magic link", "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"message": "If that address has an account, a sign-in link is on its way."})
}

// GET /auth/verify?token=<raw>
// Every failure is the same 401 so callers cannot tell why a link was refused.
func (h *AuthHandler) Verify(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errSignInFailed})
		return
	}

	sess, err := h.authUsecase.VerifyMagicLink(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, domain.ErrTokenInvalid) {
			h.logger.ErrorContext(c.Request.Context(), "verify magic link", "error", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": errSignInFailed})
		return
	}

	h.startSession(c, sess)
}

// POST /auth/login
func (h *AuthHandler) PasswordLogin(c *gin.Context) {
	var req passwordLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	addr, ok := normalizeEmail(req.Email)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidEmail})
		return
	}

	sess, err := h.authUsecase.PasswordLogin(c.Request.Context(), addr, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": errInvalidCredentials})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "password login", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	h.startSession(c, sess)
}

// GET /auth/sso
func (h *AuthHandler) SSOLogin(c *gin.Context) {
	if !h.authUsecase.SSOEnabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": errSSODisabled})
		return
	}

	state := uuid.NewString()
	url, err := h.authUsecase.SSOLoginURL(state)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "sso login url", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	h.setCookie(c, ssoStateCookie, state, int(ssoStateTTL.Seconds()))
	c.Redirect(http.StatusFound, url)
}

// GET /auth/sso/callback?code=&state=
func (h *AuthHandler) SSOCallback(c *gin.Context) {
	if !h.authUsecase.SSOEnabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": errSSODisabled})
		return
	}

	want, err := c.Cookie(ssoStateCookie)
	h.setCookie(c, ssoStateCookie, "", -1)
	if err != nil || want == "" || c.Query("state") != want || c.Query("code") == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
		return
	}

	sess, err := h.authUsecase.SSOCallback(c.Request.Context(), c.Query("code"))
	if err != nil {
		if !errors.Is(err, domain.ErrUnauthorized) {
			h.logger.ErrorContext(c.Request.Context(), "sso callback", "error", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
		return
	}

	h.startSession(c, sess)
}

// POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	h.setCookie(c, session.CookieName, "", -1)
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) startSession(c *gin.Context, sess *domain.Session) {
	maxAge := int(time.Until(sess.ExpiresAt).Seconds())
	h.setCookie(c, session.CookieName, sess.Token, maxAge)
	c.JSON(http.StatusOK, sessionResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      sess.Identity,
	})
}

func (h *AuthHandler) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", h.secureCookie, true)
}

// requestOrigin is the scheme and host the request was addressed to. The
// Origin and X-Forwarded-* headers are ignored.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
