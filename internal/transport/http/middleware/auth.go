package middleware

import (
	"net/http"
	"strings"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/reqctx"
	"github.com/ErlanBelekov/prospect-portal/internal/session"
	"github.com/gin-gonic/gin"
)

const (
	errUnauthorized = "Unauthorized"
	identityKey     = "identity"
)

type sessionParser interface {
	Parse(raw string) (*domain.Identity, error)
}

// Auth accepts a Bearer token or the session cookie and stores the
// identity in the gin context.
func Auth(sessions sessionParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			raw, _ = c.Cookie(session.CookieName)
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		identity, err := sessions.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		c.Set(identityKey, identity)
		c.Request = c.Request.WithContext(reqctx.WithUserID(c.Request.Context(), identity.ID))
		c.Next()
	}
}

// IdentityFrom returns the identity set by Auth.
func IdentityFrom(c *gin.Context) (*domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*domain.Identity)
	return identity, ok
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}
