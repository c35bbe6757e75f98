package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/casasegura/backend/internal/auth"
	"github.com/casasegura/backend/internal/domain"
)

const (
	ctxKeyUserID = "userID"
	ctxKeyRole   = "role"
)

// TokenVerifier validates access tokens. *auth.Manager implements it.
type TokenVerifier interface {
	VerifyAccess(token string) (auth.Identity, error)
}

// Authenticate reads an optional bearer token. A valid token puts the caller
// in the context; an invalid one is rejected with 401; no token passes
// through anonymous so public routes and RequireAuth can decide.
func Authenticate(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			c.Next()
			return
		}
		scheme, token, found := strings.Cut(h, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "malformed Authorization header")
			return
		}
		id, err := v.VerifyAccess(strings.TrimSpace(token))
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		c.Set(ctxKeyUserID, id.UserID)
		c.Set(ctxKeyRole, id.Role)
		c.Next()
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		c.Next()
	}
}

// RequireRole lets through only callers holding one of roles.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if !slices.Contains(roles, Role(c)) {
			abortJSON(c, http.StatusForbidden, "forbidden", "insufficient role")
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user id, or "".
func UserID(c *gin.Context) string {
	return c.GetString(ctxKeyUserID)
}

// Role returns the authenticated role, or "".
func Role(c *gin.Context) domain.Role {
	if v, ok := c.Get(ctxKeyRole); ok {
		if r, ok := v.(domain.Role); ok {
			return r
		}
	}
	return ""
}
