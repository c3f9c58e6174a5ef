package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/recapio/recap-server/internal/errors"
	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/storage/sqlite"
)

// userKey is the gin context key holding the authenticated *sqlite.User.
const userKey = "auth_user"

// Middleware authenticates requests from the session cookie (with a Bearer
// header fallback for non-browser clients) and loads the user row.
type Middleware struct {
	store      *sqlite.Store
	secret     string
	cookieName string
	adminEmail string
}

// NewMiddleware creates the auth middleware.
func NewMiddleware(store *sqlite.Store, secret, cookieName, adminEmail string) *Middleware {
	return &Middleware{
		store:      store,
		secret:     secret,
		cookieName: cookieName,
		adminEmail: strings.ToLower(strings.TrimSpace(adminEmail)),
	}
}

// RequireAuth validates the session and attaches the user to the context.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		if cookie, err := c.Cookie(m.cookieName); err == nil {
			tokenString = cookie
		}
		if tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}
		if tokenString == "" {
			apperrors.AbortWithUnauthorized(c, "authentication required", nil)
			return
		}

		userID, err := ValidateSessionToken(tokenString, m.secret)
		if err != nil {
			apperrors.AbortWithUnauthorized(c, "invalid or expired session", nil)
			return
		}

		user, err := m.store.FindUserByID(c.Request.Context(), userID)
		if err != nil {
			apperrors.AbortWithUnauthorized(c, "invalid or expired session", nil)
			return
		}

		ctx := logger.WithUserID(c.Request.Context(), user.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(userKey, user)
		c.Next()
	}
}

// RequireAdmin allows only the single configured admin user through. Must
// run after RequireAuth.
func (m *Middleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || m.adminEmail == "" ||
			strings.ToLower(strings.TrimSpace(user.Email)) != m.adminEmail {
			apperrors.AbortWithForbidden(c, "admin access required", nil)
			return
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user attached by RequireAuth, or
// nil when the middleware did not run.
func CurrentUser(c *gin.Context) *sqlite.User {
	v, exists := c.Get(userKey)
	if !exists {
		return nil
	}
	user, ok := v.(*sqlite.User)
	if !ok {
		return nil
	}
	return user
}
