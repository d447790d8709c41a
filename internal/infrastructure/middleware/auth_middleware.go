package middleware

import (
	"strings"

	"roomview/internal/core/services"
	"roomview/pkg/errors"

	"github.com/gin-gonic/gin"
)

const (
	SubjectKey = "auth_subject"
	ScopeKey   = "auth_scope"
)

// AuthMiddleware requires a valid bearer token and stores its claims on the
// gin context.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, errors.NewUnauthorizedError("authorization header required"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortWithError(c, errors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			abortWithError(c, errors.NewUnauthorizedError(err.Error()))
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Set(ScopeKey, claims)
		c.Next()
	}
}

// RequireScope rejects requests whose token (set by AuthMiddleware) does not
// grant required.
func RequireScope(authService services.AuthService, required services.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		val, exists := c.Get(ScopeKey)
		if !exists {
			abortWithError(c, errors.NewUnauthorizedError("authentication required"))
			return
		}

		claims, ok := val.(*services.Claims)
		if !ok {
			abortWithError(c, errors.NewUnauthorizedError("invalid auth context"))
			return
		}

		if err := authService.CheckScope(claims, required); err != nil {
			abortWithError(c, errors.NewForbiddenError("insufficient permissions").
				WithContext("required_scope", string(required)))
			return
		}
		c.Next()
	}
}
