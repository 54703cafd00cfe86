package middleware

import (
	"net/http"
	"strings"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/services"
	apperrors "meshvoice/pkg/errors"

	"github.com/gin-gonic/gin"
)

const relayClaimsKey = "relay_claims"

// RelayAuthMiddleware requires a valid relay token on every request. A nil
// auth disables the check for meshes without a shared secret.
func RelayAuthMiddleware(auth services.RelayAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWith(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortWith(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := auth.ValidateToken(parts[1])
		if err != nil {
			abortWith(c, apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, err.Error(), http.StatusUnauthorized))
			return
		}

		c.Set(relayClaimsKey, claims)
		c.Next()
	}
}

// AuthorizeSender checks the sender of a relayed message against the token
// the request carried. It passes when relay auth is disabled.
func AuthorizeSender(c *gin.Context, sender domain.SelfAddresses) error {
	v, ok := c.Get(relayClaimsKey)
	if !ok {
		return nil
	}
	claims := v.(*services.Claims)
	if (sender.IPv4 != "" && sender.IPv4 == claims.Sender.IPv4) ||
		(sender.IPv6 != "" && sender.IPv6 == claims.Sender.IPv6) {
		return nil
	}
	return apperrors.WrapError(services.ErrSenderMismatch, apperrors.ErrCodeUnauthorized,
		"token does not belong to sender", http.StatusForbidden)
}

func abortWith(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
