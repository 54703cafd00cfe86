package middleware

import (
	"errors"
	"net/http"

	"meshvoice/internal/core/domain"
	apperrors "meshvoice/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FromDomain maps the sentinel errors of the core to HTTP facing errors.
// Errors that are already AppErrors pass through.
func FromDomain(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrMalformedSignal), errors.Is(err, domain.ErrUnknownSignal):
		return apperrors.NewInvalidSignalError(err)
	case errors.Is(err, domain.ErrSessionNotFound):
		return apperrors.WrapError(err, apperrors.ErrCodeNotFound, "peer session not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrChannelNotFound):
		return apperrors.WrapError(err, apperrors.ErrCodeNotFound, "voice channel not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrRoleMismatch):
		return apperrors.WrapError(err, apperrors.ErrCodeConflict, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidChannel):
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrSessionClosed), errors.Is(err, domain.ErrPlaceholderMissing):
		return apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrNoTransport):
		return apperrors.WrapError(err, apperrors.ErrCodeConflict, "no transport with peer", http.StatusConflict)
	}
	return nil
}

// ErrorHandlerMiddleware handles application errors and returns appropriate HTTP responses
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		if appErr := FromDomain(err); appErr != nil {
			logger.Warnw("request failed",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"context", appErr.Context,
				"error", err,
			)

			c.JSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
				"details": appErr.Context,
			})
			return
		}

		logger.Errorw("unhandled error",
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(apperrors.ErrCodeInternal),
			"message": "Internal server error",
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(apperrors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
