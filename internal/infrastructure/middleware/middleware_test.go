package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/services"
	apperrors "meshvoice/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFromDomain(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   apperrors.ErrorCode
	}{
		{fmt.Errorf("%w: no sender", domain.ErrMalformedSignal), http.StatusUnprocessableEntity, apperrors.ErrCodeInvalidSignal},
		{domain.ErrUnknownSignal, http.StatusUnprocessableEntity, apperrors.ErrCodeInvalidSignal},
		{domain.ErrSessionNotFound, http.StatusNotFound, apperrors.ErrCodeNotFound},
		{domain.ErrRoleMismatch, http.StatusConflict, apperrors.ErrCodeConflict},
		{domain.ErrPlaceholderMissing, http.StatusServiceUnavailable, apperrors.ErrCodeServiceUnavailable},
		{apperrors.NewRateLimitError(), http.StatusTooManyRequests, apperrors.ErrCodeRateLimit},
	}
	for _, tc := range cases {
		appErr := FromDomain(tc.err)
		require.NotNil(t, appErr, tc.err.Error())
		assert.Equal(t, tc.status, appErr.HTTPStatus, tc.err.Error())
		assert.Equal(t, tc.code, appErr.Code, tc.err.Error())
	}
	assert.Nil(t, FromDomain(errors.New("boom")))
}

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/missing", func(c *gin.Context) { _ = c.Error(domain.ErrSessionNotFound) })
	router.GET("/boom", func(c *gin.Context) { _ = c.Error(errors.New("boom")) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.ErrCodeNotFound), body["error"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRelayAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := services.NewRelayAuth("secret", time.Minute)
	sender := domain.SelfAddresses{IPv4: "100.64.0.2"}

	router := gin.New()
	router.Use(RelayAuthMiddleware(auth))
	router.POST("/signal", func(c *gin.Context) {
		if err := AuthorizeSender(c, sender); err != nil {
			c.Status(http.StatusForbidden)
			return
		}
		c.Status(http.StatusAccepted)
	})

	post := func(header string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/signal", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, post(""))
	assert.Equal(t, http.StatusUnauthorized, post("Basic abc"))
	assert.Equal(t, http.StatusUnauthorized, post("Bearer nope"))

	token, err := auth.GenerateToken(sender)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, post("Bearer "+token))

	other, err := auth.GenerateToken(domain.SelfAddresses{IPv4: "100.64.0.3"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, post("Bearer "+other))
}

func TestRelayAuthMiddleware_DisabledWithoutSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RelayAuthMiddleware(nil))
	router.POST("/signal", func(c *gin.Context) {
		assert.NoError(t, AuthorizeSender(c, domain.SelfAddresses{IPv4: "100.64.0.2"}))
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/signal", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}
