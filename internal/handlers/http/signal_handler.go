package http

import (
	"net/http"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"
	"meshvoice/internal/infrastructure/middleware"
	apperrors "meshvoice/pkg/errors"
	"meshvoice/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SignalHandler is the ingress side of the HTTP relay transport.
type SignalHandler struct {
	manager ports.ConnectionManager
	logger  *logger.ContextLogger
}

func NewSignalHandler(manager ports.ConnectionManager, log *zap.Logger) *SignalHandler {
	return &SignalHandler{
		manager: manager,
		logger:  logger.NewContextLogger(log),
	}
}

// SetupRoutes mounts the relay endpoint at path behind the given guards.
func (h *SignalHandler) SetupRoutes(router *gin.Engine, path string, guards ...gin.HandlerFunc) {
	handlers := append(append([]gin.HandlerFunc{}, guards...), h.ReceiveSignal)
	router.POST(path, handlers...)
}

func (h *SignalHandler) ReceiveSignal(c *gin.Context) {
	var msg domain.SignalMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("signal body is not valid JSON").WithContext("reason", err.Error()))
		return
	}

	ctx := logger.WithPeerAddress(c.Request.Context(), msg.Sender.Primary().String())

	if err := middleware.AuthorizeSender(c, msg.Sender); err != nil {
		h.logger.Sugar(ctx).Warnw("relayed signal with foreign token", "remote_addr", c.ClientIP())
		_ = c.Error(err)
		return
	}

	if err := h.manager.HandleSignal(ctx, &msg); err != nil {
		h.logger.Sugar(ctx).Debugw("relayed signal not handled", "type", msg.Type, "error", err)
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusAccepted)
}
