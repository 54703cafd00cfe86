package http

import (
	"net/http"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"
	apperrors "meshvoice/pkg/errors"

	"github.com/gin-gonic/gin"
)

type MirrorHandler struct {
	manager ports.ConnectionManager
}

func NewMirrorHandler(manager ports.ConnectionManager) *MirrorHandler {
	return &MirrorHandler{manager: manager}
}

func (h *MirrorHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/mirror", h.GetMirror)
		api.PUT("/mirror", h.PutMirror)
	}
}

func (h *MirrorHandler) GetMirror(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"mirror": h.manager.Mirror(),
	})
}

// PutMirror replaces the local presence and pushes it to connected peers.
func (h *MirrorHandler) PutMirror(c *gin.Context) {
	var mirror domain.Mirror
	if err := c.ShouldBindJSON(&mirror); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid mirror").WithContext("reason", err.Error()))
		return
	}
	if mirror.User == nil || mirror.User.ID == "" {
		_ = c.Error(apperrors.NewInvalidInputError("mirror.user.id is required"))
		return
	}

	h.manager.SetMirror(c.Request.Context(), mirror)

	c.JSON(http.StatusOK, gin.H{
		"mirror": h.manager.Mirror(),
	})
}
