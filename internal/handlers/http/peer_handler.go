package http

import (
	"errors"
	"io"
	"net/http"
	"sort"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"
	apperrors "meshvoice/pkg/errors"

	"github.com/gin-gonic/gin"
)

type PeerHandler struct {
	manager  ports.ConnectionManager
	statuses ports.StatusRepository
	streams  ports.StreamRepository
}

func NewPeerHandler(
	manager ports.ConnectionManager,
	statuses ports.StatusRepository,
	streams ports.StreamRepository,
) *PeerHandler {
	return &PeerHandler{
		manager:  manager,
		statuses: statuses,
		streams:  streams,
	}
}

func (h *PeerHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/peers", h.ListPeers)
		api.GET("/peers/:address", h.GetPeer)
		api.POST("/peers/:address/connect", h.Connect)
		api.POST("/peers/:address/renegotiate", h.Renegotiate)
		api.DELETE("/peers/:address", h.RemovePeer)

		api.GET("/streams", h.ListStreams)
	}
}

func (h *PeerHandler) ListPeers(c *gin.Context) {
	statuses, err := h.statuses.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"peers": statuses,
	})
}

func (h *PeerHandler) GetPeer(c *gin.Context) {
	addr := domain.PeerAddress(c.Param("address"))

	status, err := h.statuses.Get(c.Request.Context(), addr)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"peer": status,
	})
}

func (h *PeerHandler) Connect(c *gin.Context) {
	addr := domain.PeerAddress(c.Param("address"))

	var req struct {
		Role domain.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		_ = c.Error(apperrors.NewInvalidInputError("invalid connect request").WithContext("reason", err.Error()))
		return
	}
	if req.Role != "" && !req.Role.Valid() {
		_ = c.Error(apperrors.NewInvalidInputError("role must be offerer or answerer"))
		return
	}

	if err := h.manager.Connect(c.Request.Context(), addr, req.Role); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"address": addr,
	})
}

func (h *PeerHandler) Renegotiate(c *gin.Context) {
	addr := domain.PeerAddress(c.Param("address"))

	if err := h.manager.Renegotiate(c.Request.Context(), addr); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *PeerHandler) RemovePeer(c *gin.Context) {
	addr := domain.PeerAddress(c.Param("address"))

	if err := h.manager.Remove(c.Request.Context(), addr); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type streamView struct {
	PeerAddress domain.PeerAddress   `json:"peer_address"`
	StreamID    string               `json:"stream_id"`
	Purpose     domain.StreamPurpose `json:"purpose"`
	Tracks      []string             `json:"tracks"`
}

func (h *PeerHandler) ListStreams(c *gin.Context) {
	streams := h.streams.List(c.Request.Context())

	out := make([]streamView, 0, len(streams))
	for _, s := range streams {
		v := streamView{
			PeerAddress: s.PeerAddress,
			StreamID:    s.StreamID,
			Purpose:     s.Purpose,
			Tracks:      make([]string, 0, len(s.Tracks)),
		}
		for _, t := range s.Tracks {
			v.Tracks = append(v.Tracks, t.Kind().String())
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeerAddress != out[j].PeerAddress {
			return out[i].PeerAddress < out[j].PeerAddress
		}
		return out[i].Purpose < out[j].Purpose
	})

	c.JSON(http.StatusOK, gin.H{
		"streams": out,
	})
}
