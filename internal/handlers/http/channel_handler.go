package http

import (
	"net/http"
	"sort"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"

	"github.com/gin-gonic/gin"
)

type ChannelHandler struct {
	channels ports.ChannelRepository
}

func NewChannelHandler(channels ports.ChannelRepository) *ChannelHandler {
	return &ChannelHandler{channels: channels}
}

func (h *ChannelHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/channels", h.ListChannels)
	}
}

type channelView struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name,omitempty"`
	Description string        `json:"description,omitempty"`
	Temporary   bool          `json:"temporary"`
	Users       []domain.User `json:"users"`
}

// ListChannels returns every channel that is stored or has members. Preset
// channels may be known only by id.
func (h *ChannelHandler) ListChannels(c *gin.Context) {
	ctx := c.Request.Context()

	preset, err := h.channels.IsPresetChannels(ctx)
	if err != nil {
		_ = c.Error(err)
		return
	}
	stored, err := h.channels.ListChannels(ctx)
	if err != nil {
		_ = c.Error(err)
		return
	}
	memberships, err := h.channels.Memberships(ctx)
	if err != nil {
		_ = c.Error(err)
		return
	}

	byID := make(map[int64]*channelView, len(stored)+len(memberships))
	for _, ch := range stored {
		byID[ch.ID] = &channelView{
			ID:          ch.ID,
			Name:        ch.Name,
			Description: ch.Description,
			Temporary:   ch.Temporary,
			Users:       []domain.User{},
		}
	}
	for id, users := range memberships {
		v, ok := byID[id]
		if !ok {
			v = &channelView{ID: id}
			byID[id] = v
		}
		v.Users = users
	}

	out := make([]channelView, 0, len(byID))
	for _, v := range byID {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	c.JSON(http.StatusOK, gin.H{
		"preset_channels": preset,
		"channels":        out,
	})
}
