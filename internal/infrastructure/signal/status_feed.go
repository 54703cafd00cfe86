package signal

import (
	"context"
	"net/http"
	"time"

	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	// The feed is served on the mesh interface only and carries no secrets.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// FeedMessage is one frame of the status feed.
type FeedMessage struct {
	Type     string                    `json:"type"` // snapshot | update | removed
	Statuses []domain.ConnectionStatus `json:"statuses,omitempty"`
	Status   *domain.ConnectionStatus  `json:"status,omitempty"`
}

// StatusFeed streams connection status changes to the rendering layer over
// a websocket: a snapshot on connect, then one frame per change.
type StatusFeed struct {
	statuses ports.StatusRepository

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	buffer       int

	logger *zap.SugaredLogger
}

func NewStatusFeed(statuses ports.StatusRepository, logger *zap.SugaredLogger) *StatusFeed {
	return &StatusFeed{
		statuses:     statuses,
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		buffer:       64,
		logger:       logger,
	}
}

// SetPingInterval sets ping interval for WebSocket connections
func (s *StatusFeed) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
	if s.readTimeout < 2*interval {
		s.readTimeout = 2 * interval
	}
}

func (s *StatusFeed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Subscribe before the snapshot so no change falls between them.
	events, cancel := s.statuses.Subscribe(s.buffer)
	defer cancel()

	snapshot, err := s.statuses.List(r.Context())
	if err != nil {
		s.logger.Warnw("failed to list statuses", "error", err)
		return
	}
	if err := s.write(conn, FeedMessage{Type: "snapshot", Statuses: snapshot}); err != nil {
		return
	}

	remote := r.RemoteAddr
	s.logger.Infow("status feed client connected", "remote_addr", remote)

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	// The feed is one way; reading only drives pong and close handling.
	go func() {
		defer stop()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Infow("status feed read error", "remote_addr", remote, "error", err)
				}
				return
			}
		}
	}()

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("status feed client disconnected", "remote_addr", remote)
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			msg := FeedMessage{Type: "update", Status: &ev.Status}
			if ev.Removed {
				msg.Type = "removed"
			}
			if err := s.write(conn, msg); err != nil {
				s.logger.Infow("error writing status", "remote_addr", remote, "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "remote_addr", remote, "error", err)
				return
			}
		}
	}
}

func (s *StatusFeed) write(conn *websocket.Conn, msg FeedMessage) error {
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.WriteJSON(msg)
}
