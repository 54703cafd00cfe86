package webrtc

import (
	"encoding/json"

	"meshvoice/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// bindDataChannel only posts events, so it is safe to call from pion's
// goroutines before the loop knows about dc.
func (s *PeerSession) bindDataChannel(dc *webrtc.DataChannel, gen uint64) {
	dc.OnOpen(func() {
		s.post(event{kind: evDataOpen, gen: gen, channel: dc})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.post(event{kind: evDataMessage, gen: gen, data: msg.Data})
	})
}

func (s *PeerSession) onRemoteDataChannel(dc *webrtc.DataChannel) {
	if dc.Label() != s.cfg.DataChannelLabel {
		s.logger.Infow("ignoring unexpected data channel", "label", dc.Label())
		return
	}
	if s.dc == nil {
		s.dc = dc
	}
}

// onDataOpen may arrive before the answerer has seen the channel itself.
func (s *PeerSession) onDataOpen(dc *webrtc.DataChannel) {
	if s.dc == nil {
		s.onRemoteDataChannel(dc)
	}
	if s.dc != dc || s.dcOpen {
		return
	}
	s.dcOpen = true
	s.updateStatus(func(st *domain.ConnectionStatus) { st.DataChannelOpen = true })
	s.logger.Infow("data channel open", "label", s.dc.Label(), "attempt_id", s.attemptID)

	gen := s.gen
	s.heartbeat = newHeartbeat(
		s.clock,
		s.cfg.HeartbeatInterval,
		s.cfg.HeartbeatTimeout,
		s.sendData,
		s.publishLatency,
		func(kind eventKind, seq uint64) { s.post(event{kind: kind, gen: gen, seq: seq}) },
	)
	s.heartbeat.start()

	if err := s.sendSyncStatus(); err != nil {
		s.logger.Warnw("failed to send status", "error", err)
	}
	s.armResync()
}

func (s *PeerSession) publishLatency(ms int64) {
	if ms == domain.LatencyTimeout {
		s.deps.Metrics.HeartbeatTimeout()
		s.logger.Debugw("heartbeat timed out")
	} else {
		s.deps.Metrics.HeartbeatLatency(ms)
	}
	s.updateStatus(func(st *domain.ConnectionStatus) { st.Latency = ms })
}

// onDataMessage never fails the session: bad payloads and unknown types are
// logged and dropped.
func (s *PeerSession) onDataMessage(data []byte) {
	var msg domain.DataMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warnw("malformed data channel message", "error", err, "size", len(data))
		return
	}

	switch msg.Type {
	case domain.DataPing:
		if err := s.sendData(domain.DataMessage{Type: domain.DataPong, Seq: msg.Seq}); err != nil {
			s.logger.Debugw("error sending pong", "error", err)
		}
	case domain.DataPong:
		if s.heartbeat != nil && !s.heartbeat.onPong(msg.Seq) {
			s.logger.Debugw("ignoring late pong", "seq", msg.Seq)
		}
	case domain.DataSyncStatus:
		s.onSyncStatus(msg.Status)
	default:
		s.logger.Infow("ignoring unknown data channel message", "type", msg.Type)
	}
}

func (s *PeerSession) onSyncStatus(status *domain.Mirror) {
	if status == nil {
		s.logger.Warnw("sync_status without status")
		return
	}

	var user *domain.User
	if status.User != nil {
		u := *status.User
		user = &u
	}
	s.updateStatus(func(st *domain.ConnectionStatus) { st.UserConfig = user })

	if _, err := s.deps.Membership.ApplyRemoteStatus(s.ctx, s.addr, *status); err != nil {
		s.logger.Warnw("failed to apply remote status", "error", err)
	}
}

func (s *PeerSession) sendSyncStatus() error {
	mirror := s.deps.Mirror()
	return s.sendData(domain.DataMessage{Type: domain.DataSyncStatus, Status: &mirror})
}

func (s *PeerSession) armResync() {
	if s.cfg.ResyncInterval <= 0 {
		return
	}
	s.stopResync()
	gen := s.gen
	s.resyncTimer = s.clock.AfterFunc(s.cfg.ResyncInterval, func() { s.post(event{kind: evResync, gen: gen}) })
}

func (s *PeerSession) stopResync() {
	if s.resyncTimer != nil {
		s.resyncTimer.Stop()
		s.resyncTimer = nil
	}
}

func (s *PeerSession) onResync() {
	s.resyncTimer = nil
	if !s.dcOpen {
		return
	}
	if err := s.sendSyncStatus(); err != nil {
		s.logger.Debugw("failed to resync status", "error", err)
	}
	s.armResync()
}
