package webrtc

import (
	"strings"

	"meshvoice/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
)

// purposeFromTrackCount is the fallback for peers that do not tag their
// streams: a screen stream carries two tracks, a voice stream one.
func purposeFromTrackCount(desc *sdp.SessionDescription, streamID string) (domain.StreamPurpose, bool) {
	if desc == nil || streamID == "" {
		return "", false
	}

	count := 0
	for _, media := range desc.MediaDescriptions {
		msid, ok := media.Attribute("msid")
		if !ok {
			continue
		}
		if fields := strings.Fields(msid); len(fields) > 0 && fields[0] == streamID {
			count++
		}
	}

	switch count {
	case 2:
		return domain.PurposeScreen, true
	case 1:
		return domain.PurposeVoice, true
	}
	return "", false
}

// readSenderRTCP drains feedback about media we send. Reading is also what
// lets the NACK and report interceptors see it.
func (s *PeerSession) readSenderRTCP(sender *webrtc.RTPSender) {
	defer s.wg.Done()
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		s.processRTCPPackets("outbound", packets)
	}
}

func (s *PeerSession) readReceiverRTCP(receiver *webrtc.RTPReceiver) {
	defer s.wg.Done()
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		s.processRTCPPackets("inbound", packets)
	}
}

// processRTCPPackets runs on pion's goroutines and only touches the logger
// and the metrics collector.
func (s *PeerSession) processRTCPPackets(direction string, packets []rtcp.Packet) {
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			s.deps.Metrics.RTCPPacket(direction, "receiver_report")
			for _, report := range p.Reports {
				s.logger.Debugw("received receiver report",
					"direction", direction,
					"ssrc", report.SSRC,
					"fraction_lost", report.FractionLost,
					"jitter", report.Jitter,
				)
			}
		case *rtcp.SenderReport:
			s.deps.Metrics.RTCPPacket(direction, "sender_report")
			s.logger.Debugw("received sender report",
				"direction", direction,
				"ssrc", p.SSRC,
				"packet_count", p.PacketCount,
				"octet_count", p.OctetCount,
			)
		case *rtcp.TransportLayerNack:
			s.deps.Metrics.RTCPPacket(direction, "nack")
			s.logger.Debugw("received NACK", "direction", direction, "nacks", len(p.Nacks))
		case *rtcp.PictureLossIndication:
			s.deps.Metrics.RTCPPacket(direction, "pli")
			s.logger.Debugw("received PLI", "direction", direction, "media_ssrc", p.MediaSSRC)
		default:
			s.deps.Metrics.RTCPPacket(direction, "other")
		}
	}
}
