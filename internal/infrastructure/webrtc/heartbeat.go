package webrtc

import (
	"time"

	"meshvoice/internal/core/domain"
)

type outstandingPing struct {
	sentAt   time.Time
	deadline stopper
}

// heartbeat probes the data channel. Every ping carries a sequence number and
// owns its deadline, so a late reply to one ping never borrows the send time
// of another. All methods run on the owning session's loop; timers only
// notify the loop.
type heartbeat struct {
	clock    clock
	interval time.Duration
	timeout  time.Duration

	send    func(domain.DataMessage) error
	publish func(latencyMs int64)
	notify  func(kind eventKind, seq uint64)

	running bool
	tick    stopper
	seq     uint64
	newest  uint64
	pending map[uint64]outstandingPing
}

func newHeartbeat(
	c clock,
	interval, timeout time.Duration,
	send func(domain.DataMessage) error,
	publish func(int64),
	notify func(eventKind, uint64),
) *heartbeat {
	return &heartbeat{
		clock:    c,
		interval: interval,
		timeout:  timeout,
		send:     send,
		publish:  publish,
		notify:   notify,
		pending:  make(map[uint64]outstandingPing),
	}
}

func (h *heartbeat) start() {
	if h.running {
		return
	}
	h.running = true
	h.armTick()
}

func (h *heartbeat) stop() {
	h.running = false
	if h.tick != nil {
		h.tick.Stop()
		h.tick = nil
	}
	for seq, p := range h.pending {
		p.deadline.Stop()
		delete(h.pending, seq)
	}
}

func (h *heartbeat) armTick() {
	h.tick = h.clock.AfterFunc(h.interval, func() { h.notify(evHeartbeatTick, 0) })
}

// onTick sends the next ping and arms its deadline.
func (h *heartbeat) onTick() error {
	if !h.running {
		return nil
	}
	h.armTick()

	h.seq++
	seq := h.seq
	h.newest = seq
	h.pending[seq] = outstandingPing{
		sentAt:   h.clock.Now(),
		deadline: h.clock.AfterFunc(h.timeout, func() { h.notify(evHeartbeatDeadline, seq) }),
	}

	return h.send(domain.DataMessage{Type: domain.DataPing, Seq: &seq})
}

// onDeadline publishes the timeout sentinel if seq is still unanswered.
func (h *heartbeat) onDeadline(seq uint64) {
	if _, ok := h.pending[seq]; !ok {
		return
	}
	delete(h.pending, seq)
	h.publish(domain.LatencyTimeout)
}

// onPong resolves the ping it answers. A pong without a sequence number
// answers the newest ping. Replies to pings that already timed out are
// dropped; the bool reports whether a latency was published.
func (h *heartbeat) onPong(seq *uint64) bool {
	target := h.newest
	if seq != nil {
		target = *seq
	}

	p, ok := h.pending[target]
	if !ok {
		return false
	}
	p.deadline.Stop()
	delete(h.pending, target)

	h.publish(h.clock.Now().Sub(p.sentAt).Milliseconds())
	return true
}

func (h *heartbeat) outstanding() int {
	return len(h.pending)
}
