package server

import (
	"time"

	"github.com/Tyrowin/voicerelay/internal/protocol"
)

// route decodes one frame from sender and dispatches it. Frames that do not
// decode into a known envelope are dropped without touching the connection.
func (h *Hub) route(sender *Client, data []byte) {
	start := time.Now()
	msg := protocol.Parse(sender.codec, data)

	if unknown, ok := msg.(protocol.Unknown); ok {
		sender.logger().Debugf("dropping frame (type %q): %v", unknown.Type, unknown.Reason)
		h.metrics.Dropped("invalid_envelope")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[sender.id]; !ok || current != sender {
		return
	}

	switch m := msg.(type) {
	case protocol.Chat:
		ev := newOutbound(protocol.NewChatEvent(sender.id, m.Message))
		h.broadcastAll(ev, sender)

	case protocol.JoinVoice:
		h.join(sender, m.RoomID)

	case protocol.LeaveVoice:
		h.leave(sender, m.RoomID)

	case protocol.VoiceInvite:
		ev := newOutbound(protocol.NewRoomEvent(protocol.TypeVoiceInvite, sender.id, m.RoomID))
		h.unicast(m.Target, ev)

	case protocol.Signal:
		h.relaySignal(sender, m)
	}

	h.metrics.Routed(string(msg.EnvelopeType()), float64(time.Since(start).Microseconds())/1000)
}

// relaySignal forwards an offer, answer or ICE candidate to its target as it
// was received. Callers hold h.mu.
func (h *Hub) relaySignal(sender *Client, sig protocol.Signal) {
	target, ok := h.clients[sig.Target]
	if !ok {
		sender.logger().Debugf("%s target %d is not connected; dropping", sig.Kind, sig.Target)
		return
	}

	data, err := protocol.Transcode(sender.codec, target.codec, sig.Raw)
	if err != nil {
		sender.logger().Warnf("failed relaying %s to %d: %v", sig.Kind, sig.Target, err)
		h.metrics.DeliveryFailed()
		return
	}
	h.deliver(target, data)
}
