package gateway

import (
	"encoding/json"
	"strconv"
)

// buildEnvelope writes the envelope by hand; data is already JSON.
func buildEnvelope(channel string, seq int64, data []byte, ts int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+64)
	buf = append(buf, `{"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":`...)
	buf = strconv.AppendInt(buf, ts, 10)
	buf = append(buf, '}')
	return buf
}

// Broadcast stamps data with the next seq of channel, records it as the
// latest envelope and in the replay buffer, and sends it to every client
// subscribed to the channel's symbol. It returns the seq assigned.
func (h *Hub) Broadcast(channel string, data json.RawMessage) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seqs[channel]++
	seq := h.seqs[channel]
	env := buildEnvelope(channel, seq, data, h.now().UnixMilli())

	h.latest[channel] = env
	rb, ok := h.replay[channel]
	if !ok {
		rb = NewReplayBuffer(h.cfg.ReplaySize)
		h.replay[channel] = rb
	}
	rb.Push(seq, env)

	symbol := ChannelSymbol(channel)
	for c := range h.clients {
		if c.subscribed(symbol) {
			h.deliver(c, env)
		}
	}
	return seq
}

// deliver queues msg without blocking. Caller holds h.mu.
func (h *Hub) deliver(c *Client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		if h.OnDrop != nil {
			h.OnDrop()
		}
	}
}
