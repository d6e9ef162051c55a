package connection

import "time"

// Health is a point-in-time snapshot of the connection's liveness and
// traffic counters.
type Health struct {
	State State

	RTT time.Duration

	BytesSent     uint64
	BytesReceived uint64

	MessagesSent     uint64
	MessagesReceived uint64

	LastPingSeen time.Time
	LastPongSeen time.Time
	ConnectedAt  time.Time

	PendingCalls int
}

// Health captures the connection's current counters.
func (c *Connection) Health() Health {
	h := Health{
		State:            c.State(),
		RTT:              time.Duration(c.rttMicros.Load()) * time.Microsecond,
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		ConnectedAt:      c.connectedAt,
		PendingCalls:     c.pending.size(),
	}

	if ms := c.lastPingSeen.Load(); ms > 0 {
		h.LastPingSeen = time.UnixMilli(ms)
	}

	if ms := c.lastPongSeen.Load(); ms > 0 {
		h.LastPongSeen = time.UnixMilli(ms)
	}

	if c.transport != nil {
		h.BytesSent = c.transport.BytesOut()
		h.BytesReceived = c.transport.BytesIn()
	}

	return h
}
