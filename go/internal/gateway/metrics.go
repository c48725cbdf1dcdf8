package gateway

import "sync/atomic"

// Metrics counts gateway traffic
type Metrics struct {
	connectionsOpened atomic.Uint64
	messagesReceived  atomic.Uint64
	messagesDropped   atomic.Uint64
	messagesSent      atomic.Uint64
	sendFailures      atomic.Uint64
	roundsRevealed    atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	ConnectionsOpened uint64 `json:"connections_opened"`
	MessagesReceived  uint64 `json:"messages_received"`
	MessagesDropped   uint64 `json:"messages_dropped"`
	MessagesSent      uint64 `json:"messages_sent"`
	SendFailures      uint64 `json:"send_failures"`
	RoundsRevealed    uint64 `json:"rounds_revealed"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ConnectionsOpened: m.connectionsOpened.Load(),
		MessagesReceived:  m.messagesReceived.Load(),
		MessagesDropped:   m.messagesDropped.Load(),
		MessagesSent:      m.messagesSent.Load(),
		SendFailures:      m.sendFailures.Load(),
		RoundsRevealed:    m.roundsRevealed.Load(),
	}
}
