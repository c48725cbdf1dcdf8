package gateway

import (
	"encoding/json"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/mcdev12/planningpoker/go/internal/room"
	"github.com/mcdev12/planningpoker/go/internal/roundlog"
)

// Coordinator binds live connections to room participants, applies their events to the
// room store and fans the resulting state out to every connection in the room.
//
// All event handling runs under one lock, so each event and the broadcasts it causes
// complete before the next event is applied.
type Coordinator struct {
	mu          sync.Mutex
	store       *room.Store
	recorder    roundlog.Recorder
	metrics     *Metrics
	clock       clockwork.Clock
	connections map[string]map[string]*Connection // room ID -> participant ID -> connection
}

// NewCoordinator creates a coordinator over the given store.
func NewCoordinator(store *room.Store, recorder roundlog.Recorder, clock clockwork.Clock) *Coordinator {
	if recorder == nil {
		recorder = roundlog.NoOp{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Coordinator{
		store:       store,
		recorder:    recorder,
		metrics:     &Metrics{},
		clock:       clock,
		connections: make(map[string]map[string]*Connection),
	}
}

// Join admits a new estimator for the connection and sends everyone in the room the new state.
func (c *Coordinator) Join(conn *Connection, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Admit(conn.RoomID, models.NewParticipant(conn.ParticipantID, name))

	if c.connections[conn.RoomID] == nil {
		c.connections[conn.RoomID] = make(map[string]*Connection)
	}
	c.connections[conn.RoomID][conn.ParticipantID] = conn
	c.metrics.connectionsOpened.Add(1)

	log.Info().
		Str("room_id", conn.RoomID).
		Str("participant_id", conn.ParticipantID).
		Str("connection_id", conn.ID).
		Int("room_connections", len(c.connections[conn.RoomID])).
		Msg("participant joined")

	c.broadcastRoomState(conn.RoomID)
}

// Leave removes the connection's participant and updates the rest of the room.
// Leaving twice is a no-op.
func (c *Coordinator) Leave(conn *Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.unregister(conn) {
		return
	}

	log.Info().
		Str("room_id", conn.RoomID).
		Str("participant_id", conn.ParticipantID).
		Str("connection_id", conn.ID).
		Msg("participant left")

	c.broadcastRoomState(conn.RoomID)
}

// HandleMessage parses a raw client message and applies it. Malformed messages are dropped.
func (c *Coordinator) HandleMessage(conn *Connection, data []byte) {
	c.metrics.messagesReceived.Add(1)

	event, err := ParseInboundEvent(data)
	if err != nil {
		c.metrics.messagesDropped.Add(1)
		log.Debug().
			Err(err).
			Str("room_id", conn.RoomID).
			Str("participant_id", conn.ParticipantID).
			Msg("dropping malformed message")
		return
	}

	c.HandleEvent(conn, event)
}

// HandleEvent applies a typed event sent over conn.
func (c *Coordinator) HandleEvent(conn *Connection, event InboundEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The connection may have been evicted after a failed send.
	if c.connections[conn.RoomID][conn.ParticipantID] != conn {
		return
	}

	roomID, senderID := conn.RoomID, conn.ParticipantID

	log.Debug().
		Str("room_id", roomID).
		Str("participant_id", senderID).
		Str("event_type", string(event.Type())).
		Msg("handling event")

	switch e := event.(type) {
	case SelectCardEvent:
		if !c.store.SelectCard(roomID, senderID, e.Value) {
			return
		}
		c.broadcastRoomState(roomID)
		if c.store.AllEstimatorsVoted(roomID) {
			c.revealRound(roomID, false)
		}

	case ToggleSpectatorEvent:
		if c.store.ToggleSpectator(roomID, senderID) {
			c.broadcastRoomState(roomID)
		}

	case ForceSpectatorEvent:
		if c.store.ForceSpectator(roomID, senderID, e.UserID) {
			c.broadcastRoomState(roomID)
		}

	case NudgeEvent:
		sender, ok := c.store.Participant(roomID, senderID)
		if !ok {
			return
		}
		target, ok := c.connections[roomID][e.TargetID]
		if !ok {
			return
		}
		c.sendTo(target, nudgeReceivedMessage(sender.Name))

	case ForceRevealEvent:
		if c.isAdmin(roomID, senderID) {
			c.revealRound(roomID, true)
		}

	case ResetRoundEvent:
		if c.isAdmin(roomID, senderID) && c.store.ResetRound(roomID) {
			c.broadcastRoomState(roomID)
		}
	}
}

// revealRound reveals the room's cards and announces consensus when there is one.
// Callers must hold c.mu.
func (c *Coordinator) revealRound(roomID string, forced bool) {
	if !c.store.Reveal(roomID) {
		return
	}
	c.metrics.roundsRevealed.Add(1)
	c.broadcastRoomState(roomID)

	agreed, value := c.store.ComputeConsensus(roomID)
	c.recorder.Record(roundlog.RoundOutcome{
		RoomID:     roomID,
		RevealedAt: c.clock.Now().UTC(),
		Forced:     forced,
		Votes:      c.store.Votes(roomID),
		Consensus:  agreed,
		Value:      value,
	})

	if agreed {
		c.broadcast(roomID, consensusMessage(value))
	}
}

func (c *Coordinator) isAdmin(roomID, participantID string) bool {
	p, ok := c.store.Participant(roomID, participantID)
	return ok && p.IsAdmin
}

// broadcastRoomState sends the current room snapshot to the whole room.
// Callers must hold c.mu.
func (c *Coordinator) broadcastRoomState(roomID string) {
	state, ok := c.store.Snapshot(roomID)
	if !ok {
		return
	}
	c.broadcast(roomID, roomStateMessage(state))
}

// broadcast sends msg to every connection in the room. Connections that cannot take the
// message are evicted once the whole room has been tried. Callers must hold c.mu.
func (c *Coordinator) broadcast(roomID string, msg *OutboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(msg.Type)).Msg("failed to marshal event for broadcast")
		return
	}

	var failed []*Connection
	for _, conn := range c.connections[roomID] {
		if !conn.trySend(data) {
			failed = append(failed, conn)
		}
	}
	c.metrics.messagesSent.Add(uint64(len(c.connections[roomID]) - len(failed)))

	log.Debug().
		Str("event_type", string(msg.Type)).
		Str("room_id", roomID).
		Int("failed", len(failed)).
		Msg("event broadcasted")

	c.evict(roomID, failed)
}

// sendTo sends msg to one connection, evicting it on failure. Callers must hold c.mu.
func (c *Coordinator) sendTo(conn *Connection, msg *OutboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(msg.Type)).Msg("failed to marshal event")
		return
	}

	if conn.trySend(data) {
		c.metrics.messagesSent.Add(1)
		return
	}
	c.evict(conn.RoomID, []*Connection{conn})
}

// evict treats failed connections as departed and tells the rest of the room.
// Callers must hold c.mu.
func (c *Coordinator) evict(roomID string, failed []*Connection) {
	removed := false
	for _, conn := range failed {
		c.metrics.sendFailures.Add(1)
		if c.unregister(conn) {
			removed = true
			log.Warn().
				Str("room_id", conn.RoomID).
				Str("participant_id", conn.ParticipantID).
				Str("connection_id", conn.ID).
				Msg("send failed, removing participant")
		}
	}

	if removed {
		c.broadcastRoomState(roomID)
	}
}

// unregister drops the connection binding and its participant.
// Callers must hold c.mu.
func (c *Coordinator) unregister(conn *Connection) bool {
	connections, exists := c.connections[conn.RoomID]
	if !exists || connections[conn.ParticipantID] != conn {
		return false
	}

	delete(connections, conn.ParticipantID)
	if len(connections) == 0 {
		delete(c.connections, conn.RoomID)
	}
	conn.close()
	c.store.Remove(conn.RoomID, conn.ParticipantID)
	return true
}

// Shutdown closes every connection without further broadcasts.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for roomID, connections := range c.connections {
		for _, conn := range connections {
			conn.close()
			c.store.Remove(roomID, conn.ParticipantID)
		}
		delete(c.connections, roomID)
	}
}

// Stats returns connection and room counts plus traffic counters.
func (c *Coordinator) Stats() map[string]interface{} {
	c.mu.Lock()
	totalConnections := 0
	roomCounts := make(map[string]int, len(c.connections))
	for roomID, connections := range c.connections {
		totalConnections += len(connections)
		roomCounts[roomID] = len(connections)
	}
	c.mu.Unlock()

	rooms, participants := c.store.Stats()

	return map[string]interface{}{
		"total_connections": totalConnections,
		"room_connections":  roomCounts,
		"active_rooms":      rooms,
		"participants":      participants,
		"metrics":           c.metrics.Snapshot(),
	}
}
