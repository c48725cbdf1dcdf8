package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager upgrades HTTP requests to participant connections and runs their pumps
type ConnectionManager struct {
	upgrader    websocket.Upgrader
	config      ConnectionConfig
	coordinator *Coordinator
}

// Connection is one participant's WebSocket connection
type Connection struct {
	ID            string
	ParticipantID string
	RoomID        string
	Conn          *websocket.Conn
	Send          chan []byte

	ConnectedAt time.Time

	// guarded by the coordinator lock
	closed bool
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, coordinator *Coordinator) *ConnectionManager {
	return &ConnectionManager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		coordinator: coordinator,
	}
}

// NewConnection creates a connection for a fresh participant in the room.
// conn may be nil when the caller delivers Send itself.
func NewConnection(roomID string, conn *websocket.Conn, sendBuffer int) *Connection {
	return &Connection{
		ID:            uuid.New().String(),
		ParticipantID: uuid.New().String(),
		RoomID:        roomID,
		Conn:          conn,
		Send:          make(chan []byte, sendBuffer),
		ConnectedAt:   time.Now(),
	}
}

// UpgradeConnection upgrades an HTTP connection and joins the participant to the room
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, roomID, name string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := NewConnection(roomID, conn, cm.config.SendBufferSize)

	go cm.writePump(connection)
	cm.coordinator.Join(connection, name)
	go cm.readPump(connection)

	log.Info().
		Str("connection_id", connection.ID).
		Str("participant_id", connection.ParticipantID).
		Str("room_id", roomID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")

	return nil
}

// trySend queues data without blocking. It fails when the connection is closed or its buffer is full.
// Callers must hold the coordinator lock.
func (c *Connection) trySend(data []byte) bool {
	if c.closed {
		return false
	}

	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// close stops delivery; the write pump then closes the socket.
// Callers must hold the coordinator lock.
func (c *Connection) close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// writePump handles sending messages to the WebSocket connection
func (cm *ConnectionManager) writePump(c *Connection) {
	ticker := time.NewTicker(cm.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(cm.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().
					Err(err).
					Str("participant_id", c.ParticipantID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cm.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().
					Err(err).
					Str("participant_id", c.ParticipantID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads client messages until the socket closes, then removes the participant
func (cm *ConnectionManager) readPump(c *Connection) {
	defer func() {
		cm.coordinator.Leave(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(cm.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cm.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cm.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("participant_id", c.ParticipantID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		if !cm.handleClientMessage(c, message) {
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(cm.config.ReadTimeout))
	}
}

// handleClientMessage applies one message, isolating panics to this connection.
// It reports whether the connection should stay open.
func (cm *ConnectionManager) handleClientMessage(c *Connection, message []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("connection_id", c.ID).
				Str("room_id", c.RoomID).
				Str("participant_id", c.ParticipantID).
				Msg("recovered from panic while handling message")
			ok = false
		}
	}()

	log.Debug().
		Str("participant_id", c.ParticipantID).
		Bytes("message", message).
		Msg("received client message")

	cm.coordinator.HandleMessage(c, message)
	return true
}
