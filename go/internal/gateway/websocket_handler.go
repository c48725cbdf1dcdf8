package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for room connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	coordinator       *Coordinator
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, coordinator *Coordinator) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		coordinator:       coordinator,
	}
}

// HandleRoomConnection joins the caller to the room named in the path.
// The display name comes from the required "name" query parameter.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusNotFound)
		return
	}

	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	// On failure the upgrader has already written an HTTP error response.
	if err := h.connectionManager.UpgradeConnection(w, r, roomID, name); err != nil {
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coordinator.Stats())
}

// HandleRoot is the liveness check
func (h *WebSocketHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Planning Poker API running"})
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.HandleRoot)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
	mux.HandleFunc("GET /ws/{room_id}", h.HandleRoomConnection)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
