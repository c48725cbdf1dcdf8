package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/room"
	"github.com/mcdev12/planningpoker/go/internal/roundlog"
)

// Service is the planning poker gateway: it owns the room store, the coordinator and the
// WebSocket handler for one process.
type Service struct {
	store             *room.Store
	coordinator       *Coordinator
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	recorder          roundlog.Recorder
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	RoomConfig       room.Config
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		RoomConfig:       room.DefaultConfig(),
	}
}

// NewService creates a new gateway service. A nil recorder disables the round log.
func NewService(config Config, recorder roundlog.Recorder) *Service {
	if recorder == nil {
		recorder = roundlog.NoOp{}
	}
	if config.RoomConfig.Clock == nil {
		config.RoomConfig.Clock = clockwork.NewRealClock()
	}

	store := room.NewStore(config.RoomConfig)
	coordinator := NewCoordinator(store, recorder, config.RoomConfig.Clock)
	connectionManager := NewConnectionManager(config.ConnectionConfig, coordinator)

	return &Service{
		store:             store,
		coordinator:       coordinator,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, coordinator),
		recorder:          recorder,
	}
}

// Start blocks until ctx is cancelled, then stops the service
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting planning poker gateway")

	<-ctx.Done()

	log.Info().Msg("planning poker gateway shutting down")
	return s.Stop()
}

// Stop closes every connection, stops room reclamation and flushes the round log
func (s *Service) Stop() error {
	s.coordinator.Shutdown()
	s.store.Close()

	if err := s.recorder.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close round log")
		return err
	}

	log.Info().Msg("planning poker gateway stopped")
	return nil
}

// RegisterRoutes registers the gateway HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.coordinator.Stats()
	stats["service"] = "planning_poker_gateway"
	stats["status"] = "running"
	return stats
}
