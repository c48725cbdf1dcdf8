package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/planningpoker/go/internal/config"
	"github.com/mcdev12/planningpoker/go/internal/gateway"
	"github.com/mcdev12/planningpoker/go/internal/roundlog"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	log.Info().
		Str("port", cfg.Port).
		Strs("cors_origins", cfg.CORS.AllowedOrigins).
		Dur("empty_room_ttl", cfg.Rooms.EmptyRoomTTL).
		Bool("strict_deck", cfg.Rooms.StrictDeck).
		Str("nats_url", cfg.NATS.URL).
		Msg("starting planning poker gateway")

	recorder := setupRoundLog(cfg)

	gatewayService := gateway.NewService(gatewayConfig(cfg), recorder)

	// Setup HTTP server
	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)

	// Add health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	// Add service info
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(gatewayService.GetStats()); err != nil {
			log.Error().Err(err).Msg("failed to write info response")
		}
	})

	handler := gateway.NewCORS(cfg.CORS.AllowedOrigins).Handler(mux)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     h2c.NewHandler(handler, &http2.Server{}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	// Start HTTP server
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Hijacked WebSocket connections are not tracked by the server; the service closes them.
	cancel()
	<-serviceDone

	log.Info().Msg("planning poker gateway shutdown complete")
}

func gatewayConfig(cfg config.Config) gateway.Config {
	gc := gateway.DefaultConfig()

	gc.ConnectionConfig.WriteTimeout = cfg.WebSocket.WriteTimeout
	gc.ConnectionConfig.ReadTimeout = cfg.WebSocket.ReadTimeout
	gc.ConnectionConfig.PingInterval = cfg.WebSocket.PingInterval
	gc.ConnectionConfig.MaxMessageSize = cfg.WebSocket.MaxMessageSize
	gc.ConnectionConfig.SendBufferSize = cfg.WebSocket.SendBuffer
	gc.ConnectionConfig.CheckOrigin = gateway.OriginChecker(cfg.CORS.AllowedOrigins)

	gc.RoomConfig.EmptyRoomTTL = cfg.Rooms.EmptyRoomTTL
	gc.RoomConfig.StrictDeck = cfg.Rooms.StrictDeck

	return gc
}

func setupRoundLog(cfg config.Config) roundlog.Recorder {
	if cfg.NATS.URL == "" {
		log.Info().Msg("NATS_URL not set, round log disabled")
		return roundlog.NoOp{}
	}

	jsCfg := roundlog.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATS.URL
	jsCfg.StreamName = cfg.NATS.Stream
	jsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

	recorder, err := roundlog.NewJetStreamRecorder(jsCfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to start round log, continuing without it")
		return roundlog.NoOp{}
	}
	return recorder
}
