package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds gateway process settings.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`

	WebSocket struct {
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		MaxMessageSize int64         `yaml:"max_message_size"`
		SendBuffer     int           `yaml:"send_buffer"`
	} `yaml:"websocket"`

	Rooms struct {
		EmptyRoomTTL time.Duration `yaml:"empty_room_ttl"`
		StrictDeck   bool          `yaml:"strict_deck"`
	} `yaml:"rooms"`

	NATS struct {
		URL           string `yaml:"url"`
		Stream        string `yaml:"stream"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

// Default returns the built-in settings.
func Default() Config {
	var c Config
	c.Port = "8000"
	c.LogLevel = "info"
	c.CORS.AllowedOrigins = []string{"*"}
	c.WebSocket.WriteTimeout = 10 * time.Second
	c.WebSocket.ReadTimeout = 60 * time.Second
	c.WebSocket.PingInterval = 30 * time.Second
	c.WebSocket.MaxMessageSize = 4096
	c.WebSocket.SendBuffer = 256
	c.Rooms.EmptyRoomTTL = 30 * time.Second
	c.NATS.Stream = "POKER_ROUNDS"
	c.NATS.SubjectPrefix = "poker.rounds"
	return c
}

// Load builds the configuration from defaults, the optional YAML file named by
// POKER_CONFIG, and environment variables, in increasing precedence.
func Load() (Config, error) {
	c := Default()

	if path := os.Getenv("POKER_CONFIG"); path != "" {
		if err := c.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	c.applyEnv()

	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.CORS.AllowedOrigins = splitList(origins)
	}

	c.WebSocket.WriteTimeout = getEnvAsDuration("WS_WRITE_TIMEOUT", c.WebSocket.WriteTimeout)
	c.WebSocket.ReadTimeout = getEnvAsDuration("WS_READ_TIMEOUT", c.WebSocket.ReadTimeout)
	c.WebSocket.PingInterval = getEnvAsDuration("WS_PING_INTERVAL", c.WebSocket.PingInterval)
	c.WebSocket.MaxMessageSize = int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", int(c.WebSocket.MaxMessageSize)))
	c.WebSocket.SendBuffer = getEnvAsInt("WS_SEND_BUFFER", c.WebSocket.SendBuffer)

	c.Rooms.EmptyRoomTTL = getEnvAsDuration("EMPTY_ROOM_TTL", c.Rooms.EmptyRoomTTL)
	c.Rooms.StrictDeck = getEnvAsBool("STRICT_DECK", c.Rooms.StrictDeck)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Stream = getEnv("NATS_STREAM", c.NATS.Stream)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
}

// Validate rejects settings the gateway cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("at least one CORS origin is required"))
	}
	if c.WebSocket.WriteTimeout <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.PingInterval <= 0 {
		errs = append(errs, errors.New("websocket timeouts must be positive"))
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		errs = append(errs, errors.New("websocket ping interval must be shorter than the read timeout"))
	}
	if c.WebSocket.MaxMessageSize <= 0 || c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, errors.New("websocket message size and send buffer must be positive"))
	}
	if c.Rooms.EmptyRoomTTL < 0 {
		errs = append(errs, errors.New("empty room TTL cannot be negative"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the configured zerolog level.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
		return fallback
	}
	return n
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
		return fallback
	}
	return d
}

func getEnvAsBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid boolean, using default")
		return fallback
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
