package roundlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	URL            string
	StreamName     string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	MaxAge         time.Duration // How long to keep outcomes
	QueueSize      int
	PublishTimeout time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:            nats.DefaultURL,
		StreamName:     "POKER_ROUNDS",
		SubjectPrefix:  "poker.rounds",
		MaxReconnects:  -1, // Infinite
		ReconnectWait:  2 * time.Second,
		MaxAge:         7 * 24 * time.Hour,
		QueueSize:      256,
		PublishTimeout: 5 * time.Second,
	}
}

// Subject returns the subject revealed rounds are published on.
func (c JetStreamConfig) Subject() string {
	return fmt.Sprintf("%s.revealed", c.SubjectPrefix)
}

// JetStreamRecorder publishes round outcomes to a JetStream stream from a background worker.
type JetStreamRecorder struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig

	queue  chan RoundOutcome
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewJetStreamRecorder(cfg JetStreamConfig) (*JetStreamRecorder, error) {
	opts := []nats.Option{
		nats.Name("planning-poker-gateway"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	r := newRecorder(cfg)
	r.nc = nc
	r.js = js

	if err := r.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	r.start()
	return r, nil
}

func newRecorder(cfg JetStreamConfig) *JetStreamRecorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultJetStreamConfig().QueueSize
	}
	return &JetStreamRecorder{
		config: cfg,
		queue:  make(chan RoundOutcome, cfg.QueueSize),
	}
}

func (r *JetStreamRecorder) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        r.config.StreamName,
		Description: "Revealed planning poker rounds",
		Subjects:    []string{fmt.Sprintf("%s.>", r.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      r.config.MaxAge,
		Storage:     jetstream.FileStorage,
	}

	if _, err := r.js.CreateOrUpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("create or update stream: %w", err)
	}
	log.Info().Str("stream", r.config.StreamName).Msg("JetStream stream ready")
	return nil
}

func (r *JetStreamRecorder) start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for outcome := range r.queue {
			ctx, cancel := context.WithTimeout(context.Background(), r.config.PublishTimeout)
			if err := r.publish(ctx, outcome); err != nil {
				log.Error().Err(err).Str("room_id", outcome.RoomID).Msg("failed to publish round outcome")
			}
			cancel()
		}
	}()
}

// Record queues the outcome for publishing, dropping it when the queue is full.
func (r *JetStreamRecorder) Record(outcome RoundOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	select {
	case r.queue <- outcome:
	default:
		log.Warn().Str("room_id", outcome.RoomID).Msg("round log queue full, dropping outcome")
	}
}

func (r *JetStreamRecorder) publish(ctx context.Context, outcome RoundOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	eventID := uuid.New().String()
	ack, err := r.js.PublishMsg(ctx, &nats.Msg{
		Subject: r.config.Subject(),
		Data:    data,
		Header: nats.Header{
			"Room-ID":  []string{outcome.RoomID},
			"Event-ID": []string{eventID},
		},
	},
		jetstream.WithMsgID(eventID),
		jetstream.WithExpectStream(r.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("room_id", outcome.RoomID).
		Uint64("sequence", ack.Sequence).
		Str("stream", ack.Stream).
		Msg("published round outcome")
	return nil
}

// Close drains queued outcomes and closes the NATS connection.
func (r *JetStreamRecorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	if r.nc != nil {
		r.nc.Close()
	}
	return nil
}
