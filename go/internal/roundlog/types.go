package roundlog

import "time"

// RoundOutcome describes a round at the moment its cards were revealed.
type RoundOutcome struct {
	RoomID     string            `json:"room_id"`
	RevealedAt time.Time         `json:"revealed_at"`
	Forced     bool              `json:"forced"`
	Votes      map[string]string `json:"votes"`
	Consensus  bool              `json:"consensus"`
	Value      string            `json:"value,omitempty"`
}

// Recorder accepts round outcomes. Record must not block the caller.
type Recorder interface {
	Record(outcome RoundOutcome)
	Close() error
}

// NoOp discards every outcome. Used when no NATS server is configured.
type NoOp struct{}

func (NoOp) Record(RoundOutcome) {}
func (NoOp) Close() error        { return nil }
