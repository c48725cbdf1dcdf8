package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

// EventType is the type tag of a wire message
type EventType string

// Client → Server
const (
	EventTypeSelectCard      EventType = "select_card"
	EventTypeToggleSpectator EventType = "toggle_spectator"
	EventTypeForceSpectator  EventType = "force_spectator"
	EventTypeNudge           EventType = "nudge"
	EventTypeForceReveal     EventType = "force_reveal"
	EventTypeResetRound      EventType = "reset_round"
)

// Server → Client
const (
	EventTypeRoomState     EventType = "room_state"
	EventTypeConsensus     EventType = "consensus"
	EventTypeNudgeReceived EventType = "nudge_received"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingField     = errors.New("missing required payload field")
)

// Message is the envelope used in both directions
type Message struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// InboundEvent is one of the events a participant may send.
type InboundEvent interface {
	Type() EventType
}

type SelectCardEvent struct {
	Value string
}

type ToggleSpectatorEvent struct{}

type ForceSpectatorEvent struct {
	UserID string
}

type NudgeEvent struct {
	TargetID string
}

type ForceRevealEvent struct{}

type ResetRoundEvent struct{}

func (SelectCardEvent) Type() EventType      { return EventTypeSelectCard }
func (ToggleSpectatorEvent) Type() EventType { return EventTypeToggleSpectator }
func (ForceSpectatorEvent) Type() EventType  { return EventTypeForceSpectator }
func (NudgeEvent) Type() EventType           { return EventTypeNudge }
func (ForceRevealEvent) Type() EventType     { return EventTypeForceReveal }
func (ResetRoundEvent) Type() EventType      { return EventTypeResetRound }

// ParseInboundEvent decodes a raw client message into a typed event.
func ParseInboundEvent(data []byte) (InboundEvent, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	payload := msg.Payload
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		payload = []byte("{}")
	}

	switch msg.Type {
	case EventTypeSelectCard:
		var p struct {
			Value string `json:"value"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.Value == "" {
			return nil, fmt.Errorf("%s: value: %w", msg.Type, ErrMissingField)
		}
		return SelectCardEvent{Value: p.Value}, nil

	case EventTypeToggleSpectator:
		if err := decodePayload(payload, &struct{}{}); err != nil {
			return nil, err
		}
		return ToggleSpectatorEvent{}, nil

	case EventTypeForceSpectator:
		var p struct {
			UserID string `json:"user_id"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, fmt.Errorf("%s: user_id: %w", msg.Type, ErrMissingField)
		}
		return ForceSpectatorEvent{UserID: p.UserID}, nil

	case EventTypeNudge:
		var p struct {
			TargetID string `json:"target_id"`
		}
		if err := decodePayload(payload, &p); err != nil {
			return nil, err
		}
		if p.TargetID == "" {
			return nil, fmt.Errorf("%s: target_id: %w", msg.Type, ErrMissingField)
		}
		return NudgeEvent{TargetID: p.TargetID}, nil

	case EventTypeForceReveal:
		if err := decodePayload(payload, &struct{}{}); err != nil {
			return nil, err
		}
		return ForceRevealEvent{}, nil

	case EventTypeResetRound:
		if err := decodePayload(payload, &struct{}{}); err != nil {
			return nil, err
		}
		return ResetRoundEvent{}, nil

	default:
		return nil, fmt.Errorf("%q: %w", msg.Type, ErrUnknownEventType)
	}
}

// decodePayload requires the payload to be a JSON object.
func decodePayload(payload json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// OutboundMessage is a server message before encoding
type OutboundMessage struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

type ConsensusPayload struct {
	Value string `json:"value"`
}

type NudgeReceivedPayload struct {
	FromUser string `json:"from_user"`
}

func roomStateMessage(state *models.RoomState) *OutboundMessage {
	return &OutboundMessage{Type: EventTypeRoomState, Payload: state}
}

func consensusMessage(value string) *OutboundMessage {
	return &OutboundMessage{Type: EventTypeConsensus, Payload: ConsensusPayload{Value: value}}
}

func nudgeReceivedMessage(fromUser string) *OutboundMessage {
	return &OutboundMessage{Type: EventTypeNudgeReceived, Payload: NudgeReceivedPayload{FromUser: fromUser}}
}
