package models

// Phase defines where a room is in its estimation round.
type Phase string

const (
	PhaseEstimating Phase = "estimating"
	PhaseRevealed   Phase = "revealed"
)

// DefaultDeck is the ordered set of card values every room offers.
var DefaultDeck = []string{"0", "1", "2", "3", "5", "8", "13", "?"}

// Room is the authoritative state of one estimation room.
type Room struct {
	ID           string
	Phase        Phase
	Deck         []string
	Participants map[string]*Participant
}

// NewRoom creates an empty room in the estimating phase with its own copy of the default deck.
func NewRoom(id string) *Room {
	deck := make([]string, len(DefaultDeck))
	copy(deck, DefaultDeck)

	return &Room{
		ID:           id,
		Phase:        PhaseEstimating,
		Deck:         deck,
		Participants: make(map[string]*Participant),
	}
}

// HasCard reports whether value is one of the room's deck values.
func (r *Room) HasCard(value string) bool {
	for _, card := range r.Deck {
		if card == value {
			return true
		}
	}
	return false
}

// RoomState is the public, wire-facing view of a room.
type RoomState struct {
	RoomID string                  `json:"room_id"`
	Phase  Phase                   `json:"phase"`
	Users  map[string]*Participant `json:"users"`
	Deck   []string                `json:"deck"`
}
