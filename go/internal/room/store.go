package room

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/planningpoker/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Config holds Store settings.
type Config struct {
	// EmptyRoomTTL is how long an empty room is kept before it is reclaimed.
	// Zero reclaims it as soon as the last participant leaves.
	EmptyRoomTTL time.Duration

	// StrictDeck rejects votes that are not one of the room's deck values.
	StrictDeck bool

	// Clock drives reclamation timers. Defaults to the real clock.
	Clock clockwork.Clock
}

// DefaultConfig returns the default Store settings
func DefaultConfig() Config {
	return Config{
		EmptyRoomTTL: 30 * time.Second,
		Clock:        clockwork.NewRealClock(),
	}
}

// Store owns the authoritative state of every active room.
// Every operation is safe for concurrent use and never blocks on I/O.
type Store struct {
	mu     sync.Mutex
	rooms  map[string]*models.Room
	config Config

	// pending reclamations keyed by room ID
	reclaims map[string]*reclaim
}

// NewStore creates an empty Store
func NewStore(config Config) *Store {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	return &Store{
		rooms:    make(map[string]*models.Room),
		config:   config,
		reclaims: make(map[string]*reclaim),
	}
}

// Admit inserts the participant into the room, creating the room if needed.
// The participant becomes admin when the roster was empty before insertion.
func (s *Store) Admit(roomID string, p *models.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelReclaim(roomID)

	room, exists := s.rooms[roomID]
	if !exists {
		room = models.NewRoom(roomID)
		s.rooms[roomID] = room
		log.Debug().Str("room_id", roomID).Msg("room created")
	}

	p.IsAdmin = len(room.Participants) == 0
	room.Participants[p.ID] = p
}

// Remove deletes the participant from the room. Removing an absent participant is a no-op.
// It reports whether a participant was removed.
func (s *Store) Remove(roomID, participantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists {
		return false
	}
	if _, ok := room.Participants[participantID]; !ok {
		return false
	}

	delete(room.Participants, participantID)
	if len(room.Participants) == 0 {
		s.scheduleReclaim(roomID)
	}
	return true
}

// Participant returns a detached copy of the participant, if present.
func (s *Store) Participant(roomID, participantID string) (models.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.participant(roomID, participantID)
	if p == nil {
		return models.Participant{}, false
	}

	cp := *p
	if p.Vote != nil {
		vote := *p.Vote
		cp.Vote = &vote
	}
	return cp, true
}

// SelectCard records the participant's vote. It only succeeds while the room is estimating
// and the participant is an estimator.
func (s *Store) SelectCard(roomID, participantID, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists || room.Phase != models.PhaseEstimating {
		return false
	}
	p, ok := room.Participants[participantID]
	if !ok || !p.IsEstimator() {
		return false
	}
	if s.config.StrictDeck && !room.HasCard(value) {
		return false
	}

	p.Vote = &value
	p.HasVoted = true
	return true
}

// ToggleSpectator flips the participant between estimator and spectator.
// Becoming a spectator clears the vote; becoming an estimator again does not restore it.
func (s *Store) ToggleSpectator(roomID, participantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.participant(roomID, participantID)
	if p == nil {
		return false
	}

	if p.IsEstimator() {
		p.Role = models.RoleSpectator
		p.ClearVote()
	} else {
		p.Role = models.RoleEstimator
	}
	return true
}

// ForceSpectator makes target a spectator on behalf of the room admin.
func (s *Store) ForceSpectator(roomID, actingID, targetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	acting := s.participant(roomID, actingID)
	target := s.participant(roomID, targetID)
	if acting == nil || !acting.IsAdmin || target == nil {
		return false
	}

	target.Role = models.RoleSpectator
	target.ClearVote()
	return true
}

// AllEstimatorsVoted reports whether the room has at least one estimator and every estimator voted.
func (s *Store) AllEstimatorsVoted(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists {
		return false
	}

	estimators := 0
	for _, p := range room.Participants {
		if !p.IsEstimator() {
			continue
		}
		if !p.HasVoted {
			return false
		}
		estimators++
	}
	return estimators > 0
}

// Reveal moves an estimating room to revealed.
func (s *Store) Reveal(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists || room.Phase != models.PhaseEstimating {
		return false
	}
	room.Phase = models.PhaseRevealed
	return true
}

// ComputeConsensus returns the agreed value when the room is revealed and every
// estimator vote is the same. No votes means no consensus.
func (s *Store) ComputeConsensus(roomID string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists || room.Phase != models.PhaseRevealed {
		return false, ""
	}

	var value string
	seen := false
	for _, vote := range estimatorVotes(room) {
		if seen && vote != value {
			return false, ""
		}
		value, seen = vote, true
	}
	return seen, value
}

// Votes returns the estimator votes of a revealed room keyed by participant ID.
func (s *Store) Votes(roomID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists || room.Phase != models.PhaseRevealed {
		return nil
	}
	return estimatorVotes(room)
}

// ResetRound starts a new round: the room goes back to estimating and estimator votes are cleared.
func (s *Store) ResetRound(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists {
		return false
	}

	room.Phase = models.PhaseEstimating
	for _, p := range room.Participants {
		if p.IsEstimator() {
			p.ClearVote()
		}
	}
	return true
}

// Snapshot builds the public view of the room. Votes are hidden while estimating.
func (s *Store) Snapshot(roomID string) (*models.RoomState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists {
		return nil, false
	}

	users := make(map[string]*models.Participant, len(room.Participants))
	for id, p := range room.Participants {
		public := *p
		if room.Phase == models.PhaseEstimating {
			public.Vote = nil
		} else if p.Vote != nil {
			vote := *p.Vote
			public.Vote = &vote
		}
		users[id] = &public
	}

	deck := make([]string, len(room.Deck))
	copy(deck, room.Deck)

	return &models.RoomState{
		RoomID: room.ID,
		Phase:  room.Phase,
		Users:  users,
		Deck:   deck,
	}, true
}

// Exists reports whether the room is currently held in memory.
func (s *Store) Exists(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.rooms[roomID]
	return exists
}

// Stats returns the number of rooms and participants currently held.
func (s *Store) Stats() (rooms, participants int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, room := range s.rooms {
		participants += len(room.Participants)
	}
	return len(s.rooms), participants
}

// Close stops pending reclamation timers.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for roomID := range s.reclaims {
		s.cancelReclaim(roomID)
	}
}

func (s *Store) participant(roomID, participantID string) *models.Participant {
	room, exists := s.rooms[roomID]
	if !exists {
		return nil
	}
	return room.Participants[participantID]
}

func estimatorVotes(room *models.Room) map[string]string {
	votes := make(map[string]string)
	for id, p := range room.Participants {
		if p.IsEstimator() && p.Vote != nil && *p.Vote != "" {
			votes[id] = *p.Vote
		}
	}
	return votes
}
