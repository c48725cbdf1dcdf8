package room

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type reclaim struct {
	timer  clockwork.Timer
	cancel chan struct{}
}

// scheduleReclaim arranges for an empty room to be deleted after EmptyRoomTTL.
// Callers must hold s.mu.
func (s *Store) scheduleReclaim(roomID string) {
	s.cancelReclaim(roomID)

	if s.config.EmptyRoomTTL <= 0 {
		delete(s.rooms, roomID)
		log.Debug().Str("room_id", roomID).Msg("empty room reclaimed")
		return
	}

	r := &reclaim{
		timer:  s.config.Clock.NewTimer(s.config.EmptyRoomTTL),
		cancel: make(chan struct{}),
	}
	s.reclaims[roomID] = r

	go func() {
		select {
		case <-r.timer.Chan():
			s.reclaimIfEmpty(roomID, r)
		case <-r.cancel:
		}
	}()

	log.Debug().
		Str("room_id", roomID).
		Dur("ttl", s.config.EmptyRoomTTL).
		Msg("scheduled empty room reclamation")
}

// cancelReclaim stops a pending reclamation. Callers must hold s.mu.
func (s *Store) cancelReclaim(roomID string) {
	r, exists := s.reclaims[roomID]
	if !exists {
		return
	}

	r.timer.Stop()
	close(r.cancel)
	delete(s.reclaims, roomID)
}

func (s *Store) reclaimIfEmpty(roomID string, r *reclaim) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A join may have cancelled and replaced this reclamation while the timer fired.
	if s.reclaims[roomID] != r {
		return
	}
	delete(s.reclaims, roomID)

	room, exists := s.rooms[roomID]
	if !exists || len(room.Participants) > 0 {
		return
	}
	delete(s.rooms, roomID)
	log.Debug().Str("room_id", roomID).Msg("empty room reclaimed")
}
