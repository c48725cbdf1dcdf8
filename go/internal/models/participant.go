package models

// Role defines what a participant may do in a room.
type Role string

const (
	RoleEstimator Role = "estimator"
	RoleSpectator Role = "spectator"
)

// Participant is a connected member of a room.
type Participant struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Role     Role    `json:"role"`
	IsAdmin  bool    `json:"is_admin"`
	HasVoted bool    `json:"has_voted"`
	Vote     *string `json:"vote"`
}

// NewParticipant returns an estimator with no vote.
func NewParticipant(id, name string) *Participant {
	return &Participant{
		ID:   id,
		Name: name,
		Role: RoleEstimator,
	}
}

// IsEstimator reports whether the participant may vote.
func (p *Participant) IsEstimator() bool {
	return p.Role == RoleEstimator
}

// ClearVote drops the vote and the voted flag together.
func (p *Participant) ClearVote() {
	p.Vote = nil
	p.HasVoted = false
}
