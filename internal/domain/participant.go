package domain

import "time"

// MediaFlags describe what a participant currently publishes.
type MediaFlags struct {
	Audio  bool `json:"audio"`
	Video  bool `json:"video"`
	Screen bool `json:"screen"`
}

// Participant is one user's membership in a session.
// No transport or lifecycle logic here.
type Participant struct {
	SessionID SessionID  `json:"sessionId"`
	UserID    UserID     `json:"userId"`
	Name      string     `json:"name"`
	Role      Role       `json:"role"`
	Media     MediaFlags `json:"media"`
	JoinedAt  time.Time  `json:"joinedAt"`
}

func NewParticipant(sessionID SessionID, user User, at time.Time) Participant {
	return Participant{
		SessionID: sessionID,
		UserID:    user.ID,
		Name:      user.Username,
		Role:      user.Role,
		JoinedAt:  at,
	}
}
