package domain

import "time"

// CallID is assigned by the matchmaking server when two users are paired.
type CallID int64

type CallStatus string

const (
	CallActive    CallStatus = "ACTIVE"
	CallCompleted CallStatus = "COMPLETED"
	CallCancelled CallStatus = "CANCELLED"
)

type CallType string

const (
	CallVideo CallType = "VIDEO"
	CallAudio CallType = "AUDIO"
)

// Call is the history record kept by the backend for every pairing.
type Call struct {
	ID              CallID     `json:"id"`
	User1ID         UserID     `json:"user1Id"`
	User1Name       string     `json:"user1Name"`
	User2ID         UserID     `json:"user2Id"`
	User2Name       string     `json:"user2Name"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt"`
	DurationSeconds *int64     `json:"durationSeconds"`
	CallType        CallType   `json:"callType"`
	Status          CallStatus `json:"status"`
}
