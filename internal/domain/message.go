package domain

import "time"

// MatchFound pairs this user with a stranger. The peer id doubles as the
// input to negotiation role assignment.
type MatchFound struct {
	CallID   CallID `json:"callId"`
	PeerID   UserID `json:"peerId"`
	PeerName string `json:"peerName"`
}

// ChatMessage is a store-and-forward text message scoped to a call.
// The transport addresses it; recipients trust RecipientID rather than
// re-deriving ownership from SenderID.
type ChatMessage struct {
	ID          int64     `json:"id"`
	CallID      CallID    `json:"callId"`
	SenderID    UserID    `json:"senderId"`
	SenderName  string    `json:"senderName"`
	RecipientID UserID    `json:"recipientId"`
	Message     string    `json:"message"`
	SentAt      time.Time `json:"sentAt"`
}

type TypingIndicator struct {
	CallID   CallID `json:"callId"`
	UserID   UserID `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// StatusMessage is informational queue feedback, display only.
type StatusMessage struct {
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type CallEnded struct {
	CallID CallID `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

type TransportError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
