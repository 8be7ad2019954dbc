package core

import (
	"context"

	"github.com/voxlink/voxlink/internal/domain"
)

// SignalTransport abstracts the message channel to the matchmaking server.
// Owned by the adapter; the adapter must Close() it. Delivery is assumed
// at-least-once and ordered per sender, which is why the negotiation engine
// keeps its own collision rule instead of sequence numbers.
type SignalTransport interface {
	Connect(ctx context.Context) error
	Close()
	IsConnected() bool

	JoinQueue() error
	LeaveQueue() error
	NextPerson() error
	EndCall(id domain.CallID) error
	SendSignal(sig domain.Signal) error
	SendChatMessage(id domain.CallID, text string) error
	SendTyping(id domain.CallID) error
}

// EventHandlers receives inbound transport events. Handlers must tolerate
// events that race ahead of local state; nil handlers are skipped.
type EventHandlers struct {
	OnConnect     func()
	OnDisconnect  func()
	OnStatus      func(domain.StatusMessage)
	OnMatchFound  func(domain.MatchFound)
	OnSignal      func(domain.Signal)
	OnChatMessage func(domain.ChatMessage)
	OnTyping      func(domain.TypingIndicator)
	OnCallEnded   func(domain.CallEnded)
	OnError       func(domain.TransportError)
}
