package domain

import "encoding/json"

// Envelope frames every message on the signaling channel, both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Server-to-client event types.
const (
	EvtQueueStatus = "queue-status"
	EvtMatchFound  = "match-found"
	EvtSignal      = "negotiation-signal"
	EvtChatMessage = "chat-message"
	EvtTyping      = "typing"
	EvtCallEnded   = "call-ended"
	EvtError       = "error"
	EvtPong        = "pong"
)

// Client-to-server command types.
const (
	CmdJoinQueue  = "join-queue"
	CmdLeaveQueue = "leave-queue"
	CmdNextPerson = "next-person"
	CmdEndCall    = "end-call"
	CmdSignal     = "negotiation-signal"
	CmdChat       = "chat-message"
	CmdTyping     = "typing"
	CmdPing       = "ping"
)

// EndCallRequest / SendChatRequest / SendTypingRequest are the command
// payloads that carry more than the type tag.
type EndCallRequest struct {
	CallID CallID `json:"callId"`
}

type SendChatRequest struct {
	CallID  CallID `json:"callId"`
	Message string `json:"message"`
}

type SendTypingRequest struct {
	CallID CallID `json:"callId"`
}

// NewEnvelope marshals payload into a framed message.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: typ}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Data: data}, nil
}
