package domain

import "encoding/json"

// SignalKind distinguishes the three negotiation message types.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

// Signal is a negotiation message relayed between matched peers.
// Data carries a SessionDescription for offer/answer and an
// ICECandidate for ice-candidate.
type Signal struct {
	Kind         SignalKind      `json:"type"`
	CallID       CallID          `json:"callId"`
	SenderID     UserID          `json:"senderId,omitempty"`
	TargetUserID UserID          `json:"targetUserId,omitempty"`
	Data         json.RawMessage `json:"data"`
}

// SessionDescription is the offer/answer half of a negotiation exchange.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a proposed network path for the peer connection.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// EncodeSignal builds a Signal with its payload already marshaled.
func EncodeSignal(kind SignalKind, callID CallID, target UserID, payload any) (Signal, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Signal{}, err
	}
	return Signal{Kind: kind, CallID: callID, TargetUserID: target, Data: data}, nil
}
