package core

import (
	"context"

	"github.com/voxlink/voxlink/internal/domain"
)

// SignalingState mirrors the handshake phase of the underlying connection.
type SignalingState int

const (
	SignalingStable SignalingState = iota
	SignalingHaveLocalOffer
	SignalingHaveRemoteOffer
	SignalingOther
)

func (s SignalingState) String() string {
	switch s {
	case SignalingStable:
		return "stable"
	case SignalingHaveLocalOffer:
		return "have-local-offer"
	case SignalingHaveRemoteOffer:
		return "have-remote-offer"
	default:
		return "other"
	}
}

// PeerEvents are the reactive outputs of a peer link. The adapter may fire
// OnConnected more than once and from more than one underlying event;
// consumers must reduce, not assert.
type PeerEvents struct {
	OnRemoteTrack     func(track RemoteTrack)
	OnICECandidate    func(cand domain.ICECandidate)
	OnConnected       func()
	OnFailed          func()
	OnSignalingStable func()
}

// PeerLink is the single media-negotiation object of a call attempt.
// Owned by the negotiation engine; never shared with the UI.
type PeerLink interface {
	AddLocalTrack(track LocalTrack) error
	CreateOffer(ctx context.Context, iceRestart bool) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetLocalDescription(desc domain.SessionDescription) error
	SetRemoteDescription(desc domain.SessionDescription) error
	AddICECandidate(cand domain.ICECandidate) error
	SignalingState() SignalingState
	// ICEReachable reports whether ICE progressed at least to checking.
	// Input to the grace-period Connected fallback.
	ICEReachable() bool
	Close() error
}

// PeerFactory creates a fresh peer link wired to the given events.
type PeerFactory func(events PeerEvents) (PeerLink, error)
