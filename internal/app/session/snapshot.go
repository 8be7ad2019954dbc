package session

import (
	"github.com/voxlink/voxlink/internal/core"
	"github.com/voxlink/voxlink/internal/domain"
)

// Snapshot is the read-only view a UI renders from. Slices are copied;
// media handles are shared references but read-only to the caller.
type Snapshot struct {
	State        State
	CallID       domain.CallID
	PeerID       domain.UserID
	PeerName     string
	VideoEnabled bool
	AudioEnabled bool
	LocalMedia   core.LocalMedia
	RemoteStream *core.RemoteStream
	Messages     []Message
	PeerTyping   bool
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{
		State:        s.state,
		CallID:       s.callID,
		PeerID:       s.peerID,
		PeerName:     s.peerName,
		VideoEnabled: s.videoEnabled,
		AudioEnabled: s.audioEnabled,
		LocalMedia:   s.cfg.Engine.LocalMedia(),
		RemoteStream: s.cfg.Engine.RemoteStream(),
		Messages:     msgs,
		PeerTyping:   s.peerTyping,
	}
}
