package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

// Media acquisition failures are fatal to the current call attempt.
// Each sub-kind gets its own user-facing explanation.
var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrNoDevice         = errors.New("no capture device")
	ErrDeviceBusy       = errors.New("capture device busy")
	ErrBadConstraints   = errors.New("unsupported capture constraints")
)

const (
	TrackAudio = "audio"
	TrackVideo = "video"
)

// LocalTrack is one captured track. Enabling/disabling is an instant flag
// mutation, never a device stop or a renegotiation.
type LocalTrack interface {
	Kind() string
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
	Stopped() bool
	// RTP exposes the underlying track for the peer connection adapter.
	// Test fakes return nil.
	RTP() webrtc.TrackLocal
}

// LocalMedia is the capture handle owned exclusively by the active
// negotiation context. Stop must be idempotent.
type LocalMedia interface {
	Tracks() []LocalTrack
	Track(kind string) LocalTrack
	Stop()
}

// MediaDevices opens local capture. Acquire may take observable time
// (a hung permission prompt blocks indefinitely; that is visible as a
// session stuck in Connecting).
type MediaDevices interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}

// RemoteTrack is a track received from the peer.
type RemoteTrack interface {
	ID() string
	Kind() string
	StreamID() string
}

// RemoteStream groups remote tracks of one logical stream. It is replaced
// wholesale whenever another track arrives, never mutated in place.
type RemoteStream struct {
	ID     string
	Tracks []RemoteTrack
}
