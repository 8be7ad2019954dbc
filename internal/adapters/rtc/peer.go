// Package rtc adapts a pion PeerConnection to the core.PeerLink port.
package rtc

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/voxlink/voxlink/internal/core"
	"github.com/voxlink/voxlink/internal/domain"
)

var errNoRTPTrack = errors.New("local track has no rtp backing")

// DefaultICEServers are public STUN servers. No TURN relay is configured;
// relay-dependent networks will fail to connect.
func DefaultICEServers() []string {
	return []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
		"stun:stun3.l.google.com:19302",
		"stun:stun4.l.google.com:19302",
	}
}

func webrtcConfig(iceServers []string) webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, u := range iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return webrtc.Configuration{
		ICEServers:           servers,
		ICECandidatePoolSize: 10,
		BundlePolicy:         webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy:        webrtc.RTCPMuxPolicyRequire,
	}
}

// PeerLink owns the single underlying PeerConnection of a call attempt.
type PeerLink struct {
	pc *webrtc.PeerConnection
}

// NewFactory returns a core.PeerFactory creating links against the given
// STUN servers. State callbacks are dispatched on fresh goroutines so a
// pion-internal lock is never held while consumer code runs.
func NewFactory(iceServers []string) core.PeerFactory {
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers()
	}
	cfg := webrtcConfig(iceServers)
	return func(events core.PeerEvents) (core.PeerLink, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}
		l := &PeerLink{pc: pc}
		l.bind(events)
		return l, nil
	}
}

func (l *PeerLink) bind(events core.PeerEvents) {
	l.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track received")
		if events.OnRemoteTrack != nil {
			events.OnRemoteTrack(remoteTrack{t: track})
		}
	})

	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || events.OnICECandidate == nil {
			return
		}
		ci := c.ToJSON()
		events.OnICECandidate(domain.ICECandidate{
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})

	l.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
		switch s {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			if events.OnConnected != nil {
				go events.OnConnected()
			}
		case webrtc.ICEConnectionStateFailed:
			if events.OnFailed != nil {
				go events.OnFailed()
			}
		}
	})

	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if events.OnConnected != nil {
				go events.OnConnected()
			}
		case webrtc.PeerConnectionStateFailed:
			if events.OnFailed != nil {
				go events.OnFailed()
			}
		}
	})

	l.pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		if s == webrtc.SignalingStateStable && l.pc.RemoteDescription() != nil {
			if events.OnSignalingStable != nil {
				go events.OnSignalingStable()
			}
		}
	})
}

func (l *PeerLink) AddLocalTrack(track core.LocalTrack) error {
	rtp := track.RTP()
	if rtp == nil {
		return errNoRTPTrack
	}
	_, err := l.pc.AddTrack(rtp)
	return err
}

func (l *PeerLink) CreateOffer(_ context.Context, iceRestart bool) (domain.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := l.pc.CreateOffer(opts)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPion(offer), nil
}

func (l *PeerLink) CreateAnswer(_ context.Context) (domain.SessionDescription, error) {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromPion(answer), nil
}

func (l *PeerLink) SetLocalDescription(desc domain.SessionDescription) error {
	return l.pc.SetLocalDescription(toPion(desc))
}

func (l *PeerLink) SetRemoteDescription(desc domain.SessionDescription) error {
	return l.pc.SetRemoteDescription(toPion(desc))
}

func (l *PeerLink) AddICECandidate(cand domain.ICECandidate) error {
	return l.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	})
}

func (l *PeerLink) SignalingState() core.SignalingState {
	switch l.pc.SignalingState() {
	case webrtc.SignalingStateStable:
		return core.SignalingStable
	case webrtc.SignalingStateHaveLocalOffer:
		return core.SignalingHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer:
		return core.SignalingHaveRemoteOffer
	default:
		return core.SignalingOther
	}
}

func (l *PeerLink) ICEReachable() bool {
	switch l.pc.ICEConnectionState() {
	case webrtc.ICEConnectionStateChecking,
		webrtc.ICEConnectionStateConnected,
		webrtc.ICEConnectionStateCompleted:
		return true
	default:
		return false
	}
}

func (l *PeerLink) Close() error {
	return l.pc.Close()
}

func toPion(desc domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}
}

func fromPion(desc webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}
}

type remoteTrack struct {
	t *webrtc.TrackRemote
}

func (r remoteTrack) ID() string       { return r.t.ID() }
func (r remoteTrack) Kind() string     { return r.t.Kind().String() }
func (r remoteTrack) StreamID() string { return r.t.StreamID() }
