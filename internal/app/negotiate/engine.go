package negotiate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voxlink/voxlink/internal/core"
	"github.com/voxlink/voxlink/internal/domain"
)

var (
	ErrNegotiationActive = errors.New("negotiation context already exists")
	// ErrAborted means teardown raced a still-initializing context, e.g.
	// the user skipped while the permission prompt was open.
	ErrAborted = errors.New("negotiation aborted")
)

// Event is a reactive output reported back to the session. The engine never
// mutates call identity itself; it reports and the session decides.
type Event int

const (
	// EventConnected means the media path is established. Derived from
	// several underlying signals, possibly reported more than once.
	EventConnected Event = iota
	// EventConnectivityLost means ICE failed and one restart did not
	// recover within the bounded window. The call is not torn down.
	EventConnectivityLost
	// EventRemoteStream means the remote media handle was replaced.
	EventRemoteStream
)

// negPhase is the engine's own view of the handshake, kept so duplicate
// offer/answer guards are testable without a real media transport.
type negPhase int

const (
	phaseNoOffer negPhase = iota
	phaseOfferSent
	phaseAnswerReceived
	phaseStable
)

// Config wires the engine's collaborators. Everything is injected; the
// engine holds no ambient state.
type Config struct {
	LocalUserID domain.UserID
	Devices     core.MediaDevices
	NewPeer     core.PeerFactory
	Send        func(domain.Signal) error
	Notify      func(Event)

	// ConnectGrace is the wait after signaling returns to stable before
	// the fallback Connected determination fires. Zero means 1s.
	ConnectGrace time.Duration
	// RestartWindow bounds the single ICE-restart recovery attempt.
	// Zero means 5s.
	RestartWindow time.Duration
}

// Engine owns one peer connection at a time and runs the perfect
// negotiation protocol against it.
type Engine struct {
	cfg Config

	mu           sync.Mutex
	gen          uint64
	initializing bool
	link         core.PeerLink
	local        core.LocalMedia
	remote       *core.RemoteStream
	remoteTracks []core.RemoteTrack

	callID domain.CallID
	peerID domain.UserID
	role   Role

	phase         negPhase
	makingOffer   bool
	ignoringOffer bool
	remoteApplied bool
	connected     bool
	restarted     bool

	pending pendingQueue

	graceTimer   *time.Timer
	restartTimer *time.Timer
}

func New(cfg Config) *Engine {
	if cfg.ConnectGrace <= 0 {
		cfg.ConnectGrace = time.Second
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = 5 * time.Second
	}
	return &Engine{cfg: cfg}
}

// Active reports whether a negotiation context exists, including the window
// where media is still being acquired. The session uses this to drop
// duplicate match events.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initializing || e.link != nil
}

func (e *Engine) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

func (e *Engine) LocalMedia() core.LocalMedia {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local
}

func (e *Engine) RemoteStream() *core.RemoteStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

// Initialize acquires capture, builds the peer link, kicks off the offer if
// this side is impolite and drains any signals that raced ahead. A failure
// anywhere tears the context down and is fatal to this call attempt.
func (e *Engine) Initialize(ctx context.Context, callID domain.CallID, peerID domain.UserID) error {
	e.mu.Lock()
	if e.initializing || e.link != nil {
		e.mu.Unlock()
		return ErrNegotiationActive
	}
	e.initializing = true
	e.callID = callID
	e.peerID = peerID
	e.role = RoleBetween(e.cfg.LocalUserID, peerID)
	role := e.role
	gen := e.gen
	e.mu.Unlock()

	log.Info().Str("module", "negotiate").
		Int64("call_id", int64(callID)).
		Int64("peer_id", int64(peerID)).
		Str("role", role.String()).
		Msg("initializing negotiation")

	media, err := e.cfg.Devices.Acquire(ctx)
	if err != nil {
		e.Teardown()
		return fmt.Errorf("acquire media: %w", err)
	}

	link, err := e.cfg.NewPeer(core.PeerEvents{
		OnRemoteTrack:     e.onRemoteTrack,
		OnICECandidate:    e.onLocalCandidate,
		OnConnected:       e.onConnected,
		OnFailed:          e.onFailed,
		OnSignalingStable: e.onSignalingStable,
	})
	if err != nil {
		media.Stop()
		e.Teardown()
		return fmt.Errorf("create peer link: %w", err)
	}

	// The lock is held through track attachment, the initial offer and the
	// pending drain so that live signals arriving concurrently cannot
	// overtake buffered ones.
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		media.Stop()
		_ = link.Close()
		return ErrAborted
	}
	e.local = media
	e.link = link
	e.initializing = false

	for _, t := range media.Tracks() {
		if err := link.AddLocalTrack(t); err != nil {
			e.teardownLocked()
			return fmt.Errorf("attach local track: %w", err)
		}
	}

	if role == Impolite {
		if err := e.sendOfferLocked(ctx, false); err != nil {
			log.Error().Err(err).Str("module", "negotiate").Msg("initial offer failed")
			e.teardownLocked()
			return fmt.Errorf("initial offer: %w", err)
		}
	}

	if n := e.pending.len(); n > 0 {
		log.Debug().Str("module", "negotiate").Int("count", n).Msg("draining pending signals")
		for _, sig := range e.pending.drain() {
			e.handleLocked(ctx, sig)
		}
	}
	return nil
}

// HandleSignal processes one inbound negotiation message. Before the peer
// link exists the message is buffered and replayed later in arrival order.
// Malformed or out-of-sequence input is dropped, never fatal.
func (e *Engine) HandleSignal(ctx context.Context, sig domain.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.link == nil {
		e.pending.push(sig)
		log.Debug().Str("module", "negotiate").
			Str("kind", string(sig.Kind)).
			Int("queued", e.pending.len()).
			Msg("no peer link yet, signal buffered")
		return
	}
	e.handleLocked(ctx, sig)
}

func (e *Engine) handleLocked(ctx context.Context, sig domain.Signal) {
	switch sig.Kind {
	case domain.SignalOffer:
		e.handleOfferLocked(ctx, sig)
	case domain.SignalAnswer:
		e.handleAnswerLocked(sig)
	case domain.SignalICECandidate:
		e.handleCandidateLocked(sig)
	default:
		log.Warn().Str("module", "negotiate").Str("kind", string(sig.Kind)).Msg("unknown signal kind")
	}
}

// handleOfferLocked accepts any offer arriving while signaling is stable
// and no local offer is in flight. That covers both the initial exchange
// and a peer's ICE-restart offer reopening a settled one.
func (e *Engine) handleOfferLocked(ctx context.Context, sig domain.Signal) {
	collision := e.makingOffer || e.link.SignalingState() != core.SignalingStable
	if collision && e.role == Impolite {
		e.ignoringOffer = true
		log.Debug().Str("module", "negotiate").Msg("offer collision, impolite side ignoring")
		return
	}
	e.ignoringOffer = false

	var desc domain.SessionDescription
	if err := json.Unmarshal(sig.Data, &desc); err != nil {
		log.Warn().Err(err).Str("module", "negotiate").Msg("malformed offer dropped")
		return
	}
	if err := e.link.SetRemoteDescription(desc); err != nil {
		log.Error().Err(err).Str("module", "negotiate").Msg("apply offer")
		return
	}
	e.remoteApplied = true

	answer, err := e.link.CreateAnswer(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "negotiate").Msg("create answer")
		return
	}
	if err := e.link.SetLocalDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "negotiate").Msg("set local answer")
		return
	}
	e.phase = phaseStable

	out, err := domain.EncodeSignal(domain.SignalAnswer, e.callID, e.peerID, answer)
	if err != nil {
		log.Error().Err(err).Str("module", "negotiate").Msg("encode answer")
		return
	}
	if err := e.cfg.Send(out); err != nil {
		log.Error().Err(err).Str("module", "negotiate").Msg("send answer")
	}
}

func (e *Engine) handleAnswerLocked(sig domain.Signal) {
	if e.phase != phaseOfferSent {
		log.Debug().Str("module", "negotiate").Msg("stray answer, ignored")
		return
	}
	var desc domain.SessionDescription
	if err := json.Unmarshal(sig.Data, &desc); err != nil {
		log.Warn().Err(err).Str("module", "negotiate").Msg("malformed answer dropped")
		return
	}
	if err := e.link.SetRemoteDescription(desc); err != nil {
		log.Error().Err(err).Str("module", "negotiate").Msg("apply answer")
		return
	}
	e.remoteApplied = true
	e.phase = phaseAnswerReceived
}

func (e *Engine) handleCandidateLocked(sig domain.Signal) {
	var cand domain.ICECandidate
	if err := json.Unmarshal(sig.Data, &cand); err != nil {
		log.Warn().Err(err).Str("module", "negotiate").Msg("malformed candidate dropped")
		return
	}
	if err := e.link.AddICECandidate(cand); err != nil {
		if e.ignoringOffer {
			// Candidates trailing a deliberately ignored offer fail to
			// apply; that is expected, not an error.
			log.Debug().Err(err).Str("module", "negotiate").Msg("candidate after ignored offer")
			return
		}
		log.Error().Err(err).Str("module", "negotiate").Msg("add ice candidate")
	}
}

// sendOfferLocked creates and publishes an offer under the makingOffer
// guard. The flag is released on every exit path.
func (e *Engine) sendOfferLocked(ctx context.Context, iceRestart bool) error {
	return e.withMakingOffer(func() error {
		offer, err := e.link.CreateOffer(ctx, iceRestart)
		if err != nil {
			return fmt.Errorf("create offer: %w", err)
		}
		if err := e.link.SetLocalDescription(offer); err != nil {
			return fmt.Errorf("set local offer: %w", err)
		}
		e.phase = phaseOfferSent
		sig, err := domain.EncodeSignal(domain.SignalOffer, e.callID, e.peerID, offer)
		if err != nil {
			return fmt.Errorf("encode offer: %w", err)
		}
		return e.cfg.Send(sig)
	})
}

func (e *Engine) withMakingOffer(fn func() error) error {
	e.makingOffer = true
	defer func() { e.makingOffer = false }()
	return fn()
}

// ToggleVideo flips the local video track flag. No renegotiation, no device
// restart. ok is false when no capture is live.
func (e *Engine) ToggleVideo() (enabled, ok bool) {
	return e.toggle(core.TrackVideo)
}

func (e *Engine) ToggleAudio() (enabled, ok bool) {
	return e.toggle(core.TrackAudio)
}

func (e *Engine) toggle(kind string) (enabled, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local == nil {
		return false, false
	}
	t := e.local.Track(kind)
	if t == nil {
		return false, false
	}
	t.SetEnabled(!t.Enabled())
	return t.Enabled(), true
}

// Teardown releases everything: capture stopped, link closed, pending
// signals discarded unprocessed. Safe to call any number of times.
func (e *Engine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked()
}

func (e *Engine) teardownLocked() {
	e.gen++
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
	if e.restartTimer != nil {
		e.restartTimer.Stop()
		e.restartTimer = nil
	}
	if e.local != nil {
		e.local.Stop()
		e.local = nil
	}
	if e.link != nil {
		if err := e.link.Close(); err != nil {
			log.Error().Err(err).Str("module", "negotiate").Msg("close peer link")
		}
		e.link = nil
	}
	if n := e.pending.len(); n > 0 {
		log.Debug().Str("module", "negotiate").Int("count", n).Msg("discarding pending signals")
	}
	e.pending.clear()
	e.remote = nil
	e.remoteTracks = nil
	e.phase = phaseNoOffer
	e.makingOffer = false
	e.ignoringOffer = false
	e.remoteApplied = false
	e.connected = false
	e.restarted = false
	e.initializing = false
	e.callID = 0
	e.peerID = 0
	e.role = Polite
}

// Peer link callbacks. These arrive from transport goroutines; each one
// funnels into engine state under the lock and reports outward via Notify.

func (e *Engine) onRemoteTrack(t core.RemoteTrack) {
	e.mu.Lock()
	if e.link == nil {
		e.mu.Unlock()
		return
	}
	for _, existing := range e.remoteTracks {
		if existing.ID() == t.ID() {
			e.mu.Unlock()
			return
		}
	}
	e.remoteTracks = append(e.remoteTracks, t)
	// Audio and video may arrive as separate events against the same
	// logical stream; each arrival replaces the handle wholesale.
	stream := &core.RemoteStream{ID: t.StreamID(), Tracks: make([]core.RemoteTrack, len(e.remoteTracks))}
	copy(stream.Tracks, e.remoteTracks)
	e.remote = stream
	e.mu.Unlock()

	log.Info().Str("module", "negotiate").Str("kind", t.Kind()).Str("track_id", t.ID()).Msg("remote track")
	e.cfg.Notify(EventRemoteStream)
}

func (e *Engine) onLocalCandidate(cand domain.ICECandidate) {
	e.mu.Lock()
	if e.link == nil {
		e.mu.Unlock()
		return
	}
	sig, err := domain.EncodeSignal(domain.SignalICECandidate, e.callID, e.peerID, cand)
	e.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "negotiate").Msg("encode candidate")
		return
	}
	if err := e.cfg.Send(sig); err != nil {
		log.Error().Err(err).Str("module", "negotiate").Msg("send candidate")
	}
}

func (e *Engine) onConnected() {
	e.mu.Lock()
	if e.link == nil || e.connected {
		e.mu.Unlock()
		return
	}
	e.connected = true
	if e.restartTimer != nil {
		e.restartTimer.Stop()
		e.restartTimer = nil
	}
	e.mu.Unlock()
	e.cfg.Notify(EventConnected)
}

func (e *Engine) onFailed() {
	e.mu.Lock()
	if e.link == nil {
		e.mu.Unlock()
		return
	}
	e.connected = false
	if e.restarted {
		e.mu.Unlock()
		return
	}
	e.restarted = true
	// Reopen the exchange: the settled offer/answer state belongs to the
	// failed attempt and must not shadow the restart messages.
	e.remoteApplied = false
	e.ignoringOffer = false
	e.phase = phaseNoOffer
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
	log.Warn().Str("module", "negotiate").Msg("ice failed, attempting restart")
	// Only the impolite side re-offers; the polite side waits for the
	// restart offer, avoiding glare on a transport that cannot roll back.
	if e.role == Impolite {
		if err := e.sendOfferLocked(context.Background(), true); err != nil {
			log.Error().Err(err).Str("module", "negotiate").Msg("ice restart offer")
		}
	}
	e.restartTimer = time.AfterFunc(e.cfg.RestartWindow, e.onRestartExpired)
	e.mu.Unlock()
}

func (e *Engine) onRestartExpired() {
	e.mu.Lock()
	stillDown := e.link != nil && !e.connected
	e.mu.Unlock()
	if stillDown {
		e.cfg.Notify(EventConnectivityLost)
	}
}

// onSignalingStable backs the fallback Connected determination: once both
// descriptions are set and signaling is stable, wait a short grace period
// and treat a reachable ICE layer as connected even if no state event ever
// fires. Browsers disagree on which event fires first, or at all.
func (e *Engine) onSignalingStable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.link == nil {
		return
	}
	if e.phase == phaseAnswerReceived {
		e.phase = phaseStable
	}
	if !e.remoteApplied || e.connected {
		return
	}
	if e.graceTimer != nil {
		e.graceTimer.Stop()
	}
	e.graceTimer = time.AfterFunc(e.cfg.ConnectGrace, e.onGraceExpired)
}

func (e *Engine) onGraceExpired() {
	e.mu.Lock()
	ready := e.link != nil && !e.connected && e.link.ICEReachable()
	e.mu.Unlock()
	if ready {
		e.onConnected()
	}
}
