package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/voxlink/voxlink/internal/app/negotiate"
	"github.com/voxlink/voxlink/internal/core"
	"github.com/voxlink/voxlink/internal/domain"
)

// Handlers returns the transport event handlers for this session. Every
// inbound event funnels through one of these, which all reduce state under
// the same lock; there is no other path that mutates call identity.
func (s *Session) Handlers() core.EventHandlers {
	return core.EventHandlers{
		OnStatus:      s.handleStatus,
		OnMatchFound:  s.handleMatchFound,
		OnSignal:      s.handleSignal,
		OnChatMessage: s.handleChatMessage,
		OnTyping:      s.handleTyping,
		OnCallEnded:   s.handleCallEnded,
		OnError:       s.handleTransportError,
	}
}

func (s *Session) handleStatus(msg domain.StatusMessage) {
	log.Info().Str("module", "session").Str("status", msg.Message).Msg("queue status")
}

func (s *Session) handleMatchFound(m domain.MatchFound) {
	s.mu.Lock()
	switch {
	case s.state != StateSearching:
		s.mu.Unlock()
		log.Warn().Str("module", "session").Str("state", s.state.String()).Msg("match while not searching, dropped")
		return
	case s.cfg.Engine.Active():
		s.mu.Unlock()
		log.Warn().Str("module", "session").Msg("duplicate match while negotiation alive, dropped")
		return
	case s.callID != 0 && s.callID == m.CallID:
		s.mu.Unlock()
		log.Warn().Str("module", "session").Int64("call_id", int64(m.CallID)).Msg("replayed match, dropped")
		return
	case m.PeerID == s.cfg.User.ID:
		// Equal ids would make both sides polite and stall forever.
		s.mu.Unlock()
		log.Error().Str("module", "session").Int64("peer_id", int64(m.PeerID)).Msg("match against own id, dropped")
		return
	}
	s.callID = m.CallID
	s.peerID = m.PeerID
	s.peerName = m.PeerName
	s.state = StateConnecting
	s.mu.Unlock()
	s.update()

	log.Info().Str("module", "session").
		Int64("call_id", int64(m.CallID)).
		Int64("peer_id", int64(m.PeerID)).
		Msg("match found")

	// Media acquisition and the offer exchange take wall-clock time; they
	// run off the event path while buffered signals pile up in the engine.
	go s.initialize(m)
}

func (s *Session) initialize(m domain.MatchFound) {
	err := s.cfg.Engine.Initialize(context.Background(), m.CallID, m.PeerID)
	if err == nil {
		return
	}
	if errors.Is(err, negotiate.ErrAborted) {
		return
	}
	log.Error().Err(err).Str("module", "session").Msg("negotiation init failed")
	s.notice(NoticeMediaFailure, mediaFailureMessage(err))
	s.toIdle()
}

func mediaFailureMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrPermissionDenied):
		return "Camera and microphone access was denied."
	case errors.Is(err, core.ErrNoDevice):
		return "No camera or microphone was found."
	case errors.Is(err, core.ErrDeviceBusy):
		return "Your camera or microphone is in use by another application."
	case errors.Is(err, core.ErrBadConstraints):
		return "Your capture device does not support the required settings."
	default:
		return "Could not start the call."
	}
}

func (s *Session) handleSignal(sig domain.Signal) {
	s.cfg.Engine.HandleSignal(context.Background(), sig)
}

func (s *Session) handleCallEnded(ev domain.CallEnded) {
	s.mu.Lock()
	if s.state != StateConnecting && s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	log.Info().Str("module", "session").
		Int64("call_id", int64(ev.CallID)).
		Str("reason", ev.Reason).
		Msg("call ended by peer or server")
	// The other side already ended it; tear down without notifying back.
	s.cleanupCallLocked()
	s.state = StateIdle
	s.mu.Unlock()
	s.update()
}

func (s *Session) handleTransportError(te domain.TransportError) {
	log.Error().Str("module", "session").Str("code", te.Code).Str("error", te.Error).Msg("transport error")
	s.notice(NoticeTransport, te.Error)

	s.mu.Lock()
	active := s.state == StateConnecting || s.state == StateConnected
	if active {
		// Signaling is gone mid-call; the call is lost.
		s.cleanupCallLocked()
		s.state = StateIdle
	}
	s.mu.Unlock()
	if active {
		s.update()
	}
}

// OnEngineEvent receives the negotiation engine's reactive outputs. The
// Connected determination is a reduction here: whichever underlying signal
// fired first wins and later ones are no-ops.
func (s *Session) OnEngineEvent(ev negotiate.Event) {
	switch ev {
	case negotiate.EventConnected:
		s.mu.Lock()
		changed := s.state == StateConnecting
		if changed {
			s.state = StateConnected
		}
		s.mu.Unlock()
		if changed {
			log.Info().Str("module", "session").Msg("call connected")
			s.update()
		}
	case negotiate.EventConnectivityLost:
		s.notice(NoticeConnectivity, "Connection to your partner is unstable.")
	case negotiate.EventRemoteStream:
		s.update()
	}
}
