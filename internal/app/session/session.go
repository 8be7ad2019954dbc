// Package session owns the call lifecycle: the idle/searching/connecting/
// connected state machine, call identity, and the chat sub-feature. It is
// the single source of truth for "what call, with whom, in what phase".
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voxlink/voxlink/internal/core"
	"github.com/voxlink/voxlink/internal/domain"
)

var ErrInvalidState = errors.New("action not allowed in current state")

type State int

const (
	StateIdle State = iota
	StateSearching
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Negotiator is the session's view of the negotiation engine.
type Negotiator interface {
	Active() bool
	Initialize(ctx context.Context, callID domain.CallID, peerID domain.UserID) error
	HandleSignal(ctx context.Context, sig domain.Signal)
	ToggleVideo() (enabled, ok bool)
	ToggleAudio() (enabled, ok bool)
	LocalMedia() core.LocalMedia
	RemoteStream() *core.RemoteStream
	Teardown()
}

type NoticeKind int

const (
	NoticeMediaFailure NoticeKind = iota
	NoticeConnectivity
	NoticeTransport
)

// Notice is a user-facing message the UI should surface.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// Config wires the session's collaborators. No ambient singletons; the
// transport and engine are explicitly owned, single-instance objects.
type Config struct {
	User      domain.User
	Transport core.SignalTransport
	Engine    Negotiator

	// TypingTTL is the auto-expiry of the peer-typing flag. Zero means 3s.
	TypingTTL time.Duration
	// OnUpdate pokes the UI to re-read the snapshot. Optional.
	OnUpdate func()
	// OnNotice surfaces user-facing errors. Optional.
	OnNotice func(Notice)
}

// Session is created once per client process and lives until shutdown.
// Everything call-scoped is discarded on each return to idle.
type Session struct {
	cfg Config

	mu       sync.Mutex
	state    State
	callID   domain.CallID
	peerID   domain.UserID
	peerName string

	videoEnabled bool
	audioEnabled bool

	messages    []Message
	peerTyping  bool
	typingTimer *time.Timer
}

func New(cfg Config) *Session {
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = 3 * time.Second
	}
	return &Session{
		cfg:          cfg,
		state:        StateIdle,
		videoEnabled: true,
		audioEnabled: true,
	}
}

// StartSearching connects the transport if needed and joins the queue.
func (s *Session) StartSearching(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrInvalidState
	}
	s.state = StateSearching
	s.mu.Unlock()
	s.update()

	if !s.cfg.Transport.IsConnected() {
		if err := s.cfg.Transport.Connect(ctx); err != nil {
			s.toIdle()
			return err
		}
	}
	if err := s.cfg.Transport.JoinQueue(); err != nil {
		s.toIdle()
		return err
	}
	log.Info().Str("module", "session").Msg("searching for a match")
	return nil
}

// StopSearching leaves the queue and returns to idle.
func (s *Session) StopSearching() error {
	s.mu.Lock()
	if s.state != StateSearching {
		s.mu.Unlock()
		return ErrInvalidState
	}
	s.state = StateIdle
	s.mu.Unlock()
	s.update()

	if err := s.cfg.Transport.LeaveQueue(); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("leave queue")
	}
	return nil
}

// Skip abandons the current call and asks for a new match, moving straight
// to searching without passing through idle.
func (s *Session) Skip() error {
	s.mu.Lock()
	if s.state != StateConnecting && s.state != StateConnected {
		s.mu.Unlock()
		return ErrInvalidState
	}
	s.cleanupCallLocked()
	s.state = StateSearching
	s.mu.Unlock()
	s.update()

	if err := s.cfg.Transport.NextPerson(); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("request next person")
	}
	return nil
}

// EndCall notifies the server of an intentional end, then tears down.
func (s *Session) EndCall() error {
	s.mu.Lock()
	if s.state != StateConnecting && s.state != StateConnected {
		s.mu.Unlock()
		return ErrInvalidState
	}
	callID := s.callID
	s.cleanupCallLocked()
	s.state = StateIdle
	s.mu.Unlock()
	s.update()

	if err := s.cfg.Transport.EndCall(callID); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("notify end call")
	}
	return nil
}

func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled, ok := s.cfg.Engine.ToggleVideo(); ok {
		s.videoEnabled = enabled
	}
	return s.videoEnabled
}

func (s *Session) ToggleAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled, ok := s.cfg.Engine.ToggleAudio(); ok {
		s.audioEnabled = enabled
	}
	return s.audioEnabled
}

// Close tears down any active call on process shutdown.
func (s *Session) Close() {
	s.mu.Lock()
	s.cleanupCallLocked()
	s.state = StateIdle
	s.mu.Unlock()
}

// cleanupCallLocked discards everything scoped to the active call. Identity
// fields are cleared together, never independently.
func (s *Session) cleanupCallLocked() {
	s.callID = 0
	s.peerID = 0
	s.peerName = ""
	s.messages = nil
	s.peerTyping = false
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.videoEnabled = true
	s.audioEnabled = true
	s.cfg.Engine.Teardown()
}

func (s *Session) toIdle() {
	s.mu.Lock()
	s.cleanupCallLocked()
	s.state = StateIdle
	s.mu.Unlock()
	s.update()
}

func (s *Session) update() {
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate()
	}
}

func (s *Session) notice(kind NoticeKind, msg string) {
	if s.cfg.OnNotice != nil {
		s.cfg.OnNotice(Notice{Kind: kind, Message: msg})
	}
}
