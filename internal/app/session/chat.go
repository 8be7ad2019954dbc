package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voxlink/voxlink/internal/domain"
)

// Message is one entry of the call-scoped chat log.
type Message struct {
	ID         string
	Text       string
	Own        bool
	SenderName string
	SentAt     time.Time
}

// SendMessage appends the message locally right away and publishes it; no
// waiting for a server echo.
func (s *Session) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	if s.callID == 0 {
		s.mu.Unlock()
		return ErrInvalidState
	}
	callID := s.callID
	s.messages = append(s.messages, Message{
		ID:         uuid.NewString(),
		Text:       text,
		Own:        true,
		SenderName: s.cfg.User.Username,
		SentAt:     time.Now(),
	})
	s.mu.Unlock()
	s.update()

	if err := s.cfg.Transport.SendChatMessage(callID, text); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("publish chat message")
		return err
	}
	return nil
}

// SignalTyping tells the peer we are composing. Fire and forget.
func (s *Session) SignalTyping() {
	s.mu.Lock()
	callID := s.callID
	s.mu.Unlock()
	if callID == 0 {
		return
	}
	if err := s.cfg.Transport.SendTyping(callID); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("send typing")
	}
}

func (s *Session) handleChatMessage(msg domain.ChatMessage) {
	// The transport addresses messages; trust the recipient field instead
	// of re-deriving ownership from the sender.
	if msg.RecipientID != s.cfg.User.ID {
		return
	}
	s.mu.Lock()
	if s.callID == 0 {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, Message{
		ID:         strconv.FormatInt(msg.ID, 10),
		Text:       msg.Message,
		Own:        false,
		SenderName: msg.SenderName,
		SentAt:     msg.SentAt,
	})
	s.mu.Unlock()
	s.update()
}

// handleTyping restarts the expiry countdown on every typing signal rather
// than stacking timers.
func (s *Session) handleTyping(t domain.TypingIndicator) {
	s.mu.Lock()
	if !t.IsTyping {
		s.peerTyping = false
		if s.typingTimer != nil {
			s.typingTimer.Stop()
			s.typingTimer = nil
		}
		s.mu.Unlock()
		s.update()
		return
	}
	s.peerTyping = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.cfg.TypingTTL, s.typingExpired)
	s.mu.Unlock()
	s.update()
}

func (s *Session) typingExpired() {
	s.mu.Lock()
	s.peerTyping = false
	s.typingTimer = nil
	s.mu.Unlock()
	s.update()
}
