package server

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voxlink/voxlink/internal/domain"
)

// Pairing is one active call between two users.
type Pairing struct {
	CallID domain.CallID
	A      *domain.User
	B      *domain.User
}

// Peer returns the other participant.
func (p *Pairing) Peer(uid domain.UserID) *domain.User {
	if p.A.ID == uid {
		return p.B
	}
	return p.A
}

// Matchmaker pairs waiting users first-come-first-served and tracks
// active calls. Call ids are a process-local sequence.
type Matchmaker struct {
	mu       sync.Mutex
	waiting  []*domain.User
	nextCall domain.CallID
	active   map[domain.CallID]*Pairing
	byUser   map[domain.UserID]domain.CallID
}

func NewMatchmaker() *Matchmaker {
	return &Matchmaker{
		active: make(map[domain.CallID]*Pairing),
		byUser: make(map[domain.UserID]domain.CallID),
	}
}

// Join enqueues the user. When a second distinct user is waiting, both
// are popped and paired; the new Pairing is returned with matched=true.
// A user already waiting or already in a call is a no-op.
func (m *Matchmaker) Join(u *domain.User) (p *Pairing, matched bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, inCall := m.byUser[u.ID]; inCall {
		return nil, false
	}
	for _, w := range m.waiting {
		if w.ID == u.ID {
			return nil, false
		}
	}
	m.waiting = append(m.waiting, u)
	if len(m.waiting) < 2 {
		return nil, false
	}

	a, b := m.waiting[0], m.waiting[1]
	m.waiting = m.waiting[2:]
	m.nextCall++
	p = &Pairing{CallID: m.nextCall, A: a, B: b}
	m.active[p.CallID] = p
	m.byUser[a.ID] = p.CallID
	m.byUser[b.ID] = p.CallID
	log.Info().Str("module", "server.match").
		Int64("call_id", int64(p.CallID)).
		Int64("user1", int64(a.ID)).
		Int64("user2", int64(b.ID)).
		Msg("matched")
	return p, true
}

// Leave removes the user from the waiting queue.
func (m *Matchmaker) Leave(uid domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.waiting {
		if w.ID == uid {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			return
		}
	}
}

// Waiting reports the queue length.
func (m *Matchmaker) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}

// CallOf returns the user's active pairing, if any.
func (m *Matchmaker) CallOf(uid domain.UserID) (*Pairing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUser[uid]
	if !ok {
		return nil, false
	}
	p, ok := m.active[id]
	return p, ok
}

// End removes the pairing and both participants' call bindings. Returns
// the removed pairing so callers can notify the peer.
func (m *Matchmaker) End(callID domain.CallID) (*Pairing, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.active[callID]
	if !ok {
		return nil, false
	}
	delete(m.active, callID)
	delete(m.byUser, p.A.ID)
	delete(m.byUser, p.B.ID)
	log.Info().Str("module", "server.match").Int64("call_id", int64(callID)).Msg("call ended")
	return p, true
}
