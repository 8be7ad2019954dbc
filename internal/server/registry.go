package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/voxlink/voxlink/internal/domain"
)

type connEntry struct {
	User   *domain.User
	Conn   *wsConn
	Cancel context.CancelFunc
}

// Registry maps auth tokens to users and users to their live signal
// connection. User ids are sequential so the client-side negotiation role
// rule always sees distinct, ordered ids.
type Registry struct {
	mu      sync.RWMutex
	nextID  domain.UserID
	byToken map[string]*domain.User
	conns   map[domain.UserID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{
		byToken: make(map[string]*domain.User),
		conns:   make(map[domain.UserID]*connEntry),
	}
}

func (r *Registry) GetOrCreateUser(token, name string) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byToken[token]; ok {
		if name != "" {
			_ = u.SetUsername(name)
		}
		return u
	}
	r.nextID++
	if name == "" {
		name = fmt.Sprintf("guest-%d", r.nextID)
	}
	u := &domain.User{ID: r.nextID, Username: name}
	r.byToken[token] = u
	log.Info().Str("module", "server.registry").Int64("user_id", int64(u.ID)).Str("username", name).Msg("created user")
	return u
}

// Bind replaces any previous connection for the user. A stale connection
// from a reconnect race gets closed here rather than lingering.
func (r *Registry) Bind(user *domain.User, conn *wsConn, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[user.ID]; ok {
		old.Conn.Close()
		if old.Cancel != nil {
			old.Cancel()
		}
	}
	r.conns[user.ID] = &connEntry{User: user, Conn: conn, Cancel: cancel}
	log.Info().Str("module", "server.registry").Int64("user_id", int64(user.ID)).Msg("bound connection")
}

// Unbind removes the user's binding only if it still points at the given
// connection. A stale pump finishing after a reconnect must not evict the
// fresh binding; the caller learns from the return value whether it was
// the live connection.
func (r *Registry) Unbind(uid domain.UserID, conn *wsConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[uid]
	if !ok || e.Conn != conn {
		return false
	}
	delete(r.conns, uid)
	log.Info().Str("module", "server.registry").Int64("user_id", int64(uid)).Msg("unbound connection")
	return true
}

func (r *Registry) Conn(uid domain.UserID) (*wsConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[uid]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

func (r *Registry) User(uid domain.UserID) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.byToken {
		if u.ID == uid {
			return u, true
		}
	}
	return nil, false
}
