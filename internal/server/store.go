package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/voxlink/voxlink/internal/domain"
)

var ErrCallNotFound = errors.New("call not found")

// CallStore keeps the call-history records the REST layer serves.
// In-memory; the dev server has no persistence ambitions.
type CallStore struct {
	mu    sync.RWMutex
	calls map[domain.CallID]*domain.Call
}

func NewCallStore() *CallStore {
	return &CallStore{calls: make(map[domain.CallID]*domain.Call)}
}

func (s *CallStore) Create(id domain.CallID, a, b *domain.User) *domain.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := &domain.Call{
		ID:        id,
		User1ID:   a.ID,
		User1Name: a.Username,
		User2ID:   b.ID,
		User2Name: b.Username,
		StartedAt: time.Now(),
		CallType:  domain.CallVideo,
		Status:    domain.CallActive,
	}
	s.calls[id] = call
	return call
}

func (s *CallStore) finish(id domain.CallID, status domain.CallStatus) (*domain.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[id]
	if !ok {
		return nil, ErrCallNotFound
	}
	if call.Status == domain.CallActive {
		now := time.Now()
		dur := int64(now.Sub(call.StartedAt).Seconds())
		call.EndedAt = &now
		call.DurationSeconds = &dur
		call.Status = status
	}
	cp := *call
	return &cp, nil
}

func (s *CallStore) End(id domain.CallID) (*domain.Call, error) {
	return s.finish(id, domain.CallCompleted)
}

func (s *CallStore) Cancel(id domain.CallID) (*domain.Call, error) {
	return s.finish(id, domain.CallCancelled)
}

func (s *CallStore) Get(id domain.CallID) (*domain.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.calls[id]
	if !ok {
		return nil, ErrCallNotFound
	}
	cp := *call
	return &cp, nil
}

// ByUser returns the user's calls ordered by id, optionally filtered by
// status ("" means all).
func (s *CallStore) ByUser(uid domain.UserID, status domain.CallStatus) []domain.Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Call, 0, len(s.calls))
	for _, call := range s.calls {
		if call.User1ID != uid && call.User2ID != uid {
			continue
		}
		if status != "" && call.Status != status {
			continue
		}
		out = append(out, *call)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
