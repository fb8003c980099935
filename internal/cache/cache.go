// Package cache holds write-through copies of user records keyed by user id.
// The persistence store stays the source of truth; entries are replaced on
// every update and expire after a TTL.
package cache

import (
	"context"
	"sync"
	"time"

	"groupchat/internal/models"
)

type entry struct {
	user    models.User
	expires time.Time
}

// Memory is the single-process user cache used when Redis is not configured.
type Memory struct {
	mu    sync.RWMutex
	ttl   time.Duration
	users map[string]entry
	now   func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, users: make(map[string]entry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, id string) (*models.User, bool) {
	m.mu.RLock()
	e, ok := m.users[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if m.now().After(e.expires) {
		m.mu.Lock()
		if cur, ok := m.users[id]; ok && cur.expires.Equal(e.expires) {
			delete(m.users, id)
		}
		m.mu.Unlock()
		return nil, false
	}
	u := e.user
	return &u, true
}

func (m *Memory) Set(_ context.Context, u *models.User) {
	if u == nil || u.ID == "" {
		return
	}
	m.mu.Lock()
	m.users[u.ID] = entry{user: *u, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
}

func (m *Memory) Delete(_ context.Context, id string) {
	m.mu.Lock()
	delete(m.users, id)
	m.mu.Unlock()
}

func (m *Memory) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}
