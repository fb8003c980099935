// Package presence tracks which users currently hold a live realtime
// connection. State is per process and starts empty after a restart;
// presence is not shared between instances.
package presence

import (
	"sync"

	"groupchat/internal/metrics"
	"groupchat/internal/models"
)

// Registry 记录 user_id -> 连接 -> 用户快照，支持同一用户多端在线。
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[string]models.UserSnapshot
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]map[string]models.UserSnapshot)}
}

// Register 登记一条连接，返回该用户此前是否已不在线。
func (r *Registry) Register(userID, connID string, snap models.UserSnapshot) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]models.UserSnapshot, 1)
		r.users[userID] = conns
		metrics.PresenceOnline.Inc()
	}
	conns[connID] = snap
	return !ok
}

// Unregister 移除一条连接，返回用户是否因此彻底下线。重复调用是安全的。
func (r *Registry) Unregister(userID, connID string) (offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := conns[connID]; !ok {
		return false
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.users, userID)
		metrics.PresenceOnline.Dec()
		return true
	}
	return false
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// Snapshot 返回最近一次登记的用户快照。
func (r *Registry) Snapshot(userID string) (models.UserSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, snap := range r.users[userID] {
		return snap, true
	}
	return models.UserSnapshot{}, false
}

func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
