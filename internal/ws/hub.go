package ws

import (
	"sync"

	"groupchat/internal/metrics"
)

// Hub 管理房间级别的订阅组。一个连接可以同时订阅多个房间；
// 房间在第一个订阅者加入时创建，最后一个离开时删除。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*RoomHub
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]*RoomHub)} }

// Join 把连接加入房间的组播组，返回是否为新加入。
func (h *Hub) Join(roomID string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[roomID]
	if room == nil {
		room = newRoomHub(roomID)
		h.rooms[roomID] = room
	}
	return room.add(c)
}

// Leave 把连接移出房间，重复调用是安全的。
func (h *Hub) Leave(roomID string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[roomID]
	if room == nil {
		return false
	}
	removed := room.remove(c)
	if room.size() == 0 {
		delete(h.rooms, roomID)
	}
	return removed
}

// Broadcast 向房间内除 except 以外的所有连接投递一帧。慢连接会被断开，
// 不会阻塞其他订阅者。同一房间内的投递顺序与调用顺序一致。
func (h *Hub) Broadcast(roomID string, msg []byte, except *Client) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[roomID]
	if room == nil {
		return 0
	}
	return room.broadcast(msg, except)
}

// LeaveUser 把 userID 的所有连接移出房间，返回被移出的连接。
func (h *Hub) LeaveUser(roomID, userID string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[roomID]
	if room == nil {
		return nil
	}
	removed := room.removeWhere(func(c *Client) bool { return c.user.ID == userID })
	if room.size() == 0 {
		delete(h.rooms, roomID)
	}
	return removed
}

// CloseRoom 解散整个房间的订阅组，返回原有的连接。
func (h *Hub) CloseRoom(roomID string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[roomID]
	if room == nil {
		return nil
	}
	delete(h.rooms, roomID)
	return room.removeWhere(func(*Client) bool { return true })
}

func (h *Hub) online(roomID string) int {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.size()
}

func (h *Hub) Subscribed(roomID string, c *Client) bool {
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return false
	}
	return room.has(c)
}

type RoomHub struct {
	roomID  string
	mu      sync.Mutex
	clients map[*Client]struct{}
}

func newRoomHub(roomID string) *RoomHub {
	return &RoomHub{roomID: roomID, clients: make(map[*Client]struct{})}
}

func (rh *RoomHub) add(c *Client) bool {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	if _, ok := rh.clients[c]; ok {
		return false
	}
	rh.clients[c] = struct{}{}
	return true
}

func (rh *RoomHub) remove(c *Client) bool {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	if _, ok := rh.clients[c]; !ok {
		return false
	}
	delete(rh.clients, c)
	return true
}

func (rh *RoomHub) removeWhere(match func(*Client) bool) []*Client {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	var out []*Client
	for c := range rh.clients {
		if match(c) {
			delete(rh.clients, c)
			out = append(out, c)
		}
	}
	return out
}

func (rh *RoomHub) has(c *Client) bool {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	_, ok := rh.clients[c]
	return ok
}

func (rh *RoomHub) size() int {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	return len(rh.clients)
}

func (rh *RoomHub) broadcast(msg []byte, except *Client) int {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	delivered := 0
	for c := range rh.clients {
		if c == except {
			continue
		}
		if c.enqueue(msg) {
			delivered++
			continue
		}
		delete(rh.clients, c)
		if c.close() {
			metrics.WsDroppedTotal.Inc()
		}
	}
	return delivered
}
