// Package events defines the realtime wire protocol: every frame is a JSON
// envelope {"event": name, "data": payload}. Names and payload shapes are
// relied on by clients and must stay stable.
package events

import "encoding/json"

// inbound
const (
	JoinRoom  = "joinRoom"
	LeaveRoom = "leaveRoom"
	Typing    = "typing"
)

// outbound
const (
	Message       = "message"
	MessageEdit   = "messageEdit"
	MessageDelete = "messageDelete"
	UserOnline    = "userOnline"
	UserOffline   = "userOffline"
	UserTyping    = "userTyping"
	Error         = "error"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode 把事件名和负载编码为一帧。
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

type TypingRequest struct {
	ChannelID string `json:"channelId"`
	IsTyping  bool   `json:"isTyping"`
}

type MessagePayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Username  string `json:"username"`
	Author    string `json:"author"`
	Channel   string `json:"channel"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
	Banner    string `json:"banner"`
	About     string `json:"about"`
	Timestamp string `json:"timestamp"`
}

type MessageEditPayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type MessageDeletePayload struct {
	MessageID string `json:"message_id"`
}

type UserOnlinePayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

type UserOfflinePayload struct {
	UserID string `json:"user_id"`
}

type UserTypingPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
