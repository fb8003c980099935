package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"groupchat/internal/apperr"
	"groupchat/internal/auth"
	"groupchat/internal/events"
	applog "groupchat/internal/log"
	"groupchat/internal/metrics"
	"groupchat/internal/models"
	"groupchat/internal/presence"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const stepTimeout = 5 * time.Second

type Authorizer interface {
	Authorize(ctx context.Context, token string) (*models.User, error)
}

type RoomResolver interface {
	RoomsFor(ctx context.Context, userID string) ([]string, error)
	IsMember(ctx context.Context, userID, roomID string) (bool, error)
}

// Gateway authenticates realtime connections, subscribes them to their rooms,
// keeps the presence registry current and relays presence/typing events.
type Gateway struct {
	auth     Authorizer
	rooms    RoomResolver
	registry *presence.Registry
	hub      *Hub
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	eventRate  rate.Limit
	eventBurst int
}

func NewGateway(authorizer Authorizer, rooms RoomResolver, registry *presence.Registry, hub *Hub) *Gateway {
	return &Gateway{
		auth:     authorizer,
		rooms:    rooms,
		registry: registry,
		hub:      hub,
		logger:   applog.Component("gateway"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		eventRate:  rate.Every(50 * time.Millisecond),
		eventBurst: 20,
	}
}

func (g *Gateway) Hub() *Hub { return g.hub }

// Broadcast delivers an event to every connection subscribed to roomID.
// REST mutation handlers use it for message/messageEdit/messageDelete.
func (g *Gateway) Broadcast(roomID, event string, payload any) {
	g.broadcast(roomID, event, payload, nil)
}

// Deliver 投递已编码的帧，供跨进程中继使用。
func (g *Gateway) Deliver(roomID, event string, frame []byte) {
	g.hub.Broadcast(roomID, frame, nil)
	metrics.WsEventsTotal.WithLabelValues(event).Inc()
}

func (g *Gateway) broadcast(roomID, event string, payload any, except *Client) {
	frame, err := events.Encode(event, payload)
	if err != nil {
		g.logger.Error().Err(err).Str("event", event).Str("room_id", roomID).Msg("encode event")
		return
	}
	g.hub.Broadcast(roomID, frame, except)
	metrics.WsEventsTotal.WithLabelValues(event).Inc()
}

// Evict unsubscribes every live connection of userID from roomID after the
// user stopped being a member. Remaining subscribers get userOffline.
func (g *Gateway) Evict(userID, roomID string) {
	removed := g.hub.LeaveUser(roomID, userID)
	for _, c := range removed {
		c.removeRoom(roomID)
	}
	if len(removed) > 0 {
		g.broadcast(roomID, events.UserOffline, events.UserOfflinePayload{UserID: userID}, nil)
	}
}

// CloseRoom 在房间被删除后解除所有连接的订阅。
func (g *Gateway) CloseRoom(roomID string) {
	for _, c := range g.hub.CloseRoom(roomID) {
		c.removeRoom(roomID)
	}
}

// ServeWS 完成握手：先升级连接，再执行会话策略；失败时发送 error 事件并强制关闭。
func (g *Gateway) ServeWS(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Debug().Err(err).Msg("upgrade")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	user, err := g.auth.Authorize(ctx, handshakeToken(c.Request))
	cancel()
	if err != nil {
		g.reject(conn, err)
		return
	}

	client := newClient(conn, user, rate.NewLimiter(g.eventRate, g.eventBurst))
	g.Connect(client)
	go client.writePump()
	defer g.Disconnect(client)
	client.readPump(func(data []byte) { g.Handle(client, data) })
}

func handshakeToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return auth.FromHandshake(t)
	}
	return auth.FromRequest(r)
}

func (g *Gateway) reject(conn *websocket.Conn, err error) {
	msg := "Unauthorized"
	if apperr.IsInternal(err) {
		g.logger.Error().Err(err).Msg("handshake authorize")
		msg = "Internal server error"
	} else {
		g.logger.Debug().Err(err).Msg("handshake rejected")
	}
	deadline := time.Now().Add(writeWait)
	if frame, encErr := events.Encode(events.Error, events.ErrorPayload{Message: msg}); encErr == nil {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), deadline)
	_ = conn.Close()
}

// Connect moves an authenticated connection to Active: it subscribes the
// connection to every room of the user, registers presence and announces
// userOnline to those rooms. Resolution failures degrade to no rooms.
func (g *Gateway) Connect(c *Client) {
	c.setState(StateAuthenticated)

	var rooms []string
	g.safely(c, "resolve rooms", func() {
		ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
		defer cancel()
		resolved, err := g.rooms.RoomsFor(ctx, c.user.ID)
		if err != nil {
			g.logger.Error().Err(err).Str("user_id", c.user.ID).Msg("resolve rooms on connect")
			return
		}
		rooms = resolved
	})
	for _, id := range rooms {
		g.hub.Join(id, c)
		c.addRoom(id)
	}
	g.safely(c, "register presence", func() {
		g.registry.Register(c.user.ID, c.id, c.user.Snapshot())
	})
	metrics.WsConnections.Inc()
	c.setState(StateJoined)

	online := onlinePayload(&c.user)
	for _, id := range rooms {
		g.broadcast(id, events.UserOnline, online, c)
	}
	c.setState(StateActive)
	g.logger.Info().Str("user_id", c.user.ID).Str("conn_id", c.id).Int("rooms", len(rooms)).Int("online_users", g.registry.OnlineCount()).Msg("connected")
}

// Disconnect is the best-effort cleanup for a closed transport. It re-resolves
// the user's rooms, drops presence and announces userOffline once the user has
// no connection left. Calling it again for the same connection is a no-op.
func (g *Gateway) Disconnect(c *Client) {
	if !c.markDisconnected() {
		return
	}

	joined := c.joinedRooms()
	rooms := joined
	g.safely(c, "resolve rooms", func() {
		ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
		defer cancel()
		resolved, err := g.rooms.RoomsFor(ctx, c.user.ID)
		if err != nil {
			g.logger.Error().Err(err).Str("user_id", c.user.ID).Msg("resolve rooms on disconnect")
			return
		}
		rooms = union(joined, resolved)
	})

	for _, id := range joined {
		g.hub.Leave(id, c)
		c.removeRoom(id)
	}

	offline := false
	g.safely(c, "unregister presence", func() {
		offline = g.registry.Unregister(c.user.ID, c.id)
	})
	metrics.WsConnections.Dec()

	if offline {
		payload := events.UserOfflinePayload{UserID: c.user.ID}
		for _, id := range rooms {
			g.broadcast(id, events.UserOffline, payload, c)
		}
	}
	c.close()
	g.logger.Info().Str("user_id", c.user.ID).Str("conn_id", c.id).Bool("offline", offline).Int("remaining", g.registry.Connections(c.user.ID)).Msg("disconnected")
}

// Handle dispatches one inbound frame. Malformed, unknown or rate-limited
// frames are dropped.
func (g *Gateway) Handle(c *Client, data []byte) {
	if c.State() != StateActive {
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		g.logger.Debug().Str("conn_id", c.id).Msg("event rate limited")
		return
	}
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		g.logger.Debug().Err(err).Str("conn_id", c.id).Msg("decode frame")
		return
	}
	g.safely(c, env.Event, func() {
		switch env.Event {
		case events.JoinRoom:
			var roomID string
			if err := json.Unmarshal(env.Data, &roomID); err == nil {
				g.joinRoom(c, roomID)
			}
		case events.LeaveRoom:
			var roomID string
			if err := json.Unmarshal(env.Data, &roomID); err == nil {
				g.leaveRoom(c, roomID)
			}
		case events.Typing:
			var req events.TypingRequest
			if err := json.Unmarshal(env.Data, &req); err == nil {
				g.typing(c, req)
			}
		default:
			g.logger.Debug().Str("event", env.Event).Str("conn_id", c.id).Msg("unknown event")
		}
	})
}

func (g *Gateway) joinRoom(c *Client, roomID string) {
	if roomID == "" || c.inRoom(roomID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	ok, err := g.rooms.IsMember(ctx, c.user.ID, roomID)
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", c.user.ID).Str("room_id", roomID).Msg("join room membership")
		return
	}
	if !ok {
		g.logger.Warn().Str("user_id", c.user.ID).Str("room_id", roomID).Msg("join room denied")
		return
	}
	g.hub.Join(roomID, c)
	c.addRoom(roomID)
	g.broadcast(roomID, events.UserOnline, onlinePayload(&c.user), c)
}

func (g *Gateway) leaveRoom(c *Client, roomID string) {
	if !c.removeRoom(roomID) {
		return
	}
	g.hub.Leave(roomID, c)
	g.broadcast(roomID, events.UserOffline, events.UserOfflinePayload{UserID: c.user.ID}, c)
}

// typing 只在发送者已订阅的房间内转发，服务端不做去抖或超时。
func (g *Gateway) typing(c *Client, req events.TypingRequest) {
	if !c.inRoom(req.ChannelID) {
		return
	}
	g.broadcast(req.ChannelID, events.UserTyping, events.UserTypingPayload{
		UserID:   c.user.ID,
		Username: c.user.Username,
		IsTyping: req.IsTyping,
	}, c)
}

func (g *Gateway) safely(c *Client, step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().Interface("panic", r).Str("step", step).Str("conn_id", c.id).Msg("gateway step failed")
		}
	}()
	fn()
}

func onlinePayload(u *models.User) events.UserOnlinePayload {
	return events.UserOnlinePayload{UserID: u.ID, Username: u.Username, Nickname: u.Nickname, Avatar: u.Avatar}
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, ids := range [][]string{a, b} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
