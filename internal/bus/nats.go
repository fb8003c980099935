// Package bus relays room broadcasts and subscription changes between gateway
// processes over NATS. Presence and typing stay local to the process holding
// the connection.
package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"groupchat/internal/events"
	applog "groupchat/internal/log"

	"github.com/nats-io/nats.go"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
)

const subjectPrefix = "chat.room."

// Local 是本进程的投递端，由 ws.Gateway 实现。
type Local interface {
	Broadcast(roomID, event string, payload any)
	Deliver(roomID, event string, frame []byte)
	Evict(userID, roomID string)
	CloseRoom(roomID string)
}

const (
	controlEvict = "evict"
	controlClose = "close"
)

// relayed 要么携带一帧事件，要么携带一条订阅控制指令（Control 非空）。
type relayed struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Event   string          `json:"event,omitempty"`
	Frame   json.RawMessage `json:"frame,omitempty"`
	Control string          `json:"control,omitempty"`
	User    string          `json:"user,omitempty"`
}

type Relay struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	origin string
	local  Local
	logger zerolog.Logger
}

// Dial connects to NATS and starts delivering remote broadcasts into local.
func Dial(url string, local Local) (*Relay, error) {
	r := newRelay(local)
	conn, err := nats.Connect(url,
		nats.Name("groupchat-"+r.origin),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			r.logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			r.logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	sub, err := conn.Subscribe(subjectPrefix+">", func(m *nats.Msg) { r.handle(m.Data) })
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	r.conn, r.sub = conn, sub
	return r, nil
}

func newRelay(local Local) *Relay {
	return &Relay{origin: xid.New().String(), local: local, logger: applog.Component("bus")}
}

// Broadcast delivers to local connections first, then publishes the encoded
// frame so other processes can deliver it to theirs. A failed publish only
// costs remote delivery.
func (r *Relay) Broadcast(roomID, event string, payload any) {
	r.local.Broadcast(roomID, event, payload)
	if r.conn == nil {
		return
	}
	frame, err := events.Encode(event, payload)
	if err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("encode relayed event")
		return
	}
	r.publish(relayed{Room: roomID, Event: event, Frame: frame})
}

// Evict unsubscribes userID from roomID on this and every other process.
func (r *Relay) Evict(userID, roomID string) {
	r.local.Evict(userID, roomID)
	r.publish(relayed{Room: roomID, Control: controlEvict, User: userID})
}

func (r *Relay) CloseRoom(roomID string) {
	r.local.CloseRoom(roomID)
	r.publish(relayed{Room: roomID, Control: controlClose})
}

func (r *Relay) publish(m relayed) {
	if r.conn == nil {
		return
	}
	m.Origin = r.origin
	data, err := json.Marshal(m)
	if err != nil {
		r.logger.Error().Err(err).Msg("encode relay envelope")
		return
	}
	if err := r.conn.Publish(subject(m.Room), data); err != nil {
		r.logger.Warn().Err(err).Str("room_id", m.Room).Msg("nats publish")
	}
}

func (r *Relay) handle(data []byte) {
	var m relayed
	if err := json.Unmarshal(data, &m); err != nil {
		r.logger.Warn().Err(err).Msg("decode relayed event")
		return
	}
	if m.Origin == r.origin || m.Room == "" {
		return
	}
	switch m.Control {
	case "":
		r.local.Deliver(m.Room, m.Event, m.Frame)
	case controlEvict:
		if m.User != "" {
			r.local.Evict(m.User, m.Room)
		}
	case controlClose:
		r.local.CloseRoom(m.Room)
	default:
		r.logger.Warn().Str("control", m.Control).Msg("unknown relay control")
	}
}

func (r *Relay) Close() {
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}

// subject 房间 ID 中的 "." 会被 NATS 视作层级分隔符，这里替换掉。
func subject(roomID string) string {
	return subjectPrefix + strings.ReplaceAll(roomID, ".", "_")
}
