package presence

import (
	"context"

	"groupchat/internal/models"
)

type MemberStore interface {
	RoomMembers(ctx context.Context, roomID string, isDM bool) ([]models.UserSnapshot, error)
}

// OnlineQuery answers "who in this room is connected right now". It is a
// point-in-time read; live updates travel as userOnline/userOffline events.
type OnlineQuery struct {
	members  MemberStore
	registry *Registry
}

func NewOnlineQuery(members MemberStore, registry *Registry) *OnlineQuery {
	return &OnlineQuery{members: members, registry: registry}
}

func (q *OnlineQuery) OnlineMembers(ctx context.Context, roomID string, isDM bool) ([]models.UserSnapshot, error) {
	members, err := q.members.RoomMembers(ctx, roomID, isDM)
	if err != nil {
		return nil, err
	}
	out := make([]models.UserSnapshot, 0, len(members))
	for _, m := range members {
		if q.registry.IsOnline(m.UserID) {
			out = append(out, m)
		}
	}
	return out, nil
}
