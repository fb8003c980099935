// Package membership computes the set of rooms (channels and DM threads) a
// user belongs to.
package membership

import (
	"context"
	"fmt"
)

type Store interface {
	ChannelMemberships(ctx context.Context, userID string) ([]string, error)
	DMMemberships(ctx context.Context, userID string) ([]string, error)
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// RoomsFor 返回频道与私信 id 的并集（去重，频道在前）。不做缓存。
func (r *Resolver) RoomsFor(ctx context.Context, userID string) ([]string, error) {
	channels, err := r.store.ChannelMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve channels: %w", err)
	}
	dms, err := r.store.DMMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve dms: %w", err)
	}
	seen := make(map[string]struct{}, len(channels)+len(dms))
	rooms := make([]string, 0, len(channels)+len(dms))
	for _, ids := range [][]string{channels, dms} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			rooms = append(rooms, id)
		}
	}
	return rooms, nil
}

// IsMember 判断用户当前是否属于该房间。
func (r *Resolver) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	rooms, err := r.RoomsFor(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, id := range rooms {
		if id == roomID {
			return true, nil
		}
	}
	return false, nil
}
