package presence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"groupchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(id string) models.UserSnapshot {
	return models.UserSnapshot{UserID: id, Username: "user-" + id}
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.IsOnline("a"))

	assert.True(t, r.Register("a", "c1", snap("a")))
	assert.True(t, r.IsOnline("a"))
	got, ok := r.Snapshot("a")
	require.True(t, ok)
	assert.Equal(t, "user-a", got.Username)

	assert.True(t, r.Unregister("a", "c1"))
	assert.False(t, r.IsOnline("a"))
	_, ok = r.Snapshot("a")
	assert.False(t, ok)
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("a", "c1", snap("a"))
	assert.True(t, r.Unregister("a", "c1"))
	assert.False(t, r.Unregister("a", "c1"))
	assert.False(t, r.Unregister("nobody", "c9"))
	assert.Equal(t, 0, r.OnlineCount())
}

func TestRegistry_MultiDevice(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Register("a", "phone", snap("a")))
	assert.False(t, r.Register("a", "laptop", snap("a")))
	assert.Equal(t, 2, r.Connections("a"))

	assert.False(t, r.Unregister("a", "phone"), "still online on laptop")
	assert.True(t, r.IsOnline("a"))
	assert.True(t, r.Unregister("a", "laptop"))
	assert.False(t, r.IsOnline("a"))
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%5))
			conn := string(rune('A' + i))
			r.Register(id, conn, snap(id))
			_ = r.IsOnline(id)
			r.Unregister(id, conn)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.OnlineCount())
}

type fakeMembers struct {
	rooms map[string][]models.UserSnapshot
	err   error
}

func (f *fakeMembers) RoomMembers(_ context.Context, roomID string, _ bool) ([]models.UserSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rooms[roomID], nil
}

func TestOnlineQuery(t *testing.T) {
	r := NewRegistry()
	members := &fakeMembers{rooms: map[string][]models.UserSnapshot{
		"general": {snap("a"), snap("b"), snap("c")},
		"dm1":     {snap("a"), snap("b")},
	}}
	q := NewOnlineQuery(members, r)
	ctx := context.Background()

	online, err := q.OnlineMembers(ctx, "general", false)
	require.NoError(t, err)
	assert.Empty(t, online)

	r.Register("a", "c1", snap("a"))
	r.Register("c", "c2", snap("c"))

	online, err = q.OnlineMembers(ctx, "general", false)
	require.NoError(t, err)
	assert.Equal(t, []models.UserSnapshot{snap("a"), snap("c")}, online)

	online, err = q.OnlineMembers(ctx, "dm1", true)
	require.NoError(t, err)
	assert.Equal(t, []models.UserSnapshot{snap("a")}, online)

	r.Unregister("a", "c1")
	online, err = q.OnlineMembers(ctx, "dm1", true)
	require.NoError(t, err)
	assert.Empty(t, online)

	members.err = errors.New("db down")
	_, err = q.OnlineMembers(ctx, "general", false)
	assert.Error(t, err)
}
