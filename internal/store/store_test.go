package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"groupchat/internal/apperr"
	"groupchat/internal/db"
	"groupchat/internal/models"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) (*gorm.DB, *Store) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=groupchat_test port=5432 sslmode=disable TimeZone=UTC"
	}
	gdb, err := db.ConnectOnce(dsn)
	if err != nil {
		t.Skipf("skip: db not available: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	return gdb, New(gdb)
}

func createUser(t *testing.T, gdb *gorm.DB, name string) *models.User {
	t.Helper()
	id := xid.New().String()
	u := &models.User{
		ID:           id,
		Username:     name + id[12:],
		Nickname:     name,
		Email:        name + id + "@example.com",
		PasswordHash: "x",
		Modified:     time.Now().UnixMilli(),
	}
	require.NoError(t, gdb.Create(u).Error)
	return u
}

func TestFindUser(t *testing.T) {
	gdb, s := newTestStore(t)
	u := createUser(t, gdb, "alice")
	ctx := context.Background()

	got, err := s.FindUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Username, got.Username)
	assert.Equal(t, u.Modified, got.Modified)

	got, err = s.FindUserByEmail(ctx, "  "+u.Email+" ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = s.FindUserByUsername(ctx, u.Username)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.FindUser(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestMembershipsAndRoomMembers(t *testing.T) {
	gdb, s := newTestStore(t)
	ctx := context.Background()
	a := createUser(t, gdb, "alice")
	b := createUser(t, gdb, "bob")
	c := createUser(t, gdb, "carol")

	ch := &models.Channel{ID: xid.New().String(), Name: "general", OwnerID: a.ID, Members: []models.User{*a, *b}}
	require.NoError(t, gdb.Create(ch).Error)
	dm := &models.DMThread{ID: xid.New().String(), User1ID: a.ID, User2ID: c.ID}
	require.NoError(t, gdb.Omit("User1", "User2").Create(dm).Error)

	channels, err := s.ChannelMemberships(ctx, a.ID)
	require.NoError(t, err)
	assert.Contains(t, channels, ch.ID)

	dms, err := s.DMMemberships(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{dm.ID}, dms)

	dms, err = s.DMMemberships(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, dms)

	members, err := s.RoomMembers(ctx, ch.ID, false)
	require.NoError(t, err)
	ids := []string{}
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	members, err = s.RoomMembers(ctx, dm.ID, true)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	_, err = s.RoomMembers(ctx, "missing", false)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = s.RoomMembers(ctx, "missing", true)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
