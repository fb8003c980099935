package service

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"groupchat/internal/apperr"
	"groupchat/internal/auth"
	"groupchat/internal/cache"
	"groupchat/internal/db"
	"groupchat/internal/events"
	"groupchat/internal/models"
	"groupchat/internal/presence"
	"groupchat/internal/store"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sent struct {
	room, event string
	payload     any
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
	subs []string
}

func (r *recorder) Evict(userID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, "evict "+userID+" "+roomID)
}

func (r *recorder) CloseRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, "close "+roomID)
}

func (r *recorder) subscriptionChanges() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.subs...)
}

func (r *recorder) Broadcast(roomID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{roomID, event, payload})
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.room+"/"+s.event)
	}
	return out
}

type fixture struct {
	db       *gorm.DB
	registry *presence.Registry
	bc       *recorder
	cache    *cache.Memory
	users    *UserService
	channels *ChannelService
	invites  *InviteService
	dms      *DMService
	messages *MessageService
}

func newFixture(t *testing.T) *fixture {
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
	st := store.New(gdb)
	reg := presence.NewRegistry()
	online := presence.NewOnlineQuery(st, reg)
	bc := &recorder{}
	mem := cache.NewMemory(time.Minute)
	return &fixture{
		db:       gdb,
		registry: reg,
		bc:       bc,
		cache:    mem,
		users:    NewUserService(gdb, auth.NewTokenService("test-secret", 0), mem),
		channels: NewChannelService(gdb, st, online, bc),
		invites:  NewInviteService(gdb),
		dms:      NewDMService(gdb, online),
		messages: NewMessageService(gdb, bc),
	}
}

func (f *fixture) register(t *testing.T, name string) *models.User {
	t.Helper()
	suffix := xid.New().String()[12:]
	u, err := f.users.Register(context.Background(), RegisterInput{
		Email:    name + suffix + "@example.com",
		Username: name + suffix,
		Password: "correct horse",
	})
	require.NoError(t, err)
	return u
}

func TestUserService_RegisterLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)
	f.users.now = func() time.Time { return at }

	u := f.register(t, "alice")
	assert.Equal(t, at.UnixMilli(), u.Modified)
	assert.Equal(t, u.Username, u.Nickname)

	_, err := f.users.Register(ctx, RegisterInput{Email: "x" + u.Email, Username: u.Username, Password: "correct horse"})
	assert.ErrorIs(t, err, ErrUsernameTaken)
	_, err = f.users.Register(ctx, RegisterInput{Email: u.Email, Username: "other" + u.Username[5:], Password: "correct horse"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	res, err := f.users.Login(ctx, u.Email, "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)

	_, err = f.users.Login(ctx, u.Email, "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.users.Login(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUserService_UpdateProfileBumpsWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "bob")

	later := time.UnixMilli(u.Modified + 60_000)
	f.users.now = func() time.Time { return later }

	about := "hello"
	_, err := f.users.UpdateProfile(ctx, u, ProfilePatch{About: &about})
	require.NoError(t, err)
	cached, ok := f.cache.Get(ctx, u.ID)
	require.True(t, ok)
	assert.Equal(t, u.Modified, cached.Modified, "about alone must not invalidate sessions")

	nick := "Bobby"
	p, err := f.users.UpdateProfile(ctx, u, ProfilePatch{Nickname: &nick})
	require.NoError(t, err)
	assert.Equal(t, "Bobby", p.Nickname)
	cached, ok = f.cache.Get(ctx, u.ID)
	require.True(t, ok)
	assert.Equal(t, later.UnixMilli(), cached.Modified)

	even := time.UnixMilli(later.UnixMilli() + 5_000)
	f.users.now = func() time.Time { return even }
	require.NoError(t, f.users.RevokeSessions(ctx, u))
	cached, _ = f.cache.Get(ctx, u.ID)
	assert.Equal(t, even.UnixMilli(), cached.Modified)
}

func TestChannelLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, guest := f.register(t, "owner"), f.register(t, "guest")

	ch, err := f.channels.Create(ctx, owner, "general")
	require.NoError(t, err)

	_, err = f.channels.Get(ctx, guest.ID, ch.ID)
	assert.ErrorIs(t, err, ErrNotMember)

	inv, err := f.invites.Create(ctx, owner.ID, ch.ID)
	require.NoError(t, err)
	_, err = f.invites.Create(ctx, guest.ID, ch.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	looked, err := f.invites.Lookup(ctx, inv.Code)
	require.NoError(t, err)
	assert.Equal(t, "general", looked.ChannelName)

	_, err = f.invites.Accept(ctx, guest, inv.Code)
	require.NoError(t, err)
	_, err = f.invites.Accept(ctx, guest, inv.Code)
	assert.ErrorIs(t, err, ErrAlreadyMember)

	f.registry.Register(guest.ID, "conn-1", guest.Snapshot())
	detail, err := f.channels.Get(ctx, guest.ID, ch.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Members, 2)
	require.Len(t, detail.OnlineMembers, 1)
	assert.Equal(t, guest.ID, detail.OnlineMembers[0].UserID)

	_, err = f.channels.Rename(ctx, guest.ID, ch.ID, "renamed")
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.ErrorIs(t, f.channels.Leave(ctx, owner.ID, ch.ID), ErrOwnerCannotLeave)
	require.NoError(t, f.channels.Leave(ctx, guest.ID, ch.ID))
	assert.ErrorIs(t, f.channels.Leave(ctx, guest.ID, ch.ID), ErrNotMember)

	require.NoError(t, f.channels.Delete(ctx, owner.ID, ch.ID))
	assert.Equal(t, []string{"evict " + guest.ID + " " + ch.ID, "close " + ch.ID}, f.bc.subscriptionChanges())
	_, err = f.channels.Get(ctx, owner.ID, ch.ID)
	assert.Equal(t, 404, apperr.HTTPStatus(err))
	_, err = f.invites.Lookup(ctx, inv.Code)
	assert.Equal(t, 404, apperr.HTTPStatus(err))
}

func TestMessages_AuthorOnlyMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.register(t, "alice"), f.register(t, "bob")

	dm, err := f.dms.Open(ctx, alice, bob.Username)
	require.NoError(t, err)
	again, err := f.dms.Open(ctx, bob, alice.Username)
	require.NoError(t, err)
	assert.Equal(t, dm.ID, again.ID, "a pair of users shares one dm")

	_, err = f.dms.Open(ctx, alice, alice.Username)
	assert.ErrorIs(t, err, ErrSelfDM)

	msg, err := f.messages.Send(ctx, alice, dm.ID, true, "  hi bob ")
	require.NoError(t, err)
	assert.Equal(t, "hi bob", msg.Content)

	_, err = f.messages.Edit(ctx, bob.ID, dm.ID, msg.MessageID, "hijack")
	assert.ErrorIs(t, err, ErrNotAuthor)
	_, err = f.messages.Edit(ctx, alice.ID, dm.ID, msg.MessageID, "hi bob!")
	require.NoError(t, err)
	assert.ErrorIs(t, f.messages.Delete(ctx, bob.ID, dm.ID, msg.MessageID), ErrNotAuthor)
	require.NoError(t, f.messages.Delete(ctx, alice.ID, dm.ID, msg.MessageID))

	assert.Equal(t, []string{
		dm.ID + "/" + events.Message,
		dm.ID + "/" + events.MessageEdit,
		dm.ID + "/" + events.MessageDelete,
	}, f.bc.events())

	outsider := f.register(t, "eve")
	_, err = f.messages.Send(ctx, outsider, dm.ID, true, "let me in")
	assert.ErrorIs(t, err, ErrNotMember)

	detail, err := f.dms.Get(ctx, bob.ID, dm.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, detail.Recipient.UserID)
	assert.Empty(t, detail.Messages)
}

func TestUserService_PublicProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "carol")
	about := "hi there"
	_, err := f.users.UpdateProfile(ctx, u, ProfilePatch{About: &about})
	require.NoError(t, err)

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"by id", u.ID, false},
		{"by username", u.Username, false},
		{"by username any case", strings.ToUpper(u.Username), false},
		{"unknown", "nobody-" + u.ID, true},
		{"blank", "  ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.users.PublicProfile(ctx, tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, u.ID, p.UserID)
			assert.Equal(t, u.Username, p.Username)
			assert.Equal(t, about, p.About)
			body, err := json.Marshal(p)
			require.NoError(t, err)
			assert.NotContains(t, string(body), u.Email)
		})
	}
}

func TestChannelService_ListAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.register(t, "alice"), f.register(t, "bob")

	ch, err := f.channels.Create(ctx, alice, "lobby")
	require.NoError(t, err)
	dm, err := f.dms.Open(ctx, alice, bob.Username)
	require.NoError(t, err)

	all, err := f.channels.ListAll(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, all.Channels, 1)
	assert.Equal(t, ch.ID, all.Channels[0].ID)
	require.Len(t, all.DMs, 1)
	assert.Equal(t, dm.ID, all.DMs[0].ID)
	assert.Equal(t, bob.ID, all.DMs[0].Recipient.UserID)

	all, err = f.channels.ListAll(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, all.Channels)
	require.Len(t, all.DMs, 1)
	assert.Equal(t, alice.ID, all.DMs[0].Recipient.UserID)
}

func TestDMService_ConcurrentOpenSharesThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.register(t, "alice"), f.register(t, "bob")

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := alice, bob.Username
			if i%2 == 1 {
				from, to = bob, alice.Username
			}
			dm, err := f.dms.Open(ctx, from, to)
			errs[i] = err
			if err == nil {
				ids[i] = dm.ID
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	u1, u2 := dmPair(alice.ID, bob.ID)
	var count int64
	require.NoError(t, f.db.Model(&models.DMThread{}).Where("user1_id = ? AND user2_id = ?", u1, u2).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
