package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"groupchat/internal/apperr"
	"groupchat/internal/cache"
	"groupchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
		{"long password", "a" + string(make([]byte, 70)), false}, // bcrypt max is 72 bytes
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func newTokens(at time.Time) *TokenService {
	s := NewTokenService("test-secret-key", DefaultTokenTTL)
	s.now = func() time.Time { return at }
	return s
}

func TestTokenService_IssueVerify(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	s := newTokens(at)

	token, err := s.Issue("u42")
	require.NoError(t, err)

	claims, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u42", claims.UserID)
	assert.Equal(t, at.UnixMilli(), claims.SignedAt)
}

func TestTokenService_VerifyFailures(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	s := newTokens(at)
	token, err := s.Issue("u1")
	require.NoError(t, err)

	other := newTokens(at)
	other.secret = []byte("wrong-secret")

	tests := []struct {
		name  string
		svc   *TokenService
		token string
	}{
		{"empty token", s, ""},
		{"malformed token", s, "invalid.token.here"},
		{"wrong secret", other, token},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := tt.svc.Verify(tt.token)
			assert.Nil(t, claims)
			assert.True(t, errors.Is(err, apperr.ErrUnauthenticated), "got %v", err)
		})
	}
}

func TestTokenService_Expired(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	s := newTokens(at)
	token, err := s.Issue("u1")
	require.NoError(t, err)

	s.now = func() time.Time { return at.Add(DefaultTokenTTL - time.Minute) }
	_, err = s.Verify(token)
	assert.NoError(t, err)

	s.now = func() time.Time { return at.Add(DefaultTokenTTL + time.Second) }
	_, err = s.Verify(token)
	assert.True(t, errors.Is(err, apperr.ErrUnauthenticated))
	assert.Equal(t, "token expired", apperr.Message(err))
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
		want   string
	}{
		{"bearer header", "", "Bearer abc", "abc"},
		{"lowercase bearer", "", "bearer abc", "abc"},
		{"bare header", "", "abc", "abc"},
		{"cookie only", "fromcookie", "", "fromcookie"},
		{"cookie wins", "fromcookie", "Bearer fromheader", "fromcookie"},
		{"nothing", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/account", nil)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, FromRequest(r))
		})
	}
}

func TestFromHandshake(t *testing.T) {
	assert.Equal(t, "tok", FromHandshake("Bearer tok"))
	assert.Equal(t, "tok", FromHandshake("tok"))
	assert.Equal(t, "", FromHandshake(""))
}

type fakeUsers struct {
	users map[string]*models.User
	calls int
	err   error
}

func (f *fakeUsers) FindUser(_ context.Context, id string) (*models.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	cp := *u
	return &cp, nil
}

func tokenAt(t *testing.T, userID string, ms int64) string {
	t.Helper()
	token, err := newTokens(time.UnixMilli(ms)).Issue(userID)
	require.NoError(t, err)
	return token
}

func newAuthorizer(users *fakeUsers, nowMs int64) *Authorizer {
	return NewAuthorizer(newTokens(time.UnixMilli(nowMs)), users, cache.NewMemory(time.Minute))
}

func TestSessionValid_GraceWindow(t *testing.T) {
	const modified = int64(1_700_000_000_000)
	tests := []struct {
		name     string
		signedAt int64
		want     bool
	}{
		{"before modified", modified - 1, false},
		{"exactly modified", modified, false},
		{"modified plus 999ms", modified + 999, false},
		{"modified plus 1000ms", modified + 1000, true},
		{"well after", modified + 60_000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionValid(tt.signedAt, modified))
		})
	}
}

func TestAuthorize_GraceBoundary(t *testing.T) {
	const modified = int64(1_700_000_000_000)
	users := &fakeUsers{users: map[string]*models.User{"u1": {ID: "u1", Username: "alice", Modified: modified}}}

	for _, offset := range []int64{0, 500, 999} {
		a := newAuthorizer(users, modified+offset)
		_, err := a.Authorize(context.Background(), tokenAt(t, "u1", modified+offset))
		assert.True(t, errors.Is(err, apperr.ErrUnauthenticated), "offset %d should be rejected", offset)
	}
	for _, offset := range []int64{1000, 1001, 5000} {
		a := newAuthorizer(users, modified+offset)
		u, err := a.Authorize(context.Background(), tokenAt(t, "u1", modified+offset))
		require.NoError(t, err, "offset %d should be accepted", offset)
		assert.Equal(t, "alice", u.Username)
	}
}

func TestAuthorize_ProfileChangeInvalidatesOlderTokens(t *testing.T) {
	const t0 = int64(1_700_000_000_000)
	user := &models.User{ID: "u1", Username: "alice", Modified: t0}
	users := &fakeUsers{users: map[string]*models.User{"u1": user}}
	token := tokenAt(t, "u1", t0+2000)

	a := NewAuthorizer(newTokens(time.UnixMilli(t0+3000)), users, nil)
	_, err := a.Authorize(context.Background(), token)
	require.NoError(t, err)

	// nickname changed at t1; token signed before t1+1000 must now fail
	user.Modified = t0 + 1500
	_, err = a.Authorize(context.Background(), token)
	assert.True(t, errors.Is(err, apperr.ErrUnauthenticated))
	assert.Equal(t, "session invalidated", apperr.Message(err))

	// a modification far enough in the past keeps the token alive
	user.Modified = t0 + 1000
	_, err = a.Authorize(context.Background(), token)
	assert.NoError(t, err)
}

func TestAuthorize_Failures(t *testing.T) {
	const now = int64(1_700_000_000_000)
	users := &fakeUsers{users: map[string]*models.User{"u1": {ID: "u1", Modified: 0}}}
	a := NewAuthorizer(newTokens(time.UnixMilli(now)), users, nil)

	_, err := a.Authorize(context.Background(), "")
	assert.True(t, errors.Is(err, apperr.ErrUnauthenticated))

	_, err = a.Authorize(context.Background(), tokenAt(t, "ghost", now))
	assert.True(t, errors.Is(err, apperr.ErrUnauthenticated))

	users.err = errors.New("db down")
	_, err = a.Authorize(context.Background(), tokenAt(t, "u1", now))
	require.Error(t, err)
	assert.True(t, apperr.IsInternal(err))
}

func TestAuthorize_MissingSignedAt(t *testing.T) {
	users := &fakeUsers{users: map[string]*models.User{"u1": {ID: "u1"}}}
	a := NewAuthorizer(newTokens(time.UnixMilli(0)), users, nil)
	// a token minted at the epoch carries signed_at == 0, which reads as absent
	_, err := a.Authorize(context.Background(), tokenAt(t, "u1", 0))
	assert.True(t, errors.Is(err, apperr.ErrUnauthenticated))
}

func TestAuthorize_WritesThroughCache(t *testing.T) {
	const now = int64(1_700_000_000_000)
	users := &fakeUsers{users: map[string]*models.User{"u1": {ID: "u1", Modified: now - 10_000}}}
	c := cache.NewMemory(time.Minute)
	a := NewAuthorizer(newTokens(time.UnixMilli(now)), users, c)
	token := tokenAt(t, "u1", now)

	_, err := a.Authorize(context.Background(), token)
	require.NoError(t, err)
	_, err = a.Authorize(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 1, users.calls, "second lookup should be served from cache")

	c.Set(context.Background(), &models.User{ID: "u1", Modified: now})
	_, err = a.Authorize(context.Background(), token)
	assert.True(t, errors.Is(err, apperr.ErrUnauthenticated), "cache update must invalidate older tokens")
}
