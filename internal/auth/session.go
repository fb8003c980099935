package auth

import (
	"context"
	"errors"
	"fmt"

	"groupchat/internal/apperr"
	"groupchat/internal/metrics"
	"groupchat/internal/models"
)

// GraceMillis absorbs clock and precision skew between a mutation's
// timestamp and a token signed around the same moment.
const GraceMillis int64 = 1000

type UserLookup interface {
	FindUser(ctx context.Context, id string) (*models.User, error)
}

type UserCache interface {
	Get(ctx context.Context, id string) (*models.User, bool)
	Set(ctx context.Context, u *models.User)
}

// Authorizer 是会话失效策略的唯一实现，REST 中间件与 WebSocket 握手共用。
type Authorizer struct {
	tokens *TokenService
	users  UserLookup
	cache  UserCache
}

func NewAuthorizer(tokens *TokenService, users UserLookup, cache UserCache) *Authorizer {
	return &Authorizer{tokens: tokens, users: users, cache: cache}
}

// SessionValid 判断签发于 signedAt 的 token 相对 modified 水位是否仍有效，两者均为 Unix 毫秒。
func SessionValid(signedAt, modified int64) bool {
	return signedAt >= modified+GraceMillis
}

// Authorize verifies the token, loads its user and rejects any token signed
// before the user's last security-relevant change (plus the grace window).
func (a *Authorizer) Authorize(ctx context.Context, token string) (*models.User, error) {
	claims, err := a.tokens.Verify(token)
	if err != nil {
		metrics.AuthRejections.WithLabelValues("token").Inc()
		return nil, err
	}
	user, err := a.lookup(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			metrics.AuthRejections.WithLabelValues("user").Inc()
			return nil, apperr.Unauthenticated("user not found")
		}
		return nil, fmt.Errorf("authorize: load user: %w", err)
	}
	if claims.SignedAt == 0 {
		metrics.AuthRejections.WithLabelValues("token").Inc()
		return nil, apperr.Unauthenticated("token has no signing time")
	}
	if !SessionValid(claims.SignedAt, user.Modified) {
		metrics.AuthRejections.WithLabelValues("invalidated").Inc()
		return nil, apperr.Unauthenticated("session invalidated")
	}
	return user, nil
}

func (a *Authorizer) lookup(ctx context.Context, id string) (*models.User, error) {
	if a.cache != nil {
		if u, ok := a.cache.Get(ctx, id); ok {
			return u, nil
		}
	}
	u, err := a.users.FindUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.Set(ctx, u)
	}
	return u, nil
}
