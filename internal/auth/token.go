package auth

import (
	"errors"
	"time"

	"groupchat/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL 是 token 的绝对有效期，签发时即固定，不滑动续期。
const DefaultTokenTTL = 5 * 24 * time.Hour

const issuer = "groupchat"

// Claims 携带用户 id 与签发时刻（Unix 毫秒）。SignedAt 与 User.Modified 比较决定会话是否仍有效。
type Claims struct {
	UserID   string `json:"user_id"`
	SignedAt int64  `json:"signed_at"`
	jwt.RegisteredClaims
}

// TokenService 签发与校验无状态会话 token，不访问存储。
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *TokenService) Issue(userID string) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:   userID,
		SignedAt: now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify 校验签名与过期时间。缺失、格式错误、签名错误或已过期都返回 Unauthenticated。
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, apperr.Unauthenticated("missing token")
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Unauthenticated("token expired")
		}
		return nil, apperr.Unauthenticated("invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, apperr.Unauthenticated("invalid token")
	}
	return claims, nil
}
