package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"groupchat/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const userKeyPrefix = "groupchat:user:"

// cachedUser mirrors models.User including the fields hidden from API output.
type cachedUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Nickname     string    `json:"nickname"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Avatar       string    `json:"avatar"`
	Banner       string    `json:"banner"`
	About        string    `json:"about"`
	Modified     int64     `json:"modified"`
	CreatedAt    time.Time `json:"created_at"`
}

// Redis shares the user cache between processes. Failures degrade to a miss.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Dial 创建 Redis 客户端并 ping 一次确认可用。
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func userKey(id string) string {
	return userKeyPrefix + id
}

func (r *Redis) Get(ctx context.Context, id string) (*models.User, bool) {
	data, err := r.client.Get(ctx, userKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("user_id", id).Msg("user cache get")
		}
		return nil, false
	}
	var cu cachedUser
	if err := json.Unmarshal(data, &cu); err != nil {
		log.Warn().Err(err).Str("user_id", id).Msg("user cache decode")
		return nil, false
	}
	return &models.User{
		ID:           cu.ID,
		Username:     cu.Username,
		Nickname:     cu.Nickname,
		Email:        cu.Email,
		PasswordHash: cu.PasswordHash,
		Avatar:       cu.Avatar,
		Banner:       cu.Banner,
		About:        cu.About,
		Modified:     cu.Modified,
		CreatedAt:    cu.CreatedAt,
	}, true
}

func (r *Redis) Set(ctx context.Context, u *models.User) {
	if u == nil || u.ID == "" {
		return
	}
	data, err := json.Marshal(cachedUser{
		ID:           u.ID,
		Username:     u.Username,
		Nickname:     u.Nickname,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Avatar:       u.Avatar,
		Banner:       u.Banner,
		About:        u.About,
		Modified:     u.Modified,
		CreatedAt:    u.CreatedAt,
	})
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, userKey(u.ID), data, r.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", u.ID).Msg("user cache set")
	}
}

func (r *Redis) Delete(ctx context.Context, id string) {
	if err := r.client.Del(ctx, userKey(id)).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", id).Msg("user cache delete")
	}
}
