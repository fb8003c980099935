package config

import (
	"errors"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "dev-secret-change-me"

const (
	defaultTokenTTLHours       = 120
	defaultUserCacheTTLMinutes = 30
)

type Config struct {
	Port                string
	DatabaseDSN         string
	JWTSecret           string
	Env                 string
	TokenTTLHours       int
	CookieSecure        bool
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	UserCacheTTLMinutes int
	NATSURL             string
}

// Load 从环境变量读取配置，非法或非正的数值回退为默认值。
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=groupchat port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("TOKEN_TTL_HOURS", defaultTokenTTLHours)
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("USER_CACHE_TTL_MINUTES", defaultUserCacheTTLMinutes)
	v.SetDefault("NATS_URL", "")

	redisDB := v.GetInt("REDIS_DB")
	if redisDB < 0 {
		redisDB = 0
	}
	return Config{
		Port:                v.GetString("APP_PORT"),
		DatabaseDSN:         v.GetString("DATABASE_DSN"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		Env:                 v.GetString("APP_ENV"),
		TokenTTLHours:       positive(v.GetInt("TOKEN_TTL_HOURS"), defaultTokenTTLHours),
		CookieSecure:        v.GetBool("COOKIE_SECURE"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		RedisPassword:       v.GetString("REDIS_PASSWORD"),
		RedisDB:             redisDB,
		UserCacheTTLMinutes: positive(v.GetInt("USER_CACHE_TTL_MINUTES"), defaultUserCacheTTLMinutes),
		NATSURL:             v.GetString("NATS_URL"),
	}
}

func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Validate 检查启动必需项；非 dev 环境禁止使用默认密钥。多进程部署（NATS_URL）
// 必须共享用户缓存，否则资料变更后其他进程仍会接受旧 token。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: JWT_SECRET must be changed outside dev")
	}
	if cfg.NATSURL != "" && cfg.RedisAddr == "" {
		return errors.New("config: NATS_URL requires REDIS_ADDR so every process sees session invalidations")
	}
	return nil
}
