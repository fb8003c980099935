package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupchat/internal/auth"
	"groupchat/internal/bus"
	"groupchat/internal/cache"
	"groupchat/internal/config"
	"groupchat/internal/db"
	applog "groupchat/internal/log"
	"groupchat/internal/membership"
	"groupchat/internal/models"
	"groupchat/internal/mw"
	"groupchat/internal/presence"
	"groupchat/internal/server"
	"groupchat/internal/service"
	"groupchat/internal/store"
	"groupchat/internal/ws"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type userCache interface {
	Get(ctx context.Context, id string) (*models.User, bool)
	Set(ctx context.Context, u *models.User)
	Delete(ctx context.Context, id string)
}

func main() {
	// main 负责加载配置、装配各组件并启动 HTTP/WebSocket 服务，收到信号后优雅停服。
	cfg := config.Load()
	applog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	cacheTTL := time.Duration(cfg.UserCacheTTLMinutes) * time.Minute
	var users userCache = cache.NewMemory(cacheTTL)
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := cache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect")
		}
		defer rdb.Close()
		users = cache.NewRedis(rdb, cacheTTL)
	}

	st := store.New(gdb)
	tokenTTL := time.Duration(cfg.TokenTTLHours) * time.Hour
	tokens := auth.NewTokenService(cfg.JWTSecret, tokenTTL)
	authorizer := auth.NewAuthorizer(tokens, st, users)
	registry := presence.NewRegistry()
	resolver := membership.NewResolver(st)
	gateway := ws.NewGateway(authorizer, resolver, registry, ws.NewHub())
	online := presence.NewOnlineQuery(st, registry)

	var (
		broadcaster service.Broadcaster   = gateway
		subs        service.Subscriptions = gateway
	)
	if cfg.NATSURL != "" {
		relay, err := bus.Dial(cfg.NATSURL, gateway)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("nats connect")
		}
		defer relay.Close()
		broadcaster, subs = relay, relay
	}

	handler := server.NewHandler(server.Services{
		Users:    service.NewUserService(gdb, tokens, users),
		Channels: service.NewChannelService(gdb, st, online, subs),
		Invites:  service.NewInviteService(gdb),
		DMs:      service.NewDMService(gdb, online),
		Messages: service.NewMessageService(gdb, broadcaster),
	}, int(tokenTTL/time.Second), cfg.CookieSecure)

	// 控制单个 IP+路由的速率。
	limiter := mw.NewLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	limiter.StartGC(30 * time.Second)

	r := server.SetupRouter(cfg, server.Deps{
		Authorizer: authorizer,
		Handler:    handler,
		WS:         gateway.ServeWS,
		Health:     db.Health{DB: gdb},
		Limiter:    limiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	limiter.Stop()
}
