package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mossy-p/onair/config"
	"github.com/mossy-p/onair/internal/chat"
	"github.com/mossy-p/onair/internal/handlers"
	"github.com/mossy-p/onair/internal/maintenance"
	"github.com/mossy-p/onair/internal/middleware"
	"github.com/mossy-p/onair/internal/redis"
	"github.com/mossy-p/onair/internal/registry"
	"github.com/mossy-p/onair/internal/session"
	"github.com/mossy-p/onair/internal/stream"
)

func main() {
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	// The redis mirror is best-effort; the in-memory stores are
	// authoritative, so a missing redis only costs observability.
	var presence session.Presence
	if rdb, err := redis.Connect(cfg.Redis, log); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, presence mirror disabled")
	} else {
		presence = rdb
		defer rdb.Close()
		log.Info().Msg("redis connection established")
	}

	reg := registry.New()
	hub := stream.NewHub(cfg.StreamBufferFrames, log)
	sessions := session.NewStore(reg, presence, session.Config{CallTimeout: cfg.CallTimeout}, log)
	rooms := chat.NewEngine(reg, sessions, chat.Config{
		HistoryCap:              cfg.ChatHistoryCap,
		JoinReplay:              cfg.ChatJoinReplay,
		TypingTTL:               cfg.TypingTTL,
		TypingSweepTTL:          cfg.TypingSweepTTL,
		RoomIdleTTL:             cfg.RoomIdleTTL,
		DefaultMaxMessageLength: cfg.MaxMessageLength,
		DefaultSlowModeSeconds:  cfg.SlowModeSeconds,
	}, log)
	sweeper := maintenance.NewSweeper(cfg.SweepInterval, sessions, rooms, reg, log)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ws := handlers.NewWSHandler(reg, sessions, rooms, hub, log)
	router.GET("/ws", ws.HandleConnection)

	api := handlers.NewAPIHandler(sessions, hub, log)
	chatAPI := handlers.NewChatAPIHandler(rooms, log)
	auth := middleware.JWTAuth(cfg.JWTSecret)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		apiGroup.GET("/broadcast/active", api.ActiveBroadcasts)
		apiGroup.GET("/broadcast/:id/stats", api.BroadcastStats)
		apiGroup.POST("/broadcast/:id/start", auth, api.StartBroadcast)
		apiGroup.POST("/broadcast/:id/end", auth, api.EndBroadcast)

		apiGroup.GET("/chat/:broadcastId", chatAPI.RoomInfo)
		apiGroup.GET("/chat/:broadcastId/history", chatAPI.RoomHistory)
		apiGroup.PUT("/chat/:broadcastId/settings", auth, chatAPI.UpdateSettings)
		apiGroup.PUT("/chat/:broadcastId/messages/:messageId", auth, chatAPI.EditMessage)
		apiGroup.DELETE("/chat/:broadcastId/messages/:messageId", auth, chatAPI.DeleteMessage)
		apiGroup.PUT("/chat/:broadcastId/messages/:messageId/pin", auth, chatAPI.PinMessage)
	}

	streamHandler := handlers.NewStreamHandler(hub, log)
	streamGroup := router.Group("/stream")
	{
		streamGroup.GET("/broadcast/:broadcastId/stream.mp3", streamHandler.ServeAudio)
		streamGroup.GET("/broadcast/:broadcastId/info", streamHandler.StreamInfo)
		streamGroup.GET("/streams", streamHandler.ListStreams)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		log.Info().Str("port", cfg.Port).Msg("starting broadcast core")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
