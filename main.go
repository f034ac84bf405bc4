package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/proclinks/server/api/rest"
	"github.com/proclinks/server/api/sse"
	apows "github.com/proclinks/server/api/ws"
	"github.com/proclinks/server/audit"
	"github.com/proclinks/server/billing"
	"github.com/proclinks/server/cache"
	"github.com/proclinks/server/config"
	dbadapter "github.com/proclinks/server/db"
	"github.com/proclinks/server/friendship"
	"github.com/proclinks/server/message"
	mw "github.com/proclinks/server/middleware"
	"github.com/proclinks/server/model"
	"github.com/proclinks/server/realtime"
	"github.com/proclinks/server/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Realtime ----
	presence := realtime.NewPresence(logger)
	defer presence.CloseAll()
	notifier := realtime.NewNotifier(presence, pubsub, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Services ----
	friendSvc := friendship.NewService(db, notifier, logger)
	msgSvc := message.NewService(db, friendSvc, notifier, cfg.Social.MessagePageSize, logger)
	billSvc := billing.NewService(db, cfg.Billing, cfg.Server.FrontendURL, notifier, logger)

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	chatH := apows.NewChatHandlers(msgSvc, logger)
	chatH.RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// Avatar uploads.
	r.Static("/uploads", cfg.Storage.UploadDir)

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	userH := apirest.NewUserHandler(db, presence, cfg.Storage, logger)
	linkH := apirest.NewLinkHandler(db)
	relH := apirest.NewRelationshipHandler(db, friendSvc, auditSvc, cfg.Social.FriendPageSize)
	msgH := apirest.NewMessageHandler(msgSvc)
	billH := apirest.NewBillingHandler(db, billSvc, logger)
	rankH := apirest.NewRankingHandler(db, c, cfg.Social.RankingSize, logger)
	adminH := apirest.NewAdminHandler(db, presence, notifier, sched, auditSvc, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/register", authH.Register)
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		// Public profile surface: anyone can view a public page and like
		// its links.
		api.GET("/users/:username", userH.PublicProfile)
		api.GET("/users/:username/links", linkH.PublicLinks)
		api.POST("/links/:id/like", linkH.Like)
		api.GET("/ranking/creators", rankH.TopCreators)
		api.GET("/billing/plans", billH.Plans)

		// Stripe calls this; signature-verified, never session-authed.
		api.POST("/billing/webhook", billH.Webhook)

		authed := api.Group("", mw.Auth(cfg.Security, c))
		{
			authed.GET("/users", userH.ListUsers)
			authed.GET("/me", userH.Me)
			authed.PUT("/me", userH.UpdateProfile)
			authed.PUT("/me/appearance", userH.UpdateAppearance)
			authed.POST("/me/avatar", userH.UploadAvatar)
			authed.GET("/me/header", userH.HeaderInfo)
			authed.POST("/users/:username/follow", userH.Follow)
			authed.DELETE("/users/:username/follow", userH.Unfollow)
			authed.GET("/users/:username/followers", userH.Followers)
			authed.GET("/users/:username/following", userH.Following)

			authed.GET("/links", linkH.List)
			authed.POST("/links", linkH.Create)
			authed.PUT("/links/reorder", linkH.Reorder)
			authed.PUT("/links/:id", linkH.Update)
			authed.DELETE("/links/:id", linkH.Delete)

			authed.POST("/relationships", relH.SendRequest)
			authed.POST("/relationships/:id/accept", relH.Accept)
			authed.POST("/relationships/:id/reject", relH.Reject)
			authed.POST("/relationships/:id/unfriend", relH.Unfriend)
			authed.GET("/relationships/status/:userId", relH.Status)
			authed.GET("/relationships/friends", relH.ListFriends)
			authed.GET("/relationships/pending", relH.ListPending)

			authed.GET("/messages", msgH.Conversations)
			authed.GET("/messages/unread", msgH.UnreadCount)
			authed.POST("/messages", msgH.Send)
			authed.GET("/messages/:userId", msgH.History)
			authed.POST("/messages/:userId/read", msgH.MarkRead)

			authed.POST("/billing/checkout", billH.Checkout)
			authed.POST("/billing/cancel", billH.Cancel)
			authed.GET("/billing/subscription", billH.Subscription)
		}

		adminG := api.Group("/admin")
		if len(cfg.Security.AdminWhitelist) > 0 {
			adminG.Use(mw.IPWhitelist(cfg.Security.AdminWhitelist))
		}
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/online", adminH.ListOnline)
		adminG.POST("/users/:id/ban", adminH.BanUser)
		adminG.POST("/announce", adminH.Announce)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.POST("/ranking/refresh", rankH.RefreshHTTP)
	}

	// ---- Periodic Scheduler Tasks ----
	sched.AddTicker("plan_expiry_sweep", cfg.Social.PlanSweepEvery, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		ids, err := billSvc.ExpireOverdue(ctx)
		if err != nil {
			logger.Error("plan expiry sweep failed", zap.Error(err))
			return
		}
		if len(ids) > 0 {
			logger.Info("plans expired", zap.Int("count", len(ids)))
		}
	})
	sched.AddTicker("ranking_refresh", cfg.Social.RankingRefresh, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := rankH.Refresh(ctx); err != nil {
			logger.Error("ranking refresh failed", zap.Error(err))
		}
	})

	// ---- WebSocket ----
	wsH := apows.NewHandler(db, c, cfg.Security, presence, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	// Shut down cleanly on SIGINT/SIGTERM so deferred cleanup (presence,
	// scheduler, audit drain) runs.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutdown signal received")
		presence.CloseAll()
		sched.Stop()
		auditSvc.Stop(context.Background())
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
