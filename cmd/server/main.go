package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tandem/internal/cache"
	"tandem/internal/config"
	"tandem/internal/provider"
	"tandem/internal/repository"
	"tandem/internal/service"
	"tandem/internal/state"
	"tandem/internal/transport/rest"
	"tandem/internal/transport/ws"
)

func main() {
	log.Println("started")
	ctx := context.Background()

	cfg := config.Load()
	log.Printf("Config:")
	log.Printf("  Session duration: %s", cfg.SessionDuration)
	log.Printf("  Match interval:   %s", cfg.MatchInterval)
	log.Printf("  Timezone:         %s", cfg.Timezone)
	if cfg.DailyAPIKey != "" {
		log.Println("  Daily API key:    configured ✓")
	} else {
		log.Println("  Daily API key:    NOT SET (room provisioning will fail)")
	}

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer mongoClient.Disconnect(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		log.Fatal("Failed to ping MongoDB:", err)
	}
	log.Println("Connected to MongoDB")

	db := mongoClient.Database(cfg.MongoDB)

	// Redis connection
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatal("Failed to ping Redis:", err)
	}
	log.Println("Connected to Redis")

	// External room provider
	daily := provider.NewDailyClient(cfg.DailyAPIKey, cfg.DailyAPIBase)

	// Initialize repositories
	queueRepo := repository.NewQueueRepo(db)
	sessionRepo := repository.NewSessionRepo(db)
	scheduleRepo := repository.NewScheduleRepo(db)
	txRunner := repository.NewTxRunner(mongoClient)

	// Usage guard and in-memory index
	usage := cache.NewUsageGuard(rdb, cfg.MaxRoomsPerMonth, cfg.MaxMinutesPerMonth)
	index := state.NewSessionIndex()

	// WebSocket hub
	wsHub := ws.NewHub()
	log.Println("WebSocket hub started")

	// Initialize services
	authSvc := service.NewAuthService()
	scheduleSvc := service.NewScheduleService(scheduleRepo, cfg.SessionDuration, cfg.Timezone)
	if err := scheduleSvc.Load(ctx); err != nil {
		log.Fatal("Failed to load schedule:", err)
	}
	sessionSvc := service.NewSessionService(txRunner, queueRepo, sessionRepo, daily, usage, index,
		cfg.SessionDuration, cfg.RoomExpiryGrace)
	matchSvc := service.NewMatchService(queueRepo, sessionSvc, scheduleSvc, index, cfg.MatchInterval)
	scheduler := service.NewScheduler(scheduleSvc, queueRepo, matchSvc, cfg.MatchInterval, cfg.CleanupLead)
	reconciler := service.NewReconcileService(sessionRepo, queueRepo, daily, index, usage,
		cfg.SweepInterval, cfg.OrphanInterval, cfg.GCInterval,
		time.Duration(cfg.RetentionDays)*24*time.Hour)

	// Inject cross-service hooks (wsHub implements service.Notifier)
	sessionSvc.SetNotifier(wsHub)
	sessionSvc.SetRequeuer(matchSvc)
	scheduleSvc.SetOnChange(scheduler.Kick)

	// Background loops
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go scheduler.Run(runCtx)
	go reconciler.Run(runCtx)

	// Create router with container
	container := &rest.Container{
		AuthService:     authSvc,
		MatchService:    matchSvc,
		SessionService:  sessionSvc,
		ScheduleService: scheduleSvc,
		UsageGuard:      usage,
		WSHub:           wsHub,
	}
	router := rest.NewRouter(container)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.Port)
		log.Println("Endpoints:")
		log.Println("  POST /v1/auth/login")
		log.Println("  POST /v1/auth/token")
		log.Println("  POST /v1/queue/join")
		log.Println("  POST /v1/queue/leave")
		log.Println("  POST /v1/sessions/leave")
		log.Println("  GET  /v1/status")
		log.Println("  POST /v1/admin/override")
		log.Println("  GET/POST /v1/admin/periods")
		log.Println("  WS   /v1/ws")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("ListenAndServe:", err)
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
