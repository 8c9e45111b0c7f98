package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ridgeline/marketchat/backend/internal/chat"
	"github.com/ridgeline/marketchat/backend/internal/config"
	"github.com/ridgeline/marketchat/backend/internal/conversations"
	"github.com/ridgeline/marketchat/backend/internal/identity"
	"github.com/ridgeline/marketchat/backend/internal/messages"
	"github.com/ridgeline/marketchat/backend/internal/notify"
	"github.com/ridgeline/marketchat/backend/internal/presence"
	"github.com/ridgeline/marketchat/backend/internal/storage/sqlite"
)

func main() {
	migrate := flag.Bool("migrate", false, "run migrations and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file, using environment")
	}
	cfg := config.MustLoad()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	conn, err := sqlite.New(cfg.SQLiteDSN)
	if err != nil {
		log.Fatalf("error opening sqlite: %v", err)
	}
	db := conn.Db
	defer db.Close()

	if *migrate {
		if err := conn.Migrate(); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		slog.Info("migration completed")
		return
	}

	// Presence: shared Redis registry when configured, in-process otherwise.
	ttl := time.Duration(cfg.PresenceTTLSec) * time.Second
	var registry presence.Registry
	if cfg.RedisAddr != "" {
		r, err := presence.Dial(cfg.RedisAddr, ttl)
		if err != nil {
			log.Fatalf("error connecting presence registry: %v", err)
		}
		registry = r
	} else {
		registry = presence.NewMemory(ttl)
		slog.Warn("REDIS_ADDR not set, presence registry is in-process only")
	}

	var notifier notify.Notifier
	if cfg.SendGridAPIKey != "" && cfg.SendGridFrom != "" {
		notifier = notify.NewEmail(db, cfg.SendGridAPIKey, cfg.SendGridFrom)
	}

	instance, _ := os.Hostname()
	if instance == "" {
		instance = uuid.NewString()
	}

	hub := chat.NewHub(db, registry, notifier, instance)
	pipeline := chat.NewPipeline(db, hub, cfg.MaxMessageChars)

	r := gin.Default()
	root := r.Group("/")
	chat.RegisterWS(root, hub, pipeline, cfg.JWTSecret)

	api := r.Group("/api", identity.JWTMiddleware(cfg.JWTSecret))
	conversations.Register(api, db, registry)
	messages.Register(api, db, pipeline)

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		slog.Info("marketchat listening", "addr", cfg.Addr, "instance", instance)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	slog.Info("bye")
}
