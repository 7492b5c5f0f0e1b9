package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ktv-lounge/internal/chat"
	"ktv-lounge/internal/config"
	"ktv-lounge/internal/db"
	"ktv-lounge/internal/hub"
	myMiddleware "ktv-lounge/internal/middleware"
	"ktv-lounge/internal/upload"
	"ktv-lounge/internal/user"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, using environment variables")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	// Platform layer: Postgres and Redis.
	database, err := db.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.AutoMigrate(); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	log.Info("database schema initialized")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		// The directory cache degrades to straight DB reads without Redis.
		log.Warn("redis unavailable, directory cache disabled", zap.Error(err))
		redisClient = nil
	}

	uploads, err := upload.NewStore(cfg.UploadDir, log)
	if err != nil {
		log.Fatal("upload store init failed", zap.Error(err))
	}

	// User feature.
	userRepo := user.NewRepository(database.Conn)
	dirCache := user.NewDirectoryCache(redisClient, userRepo, log)
	userService := user.NewService(userRepo, dirCache, cfg.JWTSecret)
	userHandler := user.NewHandler(userService, uploads, cfg.InviteCode)

	// Realtime core.
	chatRepo := chat.NewRepository(database.Conn)
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	coreHub := hub.NewHub(rootCtx, chatRepo, userService, rng, log)
	go coreHub.Run()
	wsHandler := hub.NewHandler(coreHub, log)

	// Retention sweeper, daily, outside the event path.
	sweeper := chat.NewSweeper(chatRepo, uploads.Dir(), log)
	go sweeper.Run(rootCtx)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Post("/api/auth/logout", userHandler.Logout)
	r.Post("/api/auth/verify-code", userHandler.VerifyInviteCode)
	r.Get("/api/auth/me", userHandler.Me)
	r.Get("/health", healthHandler(database))
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/uploads/*", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(uploads.Dir()))))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "public/index.html")
	})

	// Protected routes (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/ws", wsHandler.ServeWs)
		r.Post("/api/user/profile", userHandler.UpdateProfile)
		r.Post("/api/chat/upload", uploads.HandleChatUpload)
	})

	server := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		log.Info("server starting", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	coreHub.Stop()
}

func healthHandler(database *db.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := database.Conn.PingContext(r.Context()); err != nil {
			http.Error(w, `{"status":"error","database":"disconnected"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","database":"connected"}`))
	}
}
