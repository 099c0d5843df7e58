// The chat service: REST API and live event-stream gateway for homestay
// conversations between guests, hosts and support admins.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stayhub/chat/internal/config"
	"github.com/stayhub/chat/internal/handler"
	"github.com/stayhub/chat/internal/logger"
	"github.com/stayhub/chat/internal/middleware"
	"github.com/stayhub/chat/internal/push"
	"github.com/stayhub/chat/internal/repository"
	"github.com/stayhub/chat/internal/startup"
	"github.com/stayhub/chat/internal/storage"
	"github.com/stayhub/chat/internal/storage/memory"
	"github.com/stayhub/chat/internal/ws"
	"github.com/stayhub/chat/migrations"
)

func main() {
	logger.SetPrefix("chat")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory cache (no external deps)")
	flag.Parse()

	logger.Info("starting chat service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	var unread storage.UnreadCache
	if *dev {
		unread = memory.New()
	} else {
		unread = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second)
	}
	defer unread.Close()

	participantRepo := repository.NewParticipantRepository(pool)
	threadRepo := repository.NewThreadRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	subRepo := repository.NewSubscriptionRepository(pool)

	pushCfg := cfg.Push
	if pushCfg.VAPIDPublicKey == "" || pushCfg.VAPIDPrivateKey == "" {
		if keys, err := push.EnsureVAPIDKeys(""); err == nil {
			pushCfg.VAPIDPublicKey = keys.PublicKey
			pushCfg.VAPIDPrivateKey = keys.PrivateKey
		} else {
			logger.Errorf("vapid keys: %v (push disabled)", err)
		}
	}
	notifier := push.NewNotifier(subRepo, pushCfg.VAPIDPublicKey, pushCfg.VAPIDPrivateKey, pushCfg.Subscriber)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hub *ws.Hub
	if notifier != nil {
		hub = ws.NewHub(threadRepo, msgRepo, participantRepo, unread, cfg.MaxWSConnections, notifier)
	} else {
		hub = ws.NewHub(threadRepo, msgRepo, participantRepo, unread, cfg.MaxWSConnections, nil)
	}

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	threadH := handler.NewThreadHandler(threadRepo, msgRepo, participantRepo, unread, hub, cfg.MessagePageSize)
	pushH := handler.NewPushHandler(subRepo, pushCfg.VAPIDPublicKey)
	wsH := handler.NewWSHandler(hub, participantRepo, cfg.CORSAllowedOrigins)

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		if !*dev {
			logger.Errorf("JWT_SECRET is not set; refusing to serve unauthenticated")
			os.Exit(1)
		}
		jwtSecret = "dev-secret"
		logger.Info("using dev JWT secret")
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket upgrades: a wrapped ResponseWriter loses
	// http.Hijacker and the upgrade fails with 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/push/vapid-public-key", pushH.VAPIDPublicKey)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(jwtSecret))
		r.Get("/threads/my-threads", threadH.MyThreads)
		r.Post("/threads/find-or-create", threadH.FindOrCreate)
		r.Get("/threads/unread-count", threadH.UnreadCount)
		r.Get("/threads/{id}", threadH.GetThread)
		r.Get("/threads/{id}/messages", threadH.Messages)
		r.Post("/threads/{id}/messages", threadH.SendMessage)
		r.Put("/threads/{id}/read", threadH.MarkRead)
		r.Post("/push/subscribe", pushH.Subscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "stayhub"
		password = "stayhub_secret"
		database = "stayhub_chat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
