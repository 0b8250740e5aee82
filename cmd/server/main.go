package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ayush/station-chat/backend/internal/api"
	"github.com/ayush/station-chat/backend/internal/auth"
	"github.com/ayush/station-chat/backend/internal/config"
	"github.com/ayush/station-chat/backend/internal/gate"
	"github.com/ayush/station-chat/backend/internal/hashing"
	"github.com/ayush/station-chat/backend/internal/logging"
	"github.com/ayush/station-chat/backend/internal/messages"
	"github.com/ayush/station-chat/backend/internal/store"
	"github.com/ayush/station-chat/backend/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("config: %v", err)
	}
	logging.SetLevel(cfg.LogLevel)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// ── Redis ────────────────────────────────────────────────
	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logging.Fatalf("redis connect: %v", err)
		}
		// The redis backend closes the client itself.
		if cfg.Backend != config.BackendRedis {
			defer rdb.Close()
		}
	}

	// ── Persistence ──────────────────────────────────────────
	backend, cleanup := openBackend(ctx, cfg, rdb)
	defer cleanup()
	defer backend.Close()
	logging.Infof("persistence backend: %s", cfg.Backend)

	// ── Sessions ─────────────────────────────────────────────
	var sessions auth.SessionStore
	switch cfg.SessionStore {
	case config.SessionsRedis:
		sessions = auth.NewRedisSessionStore(rdb, cfg.SessionTTL)
	default:
		mem := auth.NewMemorySessionStore(cfg.SessionTTL)
		go mem.RunJanitor(ctx, time.Minute)
		sessions = mem
	}

	// ── Services ─────────────────────────────────────────────
	dir, err := users.NewDirectory(backend, hashing.NewBcrypt(cfg.BcryptCost))
	if err != nil {
		logging.Fatalf("user directory: %v", err)
	}
	g := gate.New(sessions, dir, messages.NewStore(backend))

	// ── Server ───────────────────────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(api.NewHandler(g, cfg.SessionTTL), cfg.CORSOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logging.Infof("Backend listening on %s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Infof("Shutting down...")
	stop()
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logging.Errorf("shutdown: %v", err)
	}
}

// openBackend connects the configured persistence backend. The returned
// cleanup releases connections the backend does not own.
func openBackend(ctx context.Context, cfg *config.Config, rdb *redis.Client) (store.Backend, func()) {
	switch cfg.Backend {
	case config.BackendRedis:
		return store.NewRedisBackend(rdb), func() {}

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logging.Fatalf("postgres connect: %v", err)
		}
		b := store.NewPostgresBackend(pool)
		if err := b.Migrate(ctx); err != nil {
			logging.Fatalf("postgres migrate: %v", err)
		}
		return b, func() {}

	case config.BackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			logging.Fatalf("mongo connect: %v", err)
		}
		b := store.NewMongoBackend(client.Database(cfg.MongoDB))
		if err := b.EnsureIndexes(ctx); err != nil {
			logging.Fatalf("mongo indexes: %v", err)
		}
		return b, func() { client.Disconnect(context.Background()) }

	default:
		if cfg.FileBlob == config.BlobMinio {
			client, err := store.NewMinioClient(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey,
				cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
			if err != nil {
				logging.Fatalf("minio connect: %v", err)
			}
			return store.NewFileBackend(
				store.NewMinioBlob(client, cfg.MinioBucket, store.UsersBlobName),
				store.NewMinioBlob(client, cfg.MinioBucket, store.MessagesBlobName),
			), func() {}
		}
		b, err := store.NewLocalFileBackend(cfg.DataDir)
		if err != nil {
			logging.Fatalf("file backend: %v", err)
		}
		return b, func() {}
	}
}
