package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Backend names accepted in BACKEND.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Blob locations accepted in FILE_BLOB for the file backend.
const (
	BlobLocal = "local"
	BlobMinio = "minio"
)

// Session stores accepted in SESSION_STORE.
const (
	SessionsMemory = "memory"
	SessionsRedis  = "redis"
)

// Config holds all service configuration loaded from environment variables.
type Config struct {
	Port     string
	Backend  string
	DataDir  string
	FileBlob string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN string
	MongoURI    string
	MongoDB     string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	SessionStore string
	SessionTTL   time.Duration
	BcryptCost   int
	CORSOrigins  []string
	LogLevel     string
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getenv("PORT", "8080"),
		Backend:        strings.ToLower(getenv("BACKEND", BackendFile)),
		DataDir:        getenv("DATA_DIR", "./data"),
		FileBlob:       strings.ToLower(getenv("FILE_BLOB", BlobLocal)),
		RedisAddr:      getenv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		PostgresDSN:    getenv("POSTGRES_DSN", ""),
		MongoURI:       getenv("MONGO_URI", ""),
		MongoDB:        getenv("MONGO_DB", "station_chat"),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", "minio:9000"),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "station-chat"),
		MinioUseSSL:    getenv("MINIO_USE_SSL", "false") == "true",
		SessionStore:   strings.ToLower(getenv("SESSION_STORE", SessionsMemory)),
		CORSOrigins:    parseCSV(getenv("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		LogLevel:       getenv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.RedisDB, err = strconv.Atoi(getenv("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	if cfg.SessionTTL, err = time.ParseDuration(getenv("SESSION_TTL", "24h")); err != nil {
		return nil, fmt.Errorf("SESSION_TTL: %w", err)
	}
	if cfg.BcryptCost, err = strconv.Atoi(getenv("BCRYPT_COST", strconv.Itoa(bcrypt.DefaultCost))); err != nil {
		return nil, fmt.Errorf("BCRYPT_COST: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFile:
		switch c.FileBlob {
		case BlobLocal:
		case BlobMinio:
			if c.MinioAccessKey == "" || c.MinioSecretKey == "" {
				return errors.New("FILE_BLOB=minio requires MINIO_ACCESS_KEY and MINIO_SECRET_KEY")
			}
		default:
			return fmt.Errorf("unknown FILE_BLOB %q", c.FileBlob)
		}
	case BackendRedis:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("BACKEND=postgres requires POSTGRES_DSN")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("BACKEND=mongo requires MONGO_URI")
		}
	default:
		return fmt.Errorf("unknown BACKEND %q", c.Backend)
	}

	switch c.SessionStore {
	case SessionsMemory, SessionsRedis:
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore)
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}

// NeedsRedis reports whether any component is configured to use Redis.
func (c *Config) NeedsRedis() bool {
	return c.Backend == BackendRedis || c.SessionStore == SessionsRedis
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseCSV(input string) []string {
	var out []string
	for _, part := range strings.Split(input, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
