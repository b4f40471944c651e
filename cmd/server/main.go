package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/npezzotti/chat-gateway/internal/api"
	"github.com/npezzotti/chat-gateway/internal/cache"
	"github.com/npezzotti/chat-gateway/internal/config"
	"github.com/npezzotti/chat-gateway/internal/database"
	"github.com/npezzotti/chat-gateway/internal/server"
	"github.com/npezzotti/chat-gateway/internal/stats"
	"github.com/npezzotti/chat-gateway/internal/storage"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

var (
	addr           string
	dsn            string
	uploadDir      string
	redisURL       string
	cacheTTL       time.Duration
	maxInline      int64
	maxUpload      int64
	maxMessage     int64
	runMigrations  bool
	allowedOrigins stringSliceFlag
)

func main() {
	logger := log.New(os.Stderr, "[chat-gateway] ", log.LstdFlags)

	// a missing .env is fine, flags and the environment still apply
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Println("load .env:", err)
	}

	flag.StringVar(&addr, "addr", envOr("CHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("CHAT_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&uploadDir, "upload-dir", envOr("CHAT_UPLOAD_DIR", "uploads"), "directory attachments are stored in")
	flag.StringVar(&redisURL, "redis-url", envOr("CHAT_REDIS_URL", ""), "redis URL for the directory cache, disabled when empty")
	flag.DurationVar(&cacheTTL, "cache-ttl", envDuration("CHAT_CACHE_TTL", config.DefaultCacheTTL), "directory cache TTL")
	flag.Int64Var(&maxInline, "max-inline-size", envInt64("CHAT_MAX_INLINE_SIZE", config.DefaultMaxInlineSize), "max decoded size of an inline file")
	flag.Int64Var(&maxUpload, "max-upload-size", envInt64("CHAT_MAX_UPLOAD_SIZE", config.DefaultMaxUploadSize), "max body size of an upload request")
	flag.Int64Var(&maxMessage, "max-message-size", envInt64("CHAT_MAX_MESSAGE_SIZE", config.DefaultMaxMessageSize), "max websocket message size")
	flag.BoolVar(&runMigrations, "migrate", false, "apply database migrations on startup")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := envOr("CHAT_ALLOWED_ORIGINS", ""); v != "" {
			allowedOrigins.Set(v)
		}
	}

	cfg, err := config.NewConfig(addr, dsn, uploadDir, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	if err := cfg.SetLimits(maxInline, maxUpload, maxMessage); err != nil {
		logger.Fatal("config:", err)
	}
	if err := cfg.SetCache(redisURL, cacheTTL); err != nil {
		logger.Fatal("config:", err)
	}

	if runMigrations {
		logger.Println("applying migrations...")
		if err := database.Migrate(cfg.DatabaseDSN); err != nil {
			logger.Fatal("migrate:", err)
		}
	}

	repo, err := database.NewPgGoChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	blobs, err := storage.NewDiskStore(cfg.UploadDir)
	if err != nil {
		logger.Fatal("blob store:", err)
	}

	var dir database.Directory = repo
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(context.Background(), cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis:", err)
		}
		defer rc.Close()

		dir = cache.NewCachedDirectory(repo, rc, cfg.CacheTTL, logger)
		logger.Printf("directory cache enabled, ttl %s\n", cfg.CacheTTL)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	metrics := stats.NewHTTPMetrics(mux)

	chatServer, err := server.NewChatServer(logger, dir, repo, blobs, statsUpdater, server.OptionsFromConfig(cfg))
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewGoChatApp(mux, logger, chatServer, repo, blobs, metrics, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
