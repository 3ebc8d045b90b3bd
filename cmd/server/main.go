package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mikeboe/deep-research/pkg/archive"
	"github.com/mikeboe/deep-research/pkg/completion"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/server"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}
	cfg := config.Load()

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx := context.Background()

	llm := completion.NewLLMService(cfg.ProviderKeys, cfg.BaseURLs(), logger)
	completer := completion.NewBreaker(llm, completion.BreakerConfig{
		MaxFailures: uint32(cfg.BreakerMaxFailures),
		Timeout:     cfg.BreakerTimeout,
	}, logger)

	// History and search are optional; both need postgres.
	var store server.RunStore
	var arch server.Archive
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.InitSchema(ctx); err != nil {
			logger.Error("Failed to initialize schema", "error", err)
			os.Exit(1)
		}
		store = server.NewService(db)

		a, err := newArchive(ctx, cfg, db, logger)
		if err != nil {
			logger.Warn("Analysis archive disabled", "error", err)
		} else if a != nil {
			arch = a
		}
	} else {
		logger.Info("DATABASE_URL not set, run history disabled")
	}

	handler := server.NewHandler(completer, store, arch, logger)

	r := gin.New()
	r.Use(gin.Logger(), server.Recovery(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id"},
		ExposeHeaders:    []string{"Content-Length", "Mcp-Session-Id"},
		AllowCredentials: !containsWildcard(cfg.AllowOrigins),
	}))

	handler.RegisterRoutes(r, server.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst))

	logger.Info("Server starting", "port", cfg.Port, "providers", strings.Join(llm.Providers(), ","))
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}

func newArchive(ctx context.Context, cfg *config.Config, db *database.PostgresDB, logger *slog.Logger) (*archive.Archive, error) {
	if cfg.GoogleApiKey == "" {
		logger.Info("No Google API key, analysis archive disabled")
		return nil, nil
	}

	if err := db.EnsureVectorExtension(ctx); err != nil {
		return nil, err
	}
	if err := db.CreateArchiveTable(ctx, cfg.CollectionName, embeddings.DefaultDimension); err != nil {
		return nil, err
	}

	store, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey)
	if err != nil {
		return nil, err
	}
	return archive.New(store, embedder, cfg.ChunkSize, cfg.ChunkOverlap, logger), nil
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
