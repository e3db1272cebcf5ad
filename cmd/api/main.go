package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"supportchat/api/db/migrations"
	"supportchat/api/internal/app"
	"supportchat/api/internal/config"
	"supportchat/api/internal/export"
	"supportchat/api/internal/logging"
	"supportchat/api/internal/search"
	"supportchat/api/internal/session"
	"supportchat/api/internal/storage"
	"supportchat/api/internal/store"
	"supportchat/api/internal/upload"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg)
	ctx := context.Background()

	var (
		dataStore app.DataStore
		fallback  search.Searcher
		loader    search.RecordLoader
	)
	switch cfg.StoreBackend {
	case "memory":
		log.Warn().Msg("using in-memory store; data is lost on restart")
		mem := store.NewMemoryStore()
		dataStore = mem
		fallback = search.NewMemory(mem)
	default:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, migrations.FS); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
		dataStore = store.NewPostgresStore(db)
		pgfts := search.NewPgFTS(db)
		fallback, loader = pgfts, pgfts
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, fallback, log)

	deps := app.Dependencies{
		Store:    dataStore,
		Search:   searchService,
		Exporter: export.NewService(dataStore),
		Log:      log,
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		log.Info().Msg("using redis for refresh sessions")
		deps.Sessions = redisStore
	}

	if cfg.ObjectStorageConfigured() {
		presigner, err := storage.NewMinioPresigner(cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("object storage client")
		}
		deps.Uploads = upload.NewBroker(presigner, cfg.UploadGrantTTL, log)
		deps.ObjectStore = presigner
	} else {
		log.Warn().Msg("object storage not configured; upload grants disabled")
	}

	service, err := app.New(cfg, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("service")
	}
	if err := service.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}
	if loader != nil {
		go searchService.Reindex(ctx, loader)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreBackend).Msg("support chat API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
