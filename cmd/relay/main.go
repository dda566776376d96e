package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/joho/godotenv"

	"github.com/example/resq-relay/internal/config"
	"github.com/example/resq-relay/internal/geo"
	"github.com/example/resq-relay/internal/httpapi"
	"github.com/example/resq-relay/internal/ingest"
	"github.com/example/resq-relay/internal/logging"
	"github.com/example/resq-relay/internal/relay"
	"github.com/example/resq-relay/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadRelayConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var geoIndex geo.Index
	if cfg.RedisAddr != "" {
		geoIndex = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("using redis geo index", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	} else {
		geoIndex = geo.NewMemoryIndex()
	}

	var events storage.EventStore
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN, logger)
		}
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			events = ps
			defer ps.Close()
			logger.Info("using postgres event store")
		} else {
			logger.Error("postgres unavailable, falling back to memory store", "error", err)
		}
	}
	if events == nil {
		events = storage.NewMemoryStore()
	}

	var audit relay.AuditPublisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewAuditProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		audit = producer
		logger.Info("publishing audit events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	hub := relay.NewHub(relay.Config{SessionSendBuffer: cfg.SessionSendBuffer}, logger, geoIndex, events, audit)
	api := httpapi.NewServer(hub, cfg, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("relay listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rescue_events.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_rescue_events.sql")
}
