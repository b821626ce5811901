// Package main provides the tracker server entry point. The server hosts
// the experiment tracking REST API backed by a SQL database and a
// versioned object store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tracklab/tracklab/pkg/authz"
	"github.com/tracklab/tracklab/pkg/blobstore"
	"github.com/tracklab/tracklab/pkg/config"
	"github.com/tracklab/tracklab/pkg/registry"
	"github.com/tracklab/tracklab/pkg/sequence"
	"github.com/tracklab/tracklab/pkg/server"
)

func main() {
	var (
		configPath   string
		listenAddr   string
		databaseType string
		databaseDSN  string
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (optional)")
	flag.StringVar(&listenAddr, "listen", "", "Address to listen on (overrides config)")
	flag.StringVar(&databaseType, "db-type", "", "Database type (postgres, mysql or sqlite; overrides config)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string (overrides config)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if databaseType != "" {
		cfg.Database.Type = databaseType
	}
	if databaseDSN != "" {
		cfg.Database.DSN = databaseDSN
	}

	logger.Info("starting tracker server",
		"listen", cfg.Listen,
		"dbType", cfg.Database.Type,
		"blobBackend", cfg.Blob.Backend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	gormDB, err := setupDatabase(cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	aclStore := authz.NewACLStore(gormDB)
	entityStore := registry.NewStore(gormDB)
	counter := sequence.NewCounter(gormDB)
	if err := aclStore.AutoMigrate(); err != nil {
		logger.Error("failed to migrate ACL tables", "error", err)
		os.Exit(1)
	}
	if err := entityStore.AutoMigrate(); err != nil {
		logger.Error("failed to migrate entity tables", "error", err)
		os.Exit(1)
	}
	if err := counter.AutoMigrate(); err != nil {
		logger.Error("failed to migrate sequence tables", "error", err)
		os.Exit(1)
	}

	backend, err := setupBlobBackend(cfg.Blob)
	if err != nil {
		logger.Error("failed to set up blob backend", "error", err)
		os.Exit(1)
	}
	files := blobstore.NewFileStore(backend, cfg.Blob.ChunkSize, logger)

	engine := authz.NewEngine(aclStore, logger)
	service := registry.NewService(entityStore, engine, counter, files, logger)
	srv := server.New(service, engine)

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.Routes(),
	}

	go func() {
		logger.Info("tracker server ready", "listen", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("tracker server stopped")
}

func setupDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required (use -db-dsn, the config file, or TRACKER_DATABASE_DSN)")
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database type %q", cfg.Type)
	}

	return gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}

func setupBlobBackend(cfg config.BlobConfig) (blobstore.Backend, error) {
	switch cfg.Backend {
	case "minio":
		return blobstore.NewMinioBackend(blobstore.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
		})
	case "memory":
		return blobstore.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
