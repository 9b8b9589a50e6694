package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jo-hoe/goimagehost/internal/backend"
	"github.com/jo-hoe/goimagehost/internal/core"
	"github.com/jo-hoe/goimagehost/internal/lock"
	"github.com/jo-hoe/goimagehost/internal/logging"
	"github.com/jo-hoe/goimagehost/internal/metrics"
	"github.com/jo-hoe/goimagehost/internal/storage"
	"github.com/joho/godotenv"
)

const shutdownTimeout = 10 * time.Second

func loadConfig() (*core.ServiceConfig, error) {
	// An explicitly configured path must exist
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return core.LoadConfig(configPath)
	}

	// Default to config.yaml in current working directory, if present
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	configPath := filepath.Join(cwd, "config.yaml")
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return core.LoadConfigFromEnv()
	}
	return core.LoadConfig(configPath)
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	config, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(config.LogLevel, config.LogFormat)

	locker, err := lock.NewLocker(config.Lock.LockerConfig())
	if err != nil {
		slog.Error("failed to initialize locker", "error", err)
		os.Exit(1)
	}

	registry := metrics.NewRegistry()
	imageStorage := storage.NewLocalStorage(config.StorageDir, storage.NewNameGenerator(time.Now))
	imageService := core.NewImageService(config, imageStorage, locker, registry)

	server := backend.DefineServer(config, registry)
	apiService := backend.NewAPIService(config, imageService, registry)
	apiService.SetRoutes(server)

	portString := fmt.Sprintf(":%d", config.Port)

	// Start HTTP server in a goroutine to allow graceful shutdown
	go func() {
		slog.Info("server running", "address", portString, "base_url", config.BaseURL,
			"storage_dir", config.StorageDir, "url_prefix", config.URLPrefix)
		if err := server.Start(portString); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if err := imageService.Close(); err != nil {
		slog.Error("image service close error", "error", err)
	}
}
