package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/xielinshan811-lab/svg-animate/internal/config"
	"github.com/xielinshan811-lab/svg-animate/internal/server"
	"github.com/xielinshan811-lab/svg-animate/internal/storage"
	"github.com/xielinshan811-lab/svg-animate/internal/storage/memory"
	"github.com/xielinshan811-lab/svg-animate/internal/storage/postgres"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found; relying on existing environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	var store storage.Store
	if cfg.DatabaseURL != "" {
		store, err = postgres.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("init database: %v", err)
		}
		logger.Info("using postgres store")
	} else {
		store = memory.NewStore()
		logger.Info("DATABASE_URL not set; using in-memory store")
	}
	defer store.Close()

	srv := server.New(cfg, logger, store)

	go func() {
		logger.Infof("svg-animate backend listening on %s", cfg.HTTPAddress())
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Errorf("graceful shutdown error: %v", err)
	}
}
