package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"breathewell/api/internal/app"
	"breathewell/api/internal/avatars"
	"breathewell/api/internal/config"
	"breathewell/api/internal/docstore"
	"breathewell/api/internal/profile"
	"breathewell/api/internal/search"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	store, err := docstore.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer store.Close()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}
	local, err := profile.Open(filepath.Join(cfg.DataDir, "local"))
	if err != nil {
		log.Fatalf("local store failed: %v", err)
	}
	defer local.Close()

	var index search.Indexer
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		index = meiliClient
	}

	var avatarStore *avatars.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		avatarStore, err = avatars.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("avatar storage failed: %v", err)
		}
	}

	service := app.NewService(cfg, store, local, index, avatarStore)
	if err := service.Start(ctx); err != nil {
		log.Fatalf("failed to start live streams: %v", err)
	}
	defer service.Close()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("BreatheWell API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
