package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anthem-pipeline/internal/anthem"
	api "anthem-pipeline/internal/api"
	"anthem-pipeline/internal/config"
	"anthem-pipeline/internal/queue"
	"anthem-pipeline/internal/ratelimit"
	"anthem-pipeline/internal/storage"
	"anthem-pipeline/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := queue.NewClient(cfg)
	defer redisClient.Close()

	q := queue.New(redisClient, cfg.JobTypes)
	limiter := ratelimit.New(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	signer := storage.NewSigner(cfg.StorageSecret, cfg.StorageBaseURL, cfg.AudioS3Bucket)
	anthems := anthem.NewService(st, q, cfg.MaxAttempts)

	server := api.New(cfg, st, anthems, q, limiter, signer)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
