package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"anthem-pipeline/internal/anthem"
	"anthem-pipeline/internal/config"
	"anthem-pipeline/internal/models"
	"anthem-pipeline/internal/queue"
	"anthem-pipeline/internal/storage"
	"anthem-pipeline/internal/store"
	"anthem-pipeline/internal/synth"
	"anthem-pipeline/internal/telemetry"
	"anthem-pipeline/internal/worker"
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

	uploader, err := storage.NewUploader(ctx, cfg)
	if err != nil {
		log.Fatalf("init uploader: %v", err)
	}

	var gen synth.Generator
	if cfg.SynthURL != "" {
		gen = synth.NewClient(cfg.SynthURL, cfg.SynthTimeout)
	} else {
		gen = synth.NewEngine(cfg.SynthSegmentMs)
	}

	generator := anthem.NewGenerator(st, gen, uploader)

	processor := worker.NewProcessor(cfg, q)
	processor.RegisterHandler(models.JobTypeAnthemGeneration, generator.Handle)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started poll=%s max_attempts=%d", cfg.WorkerPollInterval, cfg.MaxAttempts)
	if err := processor.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("worker stopped: %v", err)
	}
}
