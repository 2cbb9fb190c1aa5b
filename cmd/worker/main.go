package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventattend/internal/config"
	"eventattend/internal/faceclient"
	"eventattend/internal/faces"
	"eventattend/internal/queue"
	"eventattend/internal/store"
)

// Worker consumes face gallery jobs and applies them to the face service.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend == "memory" {
		log.Fatal("QUEUE_BACKEND=memory is served by the api process; the worker needs redis")
	}
	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable yet, consumer will retry", cfg.RedisAddr)
	}
	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)

	// Check face service health on startup
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Printf("WARNING: Face service not available: %v", err)
			log.Println("Worker will retry face processing when jobs arrive")
		} else {
			log.Println("Face service connected")
		}
	}

	log.Println("worker started, waiting for jobs...")
	if err := faces.NewWorker(face, time.Minute).Run(ctx, q); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
	log.Println("worker stopped")
}
